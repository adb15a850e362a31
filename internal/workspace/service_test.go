package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"metagen/server/internal/events"
	"metagen/server/internal/generation"
	"metagen/server/internal/model"
	"metagen/server/internal/provider"
	"metagen/server/internal/store"

	"github.com/google/uuid"
)

// idleScheduler never fires, so alerts stay visible for inspection.
type idleScheduler struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleScheduler) Now() time.Time { return time.Now() }

func (idleScheduler) AfterFunc(time.Duration, func()) generation.Timer { return idleTimer{} }

// gatedGenerator blocks every call until release is closed.
type gatedGenerator struct {
	provider.Generator
	release chan struct{}
}

func (g *gatedGenerator) wait(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	if err := g.wait(ctx); err != nil {
		return model.ThumbnailResult{}, err
	}
	return g.Generator.GenerateThumbnails(ctx, req)
}

func (g *gatedGenerator) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	if err := g.wait(ctx); err != nil {
		return model.DescriptionResult{}, err
	}
	return g.Generator.GenerateDescription(ctx, req)
}

func (g *gatedGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	if err := g.wait(ctx); err != nil {
		return model.TagsResult{}, err
	}
	return g.Generator.GenerateTags(ctx, req)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.WorkspaceEvent
}

func (r *recordingSink) Emit(_ context.Context, evt model.WorkspaceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) snapshot() []model.WorkspaceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WorkspaceEvent(nil), r.events...)
}

type fixture struct {
	svc       *Service
	store     *store.MemoryStore
	snapshots *store.MemorySnapshotStore
	sink      *recordingSink
}

func setup(t *testing.T, gen provider.Generator) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	snaps := store.NewMemorySnapshotStore(0)
	sink := &recordingSink{}
	svc := NewService(gen, st, events.NewHub(), store.NewEventLog(0), Options{
		Limits:    model.DefaultLimits(),
		Scheduler: idleScheduler{},
		Snapshots: snaps,
		Sink:      sink,
	})
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return fixture{svc: svc, store: st, snapshots: snaps, sink: sink}
}

func addAsset(t *testing.T, st *store.MemoryStore, userID string, kind model.AssetKind) string {
	t.Helper()
	a := model.Asset{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		FileName:  "clip",
		Status:    "ready",
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateAsset(context.Background(), a); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a.ID
}

func waitForStatus(t *testing.T, svc *Service, userID, id string, want generation.Status) View {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v, err := svc.Get(context.Background(), userID, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		done := true
		for _, s := range generation.Sections {
			if v.State.Section(s).Status != want {
				done = false
			}
		}
		if done {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workspace did not reach %s in time", want)
	return View{}
}

func mockGen() provider.Generator {
	return provider.NewMockGenerator(model.DefaultLimits(), provider.WithLatency(0, 0))
}

func TestGenerateRunsAllSectionsAndPersists(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()

	v, err := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceVideoFrames, HookText: "Go in 10 minutes"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.CanGenerate {
		t.Fatalf("workspace without an asset must not be able to generate")
	}
	if _, err := f.svc.Generate(ctx, "u1", v.ID); !errors.Is(err, generation.ErrCannotGenerate) {
		t.Fatalf("expected ErrCannotGenerate, got %v", err)
	}

	assetID := addAsset(t, f.store, "u1", model.AssetVideo)
	if v, err = f.svc.AttachAsset(ctx, "u1", v.ID, assetID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !v.CanGenerate {
		t.Fatalf("expected canGenerate after attach")
	}
	if _, err := f.svc.Generate(ctx, "u1", v.ID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	done := waitForStatus(t, f.svc, "u1", v.ID, generation.StatusSuccess)
	if len(done.State.Variants) != 3 {
		t.Fatalf("variants=%d, want 3", len(done.State.Variants))
	}

	deadline := time.Now().Add(time.Second)
	for len(f.sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	emitted := f.sink.snapshot()
	if len(emitted) != 1 || emitted[0].Type != model.EventGenerationSettled {
		t.Fatalf("expected one settled event on the sink, got %d", len(emitted))
	}

	evts, err := f.svc.ListEventsFrom(ctx, "u1", v.ID, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var sawSection, sawVariants bool
	for i, e := range evts {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
		sawSection = sawSection || e.Type == model.EventSectionChanged
		sawVariants = sawVariants || e.Type == model.EventVariantsChanged
	}
	if !sawSection || !sawVariants {
		t.Fatalf("missing section/variants events in %d events", len(evts))
	}
}

func TestGenerateReturnsWithSectionsLoading(t *testing.T) {
	gate := &gatedGenerator{Generator: mockGen(), release: make(chan struct{})}
	f := setup(t, gate)
	ctx := context.Background()

	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceImages})
	v, err := f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetImage))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	v, err = f.svc.Generate(ctx, "u1", v.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, s := range generation.Sections {
		if v.State.Section(s).Status != generation.StatusLoading {
			t.Fatalf("section %s status=%s, want loading", s, v.State.Section(s).Status)
		}
	}
	if _, err := f.svc.Generate(ctx, "u1", v.ID); !errors.Is(err, generation.ErrSectionBusy) {
		t.Fatalf("expected ErrSectionBusy, got %v", err)
	}
	close(gate.release)
	waitForStatus(t, f.svc, "u1", v.ID, generation.StatusSuccess)
}

func TestAttachAssetChecksOwnershipAndKind(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceVideoFrames})

	if _, err := f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u2", model.AssetVideo)); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	var verr *generation.ValidationError
	if _, err := f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetImage)); !errors.As(err, &verr) {
		t.Fatalf("expected kind mismatch validation error, got %v", err)
	}

	first := addAsset(t, f.store, "u1", model.AssetVideo)
	second := addAsset(t, f.store, "u1", model.AssetVideo)
	f.svc.AttachAsset(ctx, "u1", v.ID, first)
	v, err := f.svc.AttachAsset(ctx, "u1", v.ID, second)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(v.AssetIDs) != 1 || v.AssetIDs[0] != second {
		t.Fatalf("video should replace, got %v", v.AssetIDs)
	}
	if v, err = f.svc.DetachAsset(ctx, "u1", v.ID, second); err != nil || len(v.AssetIDs) != 0 {
		t.Fatalf("detach: %v %v", v.AssetIDs, err)
	}
	if _, err := f.svc.DetachAsset(ctx, "u1", v.ID, second); !errors.Is(err, ErrAssetNotAttached) {
		t.Fatalf("expected ErrAssetNotAttached, got %v", err)
	}
}

func TestImageAttachmentLimit(t *testing.T) {
	f := setup(t, mockGen())
	f.svc.opts.Limits.ImageMaxCount = 2
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceImages})
	for i := 0; i < 2; i++ {
		if _, err := f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetImage)); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	var verr *generation.ValidationError
	if _, err := f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetImage)); !errors.As(err, &verr) {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestUpdateValidatesHookText(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{})
	if v.SourceKind != model.SourceVideoFrames || v.Tone != model.ToneViral {
		t.Fatalf("unexpected defaults %+v", v)
	}

	long := strings.Repeat("x", 201)
	var verr *generation.ValidationError
	if _, err := f.svc.Update(ctx, "u1", v.ID, Patch{HookText: &long}); !errors.As(err, &verr) || verr.Field != "hookText" {
		t.Fatalf("expected hookText validation error, got %v", err)
	}
	hook := "Better hook"
	tone := model.ToneCuriosity
	v, err := f.svc.Update(ctx, "u1", v.ID, Patch{HookText: &hook, Tone: &tone})
	if err != nil || v.HookText != hook || v.Tone != tone {
		t.Fatalf("update: %+v %v", v, err)
	}
}

func TestOtherUsersCannotAccessWorkspace(t *testing.T) {
	f := setup(t, mockGen())
	v, _ := f.svc.Create(context.Background(), "u1", CreateRequest{})
	if _, err := f.svc.Get(context.Background(), "u2", v.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "u1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegenerateAtCapacityWarnsWithoutCall(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceVideoFrames, HookText: "hook"})
	f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetVideo))
	f.svc.Generate(ctx, "u1", v.ID)
	waitForStatus(t, f.svc, "u1", v.ID, generation.StatusSuccess)

	if _, err := f.svc.Regenerate(ctx, "u1", v.ID); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, _ := f.svc.Get(ctx, "u1", v.ID)
		if len(got.State.Variants) == 6 && got.State.Thumbnails.Status == generation.StatusSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("regenerate did not fill the collection")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err := f.svc.Regenerate(ctx, "u1", v.ID)
	var capErr *generation.CapacityError
	if !errors.As(err, &capErr) || capErr.Max != 6 {
		t.Fatalf("expected capacity error, got %v", err)
	}
	got, _ := f.svc.Get(ctx, "u1", v.ID)
	var warned bool
	for _, a := range got.State.Alerts {
		warned = warned || (a.Scope == generation.ScopeRegenerate && a.Kind == generation.AlertWarning)
	}
	if !warned {
		t.Fatalf("expected regenerate warning, got %+v", got.State.Alerts)
	}
}

func TestSelectAndDismiss(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceVideoFrames})
	f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetVideo))
	f.svc.Generate(ctx, "u1", v.ID)
	done := waitForStatus(t, f.svc, "u1", v.ID, generation.StatusSuccess)

	pick := done.State.Variants[1].ID
	v, err := f.svc.Select(ctx, "u1", v.ID, pick)
	if err != nil || v.State.SelectedVariantID != pick {
		t.Fatalf("select: %v %s", err, v.State.SelectedVariantID)
	}
	if _, err := f.svc.Select(ctx, "u1", v.ID, "nope"); !errors.Is(err, generation.ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if v, _ = f.svc.Get(ctx, "u1", v.ID); v.State.SelectedVariantID != pick {
		t.Fatalf("unknown id changed selection to %q", v.State.SelectedVariantID)
	}

	if _, err := f.svc.DismissAlert(ctx, "u1", v.ID, "bogus"); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("expected ErrUnknownScope, got %v", err)
	}
	v, err = f.svc.DismissAlert(ctx, "u1", v.ID, string(generation.ScopeGenerate))
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	for _, a := range v.State.Alerts {
		if a.Scope == generation.ScopeGenerate {
			t.Fatalf("generate alert still present")
		}
	}
}

func TestRestoreFromSnapshotSettlesLoadingSections(t *testing.T) {
	gate := &gatedGenerator{Generator: mockGen(), release: make(chan struct{})}
	f := setup(t, gate)
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{SourceKind: model.SourceVideoFrames, HookText: "persist me"})
	f.svc.AttachAsset(ctx, "u1", v.ID, addAsset(t, f.store, "u1", model.AssetVideo))
	if _, err := f.svc.Generate(ctx, "u1", v.ID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	// Shutdown persists the workspace while its sections are still loading.
	f.svc.Shutdown(ctx)
	close(gate.release)

	other := NewService(mockGen(), f.store, events.NewHub(), store.NewEventLog(0), Options{
		Scheduler: idleScheduler{},
		Snapshots: f.snapshots,
	})
	defer other.Shutdown(ctx)
	restored, err := other.Get(ctx, "u1", v.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.HookText != "persist me" || len(restored.AssetIDs) != 1 {
		t.Fatalf("inputs not restored: %+v", restored)
	}
	for _, s := range generation.Sections {
		if st := restored.State.Section(s).Status; st == generation.StatusLoading {
			t.Fatalf("section %s restored as loading", s)
		}
	}
}

func TestDeleteClosesWorkspace(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, _ := f.svc.Create(ctx, "u1", CreateRequest{})
	ch, unsubscribe, err := f.svc.Subscribe(ctx, "u1", v.ID, 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := f.svc.Delete(ctx, "u1", v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("subscription should be closed")
	}
	if _, err := f.svc.Get(ctx, "u1", v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestWorkspaceLimitPerUser(t *testing.T) {
	f := setup(t, mockGen())
	f.svc.opts.MaxPerUser = 1
	if _, err := f.svc.Create(context.Background(), "u1", CreateRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), "u1", CreateRequest{}); !errors.Is(err, ErrTooManyWorkspaces) {
		t.Fatalf("expected ErrTooManyWorkspaces, got %v", err)
	}
}

func TestConcurrentCreateRespectsLimit(t *testing.T) {
	f := setup(t, mockGen())
	f.svc.opts.MaxPerUser = 3

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), "u1", CreateRequest{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created, refused := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrTooManyWorkspaces):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 3 || refused != 7 {
		t.Fatalf("created=%d refused=%d, want 3 and 7", created, refused)
	}
}

func TestStaleVariantsViewIsNotPublished(t *testing.T) {
	f := setup(t, mockGen())
	ctx := context.Background()
	v, err := f.svc.Create(ctx, "u1", CreateRequest{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.svc.mu.Lock()
	ws := f.svc.items[v.ID]
	f.svc.mu.Unlock()

	newer := &generation.VariantsView{Version: 5, Items: []model.ThumbnailVariant{{ID: "a"}, {ID: "b"}}, SelectedVariantID: "b"}
	older := &generation.VariantsView{Version: 4, Items: []model.ThumbnailVariant{{ID: "a"}}, SelectedVariantID: "a"}
	f.svc.onChange(ws, generation.Change{Type: generation.ChangeVariants, Variants: newer})
	f.svc.onChange(ws, generation.Change{Type: generation.ChangeVariants, Variants: older})

	evts, err := f.svc.ListEventsFrom(ctx, "u1", v.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var published []*generation.VariantsView
	for _, e := range evts {
		if e.Type == model.EventVariantsChanged {
			published = append(published, e.Payload["variants"].(*generation.VariantsView))
		}
	}
	if len(published) != 1 || published[0].Version != 5 {
		t.Fatalf("expected only the newer view, got %+v", published)
	}
}
