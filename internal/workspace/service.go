package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"metagen/server/internal/events"
	"metagen/server/internal/generation"
	"metagen/server/internal/model"
	"metagen/server/internal/provider"
	"metagen/server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrClosed            = errors.New("workspace closed")
	ErrTooManyWorkspaces = errors.New("too many open workspaces for user")
	ErrUnknownScope      = errors.New("unknown alert scope")
	ErrAssetNotAttached  = errors.New("asset not attached")
)

// AssetReader resolves uploaded assets for attachment checks.
type AssetReader interface {
	GetAsset(ctx context.Context, id string) (model.Asset, error)
}

type Options struct {
	Limits    model.Limits
	Scheduler generation.Scheduler
	// Tracker builds the per-user analytics tracker handed to each
	// orchestrator. Nil disables tracking.
	Tracker           func(userID string) generation.Tracker
	Snapshots         store.SnapshotStore
	Sink              events.Sink
	Logger            *slog.Logger
	GenerationTimeout time.Duration
	MaxPerUser        int
}

type workspace struct {
	id        string
	userID    string
	createdAt time.Time

	mu        sync.Mutex
	input     generation.Input
	updatedAt time.Time

	orch  *generation.Orchestrator
	pubMu sync.Mutex
	// variantsVersion is the newest variants view published; guarded by pubMu.
	variantsVersion uint64
}

// Service owns the live workspaces of every user. Each workspace wraps one
// orchestrator; its changes are appended to the event log and fanned out to
// subscribers.
type Service struct {
	gen    provider.Generator
	assets AssetReader
	hub    *events.Hub
	events *store.EventLog
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	items  map[string]*workspace
	byUser map[string]int
}

func NewService(gen provider.Generator, assets AssetReader, hub *events.Hub, log *store.EventLog, opts Options) *Service {
	opts.Limits = opts.Limits.Normalize()
	if opts.Snapshots == nil {
		opts.Snapshots = store.NewMemorySnapshotStore(0)
	}
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxPerUser < 1 {
		opts.MaxPerUser = 20
	}
	if hub == nil {
		hub = events.NewHub()
	}
	if log == nil {
		log = store.NewEventLog(0)
	}
	return &Service{
		gen:    gen,
		assets: assets,
		hub:    hub,
		events: log,
		opts:   opts,
		log:    opts.Logger,
		items:  map[string]*workspace{},
		byUser: map[string]int{},
	}
}

func (s *Service) Limits() model.Limits { return s.opts.Limits }

type CreateRequest struct {
	SourceKind model.SourceKind    `json:"sourceKind"`
	HookText   string              `json:"hookText"`
	Tone       model.Tone          `json:"tone"`
	Enabled    *generation.Enabled `json:"enabled"`
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (View, error) {
	in := generation.Input{
		Source:   model.Source{Type: req.SourceKind},
		HookText: req.HookText,
		Tone:     req.Tone,
		Enabled:  generation.AllEnabled(),
	}
	if in.Source.Type == "" {
		in.Source.Type = model.SourceVideoFrames
	}
	if in.Tone == "" {
		in.Tone = model.ToneViral
	}
	if req.Enabled != nil {
		in.Enabled = *req.Enabled
	}
	if err := in.Validate(s.opts.Limits); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if s.byUser[userID] >= s.opts.MaxPerUser {
		s.mu.Unlock()
		return View{}, ErrTooManyWorkspaces
	}
	s.byUser[userID]++
	s.mu.Unlock()

	now := time.Now().UTC()
	ws := &workspace{
		id:        uuid.NewString(),
		userID:    userID,
		createdAt: now,
		updatedAt: now,
		input:     in,
	}
	s.attach(ws, nil, true)
	s.publish(ws, model.EventWorkspaceUpdated, map[string]any{"reason": "created"})
	s.save(ctx, ws)
	s.log.Info("workspace_created", "workspace_id", ws.id, "user_id", userID, "source", in.Source.Type)
	return s.view(ws), nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ws), nil
}

// Patch carries partial input updates. Nil fields are left unchanged.
type Patch struct {
	HookText          *string             `json:"hookText"`
	Tone              *model.Tone         `json:"tone"`
	SourceKind        *model.SourceKind   `json:"sourceKind"`
	Enabled           *generation.Enabled `json:"enabled"`
	VideoTitle        *string             `json:"videoTitle"`
	VideoDescription  *string             `json:"videoDescription"`
	AdditionalContext *string             `json:"additionalContext"`
}

func (s *Service) Update(ctx context.Context, userID, id string, p Patch) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.mu.Lock()
	next := ws.input
	next.Source.AssetIDs = slices.Clone(ws.input.Source.AssetIDs)
	if p.HookText != nil {
		next.HookText = *p.HookText
	}
	if p.Tone != nil {
		next.Tone = *p.Tone
	}
	if p.SourceKind != nil && *p.SourceKind != next.Source.Type {
		next.Source = model.Source{Type: *p.SourceKind}
	}
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.VideoTitle != nil {
		next.VideoTitle = *p.VideoTitle
	}
	if p.VideoDescription != nil {
		next.VideoDescription = *p.VideoDescription
	}
	if p.AdditionalContext != nil {
		next.AdditionalContext = *p.AdditionalContext
	}
	if err := next.Validate(s.opts.Limits); err != nil {
		ws.mu.Unlock()
		return View{}, err
	}
	ws.input = next
	ws.updatedAt = time.Now().UTC()
	ws.mu.Unlock()

	s.publish(ws, model.EventWorkspaceUpdated, map[string]any{"reason": "updated"})
	s.save(ctx, ws)
	return s.view(ws), nil
}

// AttachAsset adds an owned, ready asset to the workspace source. A video
// replaces the current one; images accumulate up to the image limit.
func (s *Service) AttachAsset(ctx context.Context, userID, id, assetID string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return View{}, err
	}
	if asset.UserID != userID {
		return View{}, store.ErrForbidden
	}
	if asset.Status != "" && asset.Status != "ready" {
		return View{}, &generation.ValidationError{Field: "assetId", Message: "asset is not ready"}
	}

	ws.mu.Lock()
	kind := ws.input.Source.Type
	if asset.Kind != kind.AssetKind() {
		ws.mu.Unlock()
		return View{}, &generation.ValidationError{Field: "assetId", Message: fmt.Sprintf("%s source requires a %s asset", kind, kind.AssetKind())}
	}
	ids := ws.input.Source.AssetIDs
	switch {
	case slices.Contains(ids, assetID):
	case kind == model.SourceVideoFrames:
		ids = []string{assetID}
	default:
		if limit := s.opts.Limits.ImageMaxCount; limit > 0 && len(ids) >= limit {
			ws.mu.Unlock()
			return View{}, &generation.ValidationError{Field: "assetId", Message: fmt.Sprintf("at most %d images can be attached", limit)}
		}
		ids = append(slices.Clone(ids), assetID)
	}
	ws.input.Source.AssetIDs = ids
	ws.updatedAt = time.Now().UTC()
	ws.mu.Unlock()

	s.publish(ws, model.EventWorkspaceUpdated, map[string]any{"reason": "asset_attached", "asset_id": assetID})
	s.save(ctx, ws)
	return s.view(ws), nil
}

func (s *Service) DetachAsset(ctx context.Context, userID, id, assetID string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.mu.Lock()
	idx := slices.Index(ws.input.Source.AssetIDs, assetID)
	if idx < 0 {
		ws.mu.Unlock()
		return View{}, ErrAssetNotAttached
	}
	ws.input.Source.AssetIDs = slices.Delete(slices.Clone(ws.input.Source.AssetIDs), idx, idx+1)
	ws.updatedAt = time.Now().UTC()
	ws.mu.Unlock()

	s.publish(ws, model.EventWorkspaceUpdated, map[string]any{"reason": "asset_detached", "asset_id": assetID})
	s.save(ctx, ws)
	return s.view(ws), nil
}

// Generate starts every enabled section and returns once they are loading.
// The calls outlive the request that started them.
func (s *Service) Generate(ctx context.Context, userID, id string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.mu.Lock()
	in := ws.input
	ws.mu.Unlock()

	runCtx, cancel := s.runContext(ctx, userID)
	run, err := ws.orch.Launch(runCtx, in)
	if err != nil {
		cancel()
		return View{}, s.mapErr(err)
	}
	go s.await(run, cancel)
	return s.view(ws), nil
}

func (s *Service) Retry(ctx context.Context, userID, id string, section generation.Section) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	runCtx, cancel := s.runContext(ctx, userID)
	run, err := ws.orch.LaunchRetry(runCtx, section)
	if err != nil {
		cancel()
		return View{}, s.mapErr(err)
	}
	go s.await(run, cancel)
	return s.view(ws), nil
}

// Regenerate asks for more thumbnail variants. At capacity it returns a
// *generation.CapacityError without calling the generator.
func (s *Service) Regenerate(ctx context.Context, userID, id string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.mu.Lock()
	in := ws.input
	ws.mu.Unlock()

	runCtx, cancel := s.runContext(ctx, userID)
	run, err := ws.orch.LaunchRegenerate(runCtx, in)
	if err != nil {
		cancel()
		return View{}, s.mapErr(err)
	}
	go s.await(run, cancel)
	return s.view(ws), nil
}

func (s *Service) Select(ctx context.Context, userID, id, variantID string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	if err := ws.orch.Select(variantID); err != nil {
		return View{}, err
	}
	s.save(ctx, ws)
	return s.view(ws), nil
}

func (s *Service) DismissAlert(ctx context.Context, userID, id, rawScope string) (View, error) {
	scope, ok := generation.ParseScope(rawScope)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownScope, rawScope)
	}
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.orch.DismissAlert(scope)
	return s.view(ws), nil
}

// Reset clears generated results but keeps the inputs.
func (s *Service) Reset(ctx context.Context, userID, id string) (View, error) {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	ws.orch.Reset()
	s.save(ctx, ws)
	return s.view(ws), nil
}

// Delete closes the workspace. Results of calls still running are discarded.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	ws, err := s.lookup(ctx, userID, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.items[id]; ok {
		delete(s.items, id)
		if s.byUser[ws.userID] > 0 {
			s.byUser[ws.userID]--
		}
	}
	s.mu.Unlock()

	ws.orch.Close()
	s.hub.CloseWorkspace(id)
	s.events.Drop(id)
	if err := s.opts.Snapshots.DeleteSnapshot(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("snapshot_delete_failed", "workspace_id", id, "error", err)
	}
	s.log.Info("workspace_deleted", "workspace_id", id, "user_id", userID)
	return nil
}

// Subscribe opens a live event stream after checking ownership.
func (s *Service) Subscribe(ctx context.Context, userID, id string, buf int) (<-chan model.WorkspaceEvent, func(), error) {
	if _, err := s.lookup(ctx, userID, id); err != nil {
		return nil, nil, err
	}
	_, ch, unsubscribe := s.hub.Subscribe(id, buf)
	return ch, unsubscribe, nil
}

func (s *Service) ListEventsFrom(ctx context.Context, userID, id string, fromSeq int64) ([]model.WorkspaceEvent, error) {
	if _, err := s.lookup(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.events.ListFromSeq(id, fromSeq), nil
}

// Shutdown closes every live workspace without deleting snapshots.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	items := make([]*workspace, 0, len(s.items))
	for _, ws := range s.items {
		items = append(items, ws)
	}
	s.items = map[string]*workspace{}
	s.byUser = map[string]int{}
	s.mu.Unlock()
	for _, ws := range items {
		s.save(ctx, ws)
		ws.orch.Close()
	}
}

func (s *Service) runContext(ctx context.Context, userID string) (context.Context, context.CancelFunc) {
	runCtx := provider.WithOwner(context.WithoutCancel(ctx), userID)
	if s.opts.GenerationTimeout > 0 {
		return context.WithTimeout(runCtx, s.opts.GenerationTimeout)
	}
	return context.WithCancel(runCtx)
}

func (s *Service) await(run *generation.Run, cancel context.CancelFunc) {
	<-run.Done()
	cancel()
}

func (s *Service) mapErr(err error) error {
	if errors.Is(err, generation.ErrClosed) {
		return ErrClosed
	}
	return err
}

// lookup returns the live workspace, restoring it from its snapshot when this
// process has not seen it yet.
func (s *Service) lookup(ctx context.Context, userID, id string) (*workspace, error) {
	s.mu.Lock()
	ws, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		var err error
		ws, err = s.restore(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if ws.userID != userID {
		return nil, store.ErrForbidden
	}
	return ws, nil
}

func (s *Service) restore(ctx context.Context, id string) (*workspace, error) {
	data, err := s.opts.Snapshots.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode workspace snapshot: %w", err)
	}
	ws := &workspace{
		id:        rec.ID,
		userID:    rec.UserID,
		createdAt: rec.CreatedAt,
		updatedAt: rec.UpdatedAt,
		input:     rec.Input,
	}
	registered := s.attach(ws, &rec.State, false)
	if registered == ws {
		s.log.Info("workspace_restored", "workspace_id", id, "user_id", rec.UserID)
	}
	return registered, nil
}

// attach builds the orchestrator for ws and registers it. When another
// caller registered the same id first, that workspace wins. reserved means
// the caller already counted ws against its user's limit.
func (s *Service) attach(ws *workspace, state *generation.State, reserved bool) *workspace {
	var tracker generation.Tracker
	if s.opts.Tracker != nil {
		tracker = s.opts.Tracker(ws.userID)
	}
	ws.orch = generation.New(s.gen, generation.Options{
		Limits:    s.opts.Limits,
		Scheduler: s.opts.Scheduler,
		Tracker:   tracker,
		Logger:    s.log.With("workspace_id", ws.id),
		OnChange:  func(ch generation.Change) { s.onChange(ws, ch) },
	})
	if state != nil {
		ws.orch.Restore(*state)
	}
	s.mu.Lock()
	if existing, ok := s.items[ws.id]; ok {
		s.mu.Unlock()
		ws.orch.Close()
		return existing
	}
	s.items[ws.id] = ws
	if !reserved {
		s.byUser[ws.userID]++
	}
	s.mu.Unlock()
	return ws
}

func (s *Service) onChange(ws *workspace, ch generation.Change) {
	switch ch.Type {
	case generation.ChangeSection:
		s.publish(ws, model.EventSectionChanged, map[string]any{"section": ch.Section})
	case generation.ChangeVariants:
		s.publishVariants(ws, ch.Variants)
	case generation.ChangeAlert:
		s.publish(ws, model.EventAlertChanged, map[string]any{"alert": ch.Alert.Alert, "removed": ch.Alert.Removed})
	case generation.ChangeSettled:
		evt := s.publish(ws, model.EventGenerationSettled, map[string]any{"summary": ch.Summary})
		ctx := context.Background()
		s.save(ctx, ws)
		if err := s.opts.Sink.Emit(ctx, evt); err != nil {
			s.log.Warn("event_sink_failed", "workspace_id", ws.id, "error", err)
		}
	}
}

// publish appends to the replay log before fanning out, so a subscriber that
// reconnects with its last seq never misses an event.
func (s *Service) publish(ws *workspace, eventType model.WorkspaceEventType, payload map[string]any) model.WorkspaceEvent {
	ws.pubMu.Lock()
	defer ws.pubMu.Unlock()
	return s.publishLocked(ws, eventType, payload)
}

// publishVariants drops a view older than one already published. Views are
// built under the orchestrator lock but delivered after it, so two of them
// can arrive out of order.
func (s *Service) publishVariants(ws *workspace, v *generation.VariantsView) {
	ws.pubMu.Lock()
	defer ws.pubMu.Unlock()
	if v.Version <= ws.variantsVersion {
		return
	}
	ws.variantsVersion = v.Version
	s.publishLocked(ws, model.EventVariantsChanged, map[string]any{"variants": v})
}

func (s *Service) publishLocked(ws *workspace, eventType model.WorkspaceEventType, payload map[string]any) model.WorkspaceEvent {
	evt := s.events.Append(model.WorkspaceEvent{
		WorkspaceID: ws.id,
		UserID:      ws.userID,
		Type:        eventType,
		TS:          time.Now().UTC(),
		Payload:     payload,
	})
	s.hub.Publish(ws.id, evt)
	return evt
}

func (s *Service) save(ctx context.Context, ws *workspace) {
	data, err := json.Marshal(s.record(ws))
	if err != nil {
		s.log.Error("snapshot_encode_failed", "workspace_id", ws.id, "error", err)
		return
	}
	if err := s.opts.Snapshots.SaveSnapshot(context.WithoutCancel(ctx), ws.id, data); err != nil {
		s.log.Warn("snapshot_save_failed", "workspace_id", ws.id, "error", err)
	}
}
