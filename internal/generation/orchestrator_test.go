package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"metagen/server/internal/model"
	"metagen/server/internal/provider"
)

func newTestOrchestrator(t *testing.T, gen provider.Generator) (*Orchestrator, *changeLog, *manualScheduler) {
	t.Helper()
	log := &changeLog{}
	sched := newManualScheduler()
	o := New(gen, Options{
		Limits:    model.DefaultLimits(),
		Scheduler: sched,
		Logger:    slog.Default(),
		OnChange:  log.record,
	})
	t.Cleanup(o.Close)
	return o, log, sched
}

func imagesInput() Input {
	return Input{
		Source:   model.Source{Type: model.SourceImages, AssetIDs: []string{"img1"}},
		HookText: "Top 5 tips",
		Tone:     model.ToneViral,
		Enabled:  AllEnabled(),
	}
}

func TestGenerateAllNoopWhenCannotGenerate(t *testing.T) {
	gen := newFakeGenerator()
	o, log, _ := newTestOrchestrator(t, gen)

	cases := map[string]Input{
		"nothing enabled": func() Input { in := imagesInput(); in.Enabled = Enabled{}; return in }(),
		"no assets":       func() Input { in := imagesInput(); in.Source.AssetIDs = nil; return in }(),
		"no video":        func() Input { in := imagesInput(); in.Source = model.Source{Type: model.SourceVideoFrames}; return in }(),
	}
	for name, in := range cases {
		if _, err := o.GenerateAll(context.Background(), in); !errors.Is(err, ErrCannotGenerate) {
			t.Fatalf("%s: expected ErrCannotGenerate, got %v", name, err)
		}
	}
	if log.len() != 0 {
		t.Fatalf("expected no changes, got %d", log.len())
	}
	st := o.Snapshot()
	for _, s := range Sections {
		if got := st.Section(s).Status; got != StatusIdle {
			t.Fatalf("section %s status=%s, want idle", s, got)
		}
	}
	if gen.count("thumbnails")+gen.count("description")+gen.count("tags") != 0 {
		t.Fatalf("no generation call expected")
	}
}

func TestGenerateAllRejectsLongHookText(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newFakeGenerator())
	in := imagesInput()
	in.HookText = string(make([]byte, 201))
	_, err := o.GenerateAll(context.Background(), in)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "hookText" {
		t.Fatalf("expected hookText validation error, got %v", err)
	}
}

func TestGenerateAllSettlesEveryEnabledSection(t *testing.T) {
	gen := newFakeGenerator()
	gen.description = func(model.DescriptionRequest) (model.DescriptionResult, error) {
		return model.DescriptionResult{}, provider.Upstream("Failed to generate description", errors.New("boom"))
	}
	o, _, _ := newTestOrchestrator(t, gen)

	summary, err := o.GenerateAll(context.Background(), imagesInput())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if st.Thumbnails.Status != StatusSuccess || st.Tags.Status != StatusSuccess {
		t.Fatalf("thumbnails=%s tags=%s, want success", st.Thumbnails.Status, st.Tags.Status)
	}
	if st.Description.Status != StatusError {
		t.Fatalf("description=%s, want error", st.Description.Status)
	}
	if st.Description.Error != "Failed to generate description" {
		t.Fatalf("message not surfaced verbatim: %q", st.Description.Error)
	}
	if len(summary.Succeeded) != 2 || summary.Failed[SectionDescription] == "" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Announcement != "Generation complete: 2 of 3 sections ready" {
		t.Fatalf("announcement=%q", summary.Announcement)
	}
	alert, ok := o.Alerts().Get(ScopeGenerate)
	if !ok || alert.Kind != AlertError {
		t.Fatalf("expected persistent error alert, got %+v", alert)
	}
}

func TestGenerateAllLeavesDisabledSectionsIdle(t *testing.T) {
	gen := newFakeGenerator()
	o, log, _ := newTestOrchestrator(t, gen)

	in := Input{
		Source:   model.Source{Type: model.SourceImages, AssetIDs: []string{"img1"}},
		HookText: "Top 5 tips",
		Tone:     model.ToneViral,
		Enabled:  Enabled{Thumbnails: true, Description: true},
	}
	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	for _, s := range []Section{SectionThumbnails, SectionDescription} {
		if got := st.Section(s).Status; got != StatusSuccess && got != StatusError {
			t.Fatalf("%s status=%s", s, got)
		}
	}
	if st.Tags.Status != StatusIdle {
		t.Fatalf("tags status=%s, want idle", st.Tags.Status)
	}
	if log.sectionChanges(SectionTags) != 0 || gen.count("tags") != 0 {
		t.Fatalf("tags section must not be touched")
	}
}

func TestGenerateAllIsAllSettled(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.tags = func(model.TagsRequest) (model.TagsResult, error) {
		<-release
		return model.TagsResult{Tags: []string{"slow", "tags"}}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)

	run, err := o.Launch(context.Background(), imagesInput())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := o.Snapshot()
		if st.Thumbnails.Status == StatusSuccess && st.Description.Status == StatusSuccess {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := o.Snapshot()
	if st.Thumbnails.Status != StatusSuccess || st.Description.Status != StatusSuccess {
		t.Fatalf("fast sections should settle before slow one: %s %s", st.Thumbnails.Status, st.Description.Status)
	}
	if st.Tags.Status != StatusLoading {
		t.Fatalf("tags=%s, want loading", st.Tags.Status)
	}
	select {
	case <-run.Done():
		t.Fatalf("run must wait for every section")
	default:
	}
	close(release)
	summary := run.Wait()
	if len(summary.Succeeded) != 3 {
		t.Fatalf("summary=%+v", summary)
	}
}

func TestLaunchRejectsBusySection(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.description = func(model.DescriptionRequest) (model.DescriptionResult, error) {
		<-release
		return model.DescriptionResult{Description: "done"}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)

	run, err := o.Launch(context.Background(), imagesInput())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := o.Launch(context.Background(), imagesInput()); !errors.Is(err, ErrSectionBusy) {
		t.Fatalf("expected ErrSectionBusy, got %v", err)
	}
	if _, err := o.LaunchRetry(context.Background(), SectionDescription); !errors.Is(err, ErrSectionBusy) {
		t.Fatalf("expected ErrSectionBusy on retry, got %v", err)
	}
	close(release)
	run.Wait()
	if gen.count("description") != 1 {
		t.Fatalf("description called %d times", gen.count("description"))
	}
}

func TestZeroVariantsFailsThumbnails(t *testing.T) {
	gen := newFakeGenerator()
	gen.thumbnails = func(model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)

	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if st.Thumbnails.Status != StatusError {
		t.Fatalf("thumbnails=%s, want error", st.Thumbnails.Status)
	}
	if len(st.Variants) != 0 {
		t.Fatalf("expected empty collection")
	}
}

func TestInitialBatchSeedsAndSelectsFirst(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)

	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if len(st.Variants) != 3 {
		t.Fatalf("variants=%d, want 3", len(st.Variants))
	}
	if st.SelectedVariantID != st.Variants[0].ID {
		t.Fatalf("selected=%q, want first variant", st.SelectedVariantID)
	}
}

func TestPartialBatchAccepted(t *testing.T) {
	gen := newFakeGenerator()
	gen.thumbnails = func(model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{Variants: gen.makeVariants(1)}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)
	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if st.Thumbnails.Status != StatusSuccess || len(st.Variants) != 1 {
		t.Fatalf("status=%s variants=%d", st.Thumbnails.Status, len(st.Variants))
	}
}

func TestRegenerateAppendsUpToCapacity(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()

	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := o.Snapshot().Variants

	// 3 + 3 = 6, then the cap is reached.
	summary, err := o.Regenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if summary.Appended != 3 {
		t.Fatalf("appended=%d, want 3", summary.Appended)
	}
	st := o.Snapshot()
	if len(st.Variants) != 6 {
		t.Fatalf("variants=%d, want 6", len(st.Variants))
	}
	for i, v := range before {
		if st.Variants[i].ID != v.ID {
			t.Fatalf("existing variant %d moved: %s != %s", i, st.Variants[i].ID, v.ID)
		}
	}
	if st.SelectedVariantID != before[0].ID {
		t.Fatalf("regenerate must not change selection")
	}
	if st.RegenerationCount != 1 {
		t.Fatalf("regenerationCount=%d", st.RegenerationCount)
	}

	calls := gen.count("regenerate")
	_, err = o.Regenerate(context.Background(), in)
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.Max != 6 {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if gen.count("regenerate") != calls {
		t.Fatalf("no network call expected at capacity")
	}
	alert, ok := o.Alerts().Get(ScopeRegenerate)
	if !ok || alert.Kind != AlertWarning || alert.Message != CapacityWarning {
		t.Fatalf("expected limit warning, got %+v", alert)
	}
}

func TestRegenerateFromFiveRequestsOne(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()
	o.Restore(State{Variants: gen.makeVariants(5), SelectedVariantID: "v1"})

	// The service over-delivers; only the remaining slot is kept.
	gen.regenerate = func(model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{Variants: gen.makeVariants(3)}, nil
	}
	summary, err := o.Regenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if gen.lastRegenReq.Count != 1 {
		t.Fatalf("requested %d, want 1", gen.lastRegenReq.Count)
	}
	if summary.Appended != 1 || len(o.Snapshot().Variants) != 6 {
		t.Fatalf("appended=%d len=%d", summary.Appended, len(o.Snapshot().Variants))
	}
	if _, err := o.Regenerate(context.Background(), in); err == nil {
		t.Fatalf("expected capacity error")
	}
	if gen.count("regenerate") != 1 {
		t.Fatalf("regenerate calls=%d, want 1", gen.count("regenerate"))
	}
}

func TestRegenerateFailureKeepsVariants(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()
	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}
	gen.regenerate = func(model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{}, provider.RateLimited(nil)
	}
	summary, err := o.Regenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if summary.Failed[SectionThumbnails] == "" {
		t.Fatalf("expected failure in summary")
	}
	st := o.Snapshot()
	if st.Thumbnails.Status != StatusError || len(st.Variants) != 3 {
		t.Fatalf("status=%s variants=%d", st.Thumbnails.Status, len(st.Variants))
	}
	if st.Thumbnails.Data == nil || len(*st.Thumbnails.Data) != 3 {
		t.Fatalf("prior data must survive a failure")
	}
}

func TestSelectUnknownVariantKeepsSelection(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if err := o.Select("missing"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if got := o.Snapshot().SelectedVariantID; got != st.SelectedVariantID {
		t.Fatalf("selection changed to %q", got)
	}
	if err := o.Select(st.Variants[2].ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got := o.Snapshot().SelectedVariantID; got != st.Variants[2].ID {
		t.Fatalf("selected=%q", got)
	}
}

func TestRetrySectionLeavesOthersUntouched(t *testing.T) {
	gen := newFakeGenerator()
	fail := true
	gen.tags = func(model.TagsRequest) (model.TagsResult, error) {
		if fail {
			return model.TagsResult{}, provider.Upstream("Failed to generate tags", nil)
		}
		return model.TagsResult{Tags: []string{"retry", "worked"}}, nil
	}
	o, log, _ := newTestOrchestrator(t, gen)

	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := o.Snapshot()
	if before.Tags.Status != StatusError {
		t.Fatalf("tags=%s, want error", before.Tags.Status)
	}
	thumbChanges := log.sectionChanges(SectionThumbnails)
	descChanges := log.sectionChanges(SectionDescription)

	fail = false
	if _, err := o.RetrySection(context.Background(), SectionTags); err != nil {
		t.Fatalf("retry: %v", err)
	}
	after := o.Snapshot()
	if after.Tags.Status != StatusSuccess {
		t.Fatalf("tags=%s after retry", after.Tags.Status)
	}
	if after.Thumbnails.Status != before.Thumbnails.Status || after.Description.Status != before.Description.Status {
		t.Fatalf("other sections changed status")
	}
	if *after.Description.Data != *before.Description.Data || len(after.Variants) != len(before.Variants) {
		t.Fatalf("other sections changed data")
	}
	if log.sectionChanges(SectionThumbnails) != thumbChanges || log.sectionChanges(SectionDescription) != descChanges {
		t.Fatalf("retry emitted changes for other sections")
	}
	if gen.count("thumbnails") != 1 || gen.count("description") != 1 {
		t.Fatalf("retry re-ran other sections")
	}
}

func TestRetryWithoutPreviousInput(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, newFakeGenerator())
	if _, err := o.RetrySection(context.Background(), SectionTags); !errors.Is(err, ErrNoPreviousInput) {
		t.Fatalf("expected ErrNoPreviousInput, got %v", err)
	}
}

func TestExampleScenarioThumbnailsAndDescriptionOnly(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := Input{
		HookText: "Top 5 tips",
		Tone:     model.ToneViral,
		Source:   model.Source{Type: model.SourceImages, AssetIDs: []string{"img1"}},
		Enabled:  Enabled{Thumbnails: true, Description: true, Tags: false},
	}
	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	if s := st.Thumbnails.Status; s != StatusSuccess && s != StatusError {
		t.Fatalf("thumbnails=%s", s)
	}
	if s := st.Description.Status; s != StatusSuccess && s != StatusError {
		t.Fatalf("description=%s", s)
	}
	if st.Tags.Status != StatusIdle {
		t.Fatalf("tags=%s, want idle", st.Tags.Status)
	}
}

func TestCloseDiscardsInFlightResults(t *testing.T) {
	gen := newFakeGenerator()
	release := make(chan struct{})
	gen.description = func(model.DescriptionRequest) (model.DescriptionResult, error) {
		<-release
		return model.DescriptionResult{Description: "late"}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()
	in.Enabled = Enabled{Description: true}

	run, err := o.Launch(context.Background(), in)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	o.Close()
	close(release)
	summary := run.Wait()
	if !summary.Discarded {
		t.Fatalf("expected discarded summary")
	}
	if st := o.Snapshot(); st.Description.Status != StatusLoading || st.Description.Data != nil {
		t.Fatalf("late result applied: %+v", st.Description)
	}
	if _, err := o.Launch(context.Background(), imagesInput()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTagsUseGeneratedDescriptionOnRetry(t *testing.T) {
	gen := newFakeGenerator()
	var got string
	gen.tags = func(req model.TagsRequest) (model.TagsResult, error) {
		got = req.Description
		return model.TagsResult{Tags: []string{"one", "two"}}, nil
	}
	o, _, _ := newTestOrchestrator(t, gen)
	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := o.RetrySection(context.Background(), SectionTags); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "a generated description" {
		t.Fatalf("tags context=%q", got)
	}
}

func TestSnapshotRestoreSettlesLoading(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	if _, err := o.GenerateAll(context.Background(), imagesInput()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := o.Snapshot()
	st.Tags.Status = StatusLoading
	st.SelectedVariantID = "gone"

	restored, _, _ := newTestOrchestrator(t, gen)
	restored.Restore(st)
	got := restored.Snapshot()
	if got.Tags.Status != StatusIdle {
		t.Fatalf("loading section should come back idle, got %s", got.Tags.Status)
	}
	if got.Tags.Data == nil || len(*got.Tags.Data) != 2 {
		t.Fatalf("idle section should keep its earlier data: %+v", got.Tags)
	}
	if got.SelectedVariantID != "" {
		t.Fatalf("dangling selection must be dropped")
	}
	if len(got.Variants) != 3 || got.LastInput == nil {
		t.Fatalf("restore lost state: %+v", got)
	}
	if _, err := restored.RetrySection(context.Background(), SectionDescription); err != nil {
		t.Fatalf("retry after restore: %v", err)
	}
}

func TestVariantsViewsCarryIncreasingVersions(t *testing.T) {
	gen := newFakeGenerator()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	log := &changeLog{}
	o := New(gen, Options{
		Limits:    model.DefaultLimits(),
		Scheduler: newManualScheduler(),
		Logger:    slog.Default(),
		OnChange: func(ch Change) {
			log.record(ch)
			if ch.Type == ChangeVariants && ch.Variants.SelectedVariantID == "v2" && len(ch.Variants.Items) == 3 {
				once.Do(func() { close(entered) })
				<-release
			}
		},
	})
	t.Cleanup(o.Close)
	in := imagesInput()
	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}

	selected := make(chan error, 1)
	go func() { selected <- o.Select("v2") }()
	<-entered
	if _, err := o.Regenerate(context.Background(), in); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	close(release)
	if err := <-selected; err != nil {
		t.Fatalf("select: %v", err)
	}

	var last, newest *VariantsView
	for _, ch := range log.snapshot() {
		if ch.Type != ChangeVariants {
			continue
		}
		last = ch.Variants
		if newest == nil || ch.Variants.Version > newest.Version {
			newest = ch.Variants
		}
	}
	if len(last.Items) != 3 {
		t.Fatalf("select view should arrive last, got %d items", len(last.Items))
	}
	if last.Version >= newest.Version {
		t.Fatalf("late select view must be older: last=%d newest=%d", last.Version, newest.Version)
	}
	st := o.Snapshot()
	if len(newest.Items) != len(st.Variants) || newest.SelectedVariantID != st.SelectedVariantID {
		t.Fatalf("newest view %d/%s does not match state %d/%s", len(newest.Items), newest.SelectedVariantID, len(st.Variants), st.SelectedVariantID)
	}
}

func TestRetryAfterFailedRegenerateAppends(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()
	if _, err := o.GenerateAll(context.Background(), in); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := o.Select("v3"); err != nil {
		t.Fatalf("select: %v", err)
	}
	gen.regenerate = func(model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{}, provider.Upstream("Failed to generate thumbnails", errors.New("boom"))
	}
	summary, err := o.Regenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(summary.Failed) != 1 || o.Snapshot().Thumbnails.Status != StatusError {
		t.Fatalf("expected failed regenerate, got %+v", summary)
	}

	gen.regenerate = func(req model.ThumbnailRequest) (model.ThumbnailResult, error) {
		return model.ThumbnailResult{Variants: gen.makeVariants(req.Count)}, nil
	}
	summary, err = o.RetrySection(context.Background(), SectionThumbnails)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if summary.Kind != RunRetry || summary.Appended != 3 {
		t.Fatalf("retry summary=%+v", summary)
	}
	st := o.Snapshot()
	ids := make([]string, 0, len(st.Variants))
	for _, v := range st.Variants {
		ids = append(ids, v.ID)
	}
	if len(ids) != 6 || ids[0] != "v1" || ids[2] != "v3" {
		t.Fatalf("retry must keep earlier variants, got %v", ids)
	}
	if st.SelectedVariantID != "v3" {
		t.Fatalf("selection changed to %q", st.SelectedVariantID)
	}
	if gen.count("thumbnails") != 1 || gen.count("regenerate") != 2 {
		t.Fatalf("calls thumbnails=%d regenerate=%d", gen.count("thumbnails"), gen.count("regenerate"))
	}
	if st.Thumbnails.Status != StatusSuccess {
		t.Fatalf("thumbnails status=%s", st.Thumbnails.Status)
	}
}

func TestRegenerateWhileInFlightIsBusy(t *testing.T) {
	gen := newFakeGenerator()
	o, _, _ := newTestOrchestrator(t, gen)
	in := imagesInput()
	o.Restore(State{Variants: gen.makeVariants(2)})

	started := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	gen.regenerate = func(req model.ThumbnailRequest) (model.ThumbnailResult, error) {
		first.Do(func() {
			close(started)
			<-release
		})
		return model.ThumbnailResult{Variants: gen.makeVariants(req.Count)}, nil
	}

	run, err := o.LaunchRegenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	<-started
	if _, err := o.LaunchRegenerate(context.Background(), in); !errors.Is(err, ErrSectionBusy) {
		t.Fatalf("expected ErrSectionBusy, got %v", err)
	}
	if gen.count("regenerate") != 1 {
		t.Fatalf("regenerate calls=%d, want 1", gen.count("regenerate"))
	}
	close(release)
	if summary := run.Wait(); summary.Appended != 3 {
		t.Fatalf("first regenerate appended %d", summary.Appended)
	}

	summary, err := o.Regenerate(context.Background(), in)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if gen.lastRegenReq.Count != 1 || summary.Appended != 1 {
		t.Fatalf("second regenerate asked %d appended %d, want 1", gen.lastRegenReq.Count, summary.Appended)
	}
	if len(o.Snapshot().Variants) != 6 {
		t.Fatalf("len=%d", len(o.Snapshot().Variants))
	}
}
