package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"metagen/server/internal/model"
	"metagen/server/internal/provider"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrNoPreviousInput = errors.New("no previous generation to retry")
	ErrClosed          = errors.New("orchestrator closed")
)

var tracer = otel.Tracer("metagen/generation")

// SectionError is a failed generation call, reported on its section only.
type SectionError struct {
	Section Section
	Message string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Section, e.Message)
}

// Tracker receives product analytics. Failures stay inside the tracker.
type Tracker interface {
	Track(ctx context.Context, name string, params map[string]any)
}

type NopTracker struct{}

func (NopTracker) Track(context.Context, string, map[string]any) {}

type ChangeType string

const (
	ChangeSection  ChangeType = "section"
	ChangeVariants ChangeType = "variants"
	ChangeAlert    ChangeType = "alert"
	ChangeSettled  ChangeType = "settled"
)

// Change is delivered to the observer after every state transition, outside
// the orchestrator lock.
type Change struct {
	Type     ChangeType    `json:"type"`
	Section  *SectionView  `json:"section,omitempty"`
	Variants *VariantsView `json:"variants,omitempty"`
	Alert    *AlertChange  `json:"alert,omitempty"`
	Summary  *Summary      `json:"summary,omitempty"`
}

// VariantsView is a copy of the collection. Version increases with every view
// built, so an observer that receives two views out of order keeps the one
// with the higher Version.
type VariantsView struct {
	Version           uint64                   `json:"version"`
	Items             []model.ThumbnailVariant `json:"items"`
	SelectedVariantID string                   `json:"selectedVariantId,omitempty"`
	Max               int                      `json:"max"`
	Remaining         int                      `json:"remaining"`
	RegenerationCount int                      `json:"regenerationCount"`
}

type RunKind string

const (
	RunGenerate   RunKind = "generate"
	RunRetry      RunKind = "retry"
	RunRegenerate RunKind = "regenerate"
)

type Summary struct {
	Kind         RunKind            `json:"kind"`
	Requested    []Section          `json:"requested"`
	Succeeded    []Section          `json:"succeeded"`
	Failed       map[Section]string `json:"failed,omitempty"`
	Appended     int                `json:"appended,omitempty"`
	Discarded    bool               `json:"discarded,omitempty"`
	Announcement string             `json:"announcement"`
}

// Run is one in-flight launch. Wait blocks until every section it started has
// settled.
type Run struct {
	done    chan struct{}
	summary Summary
}

func newRun(kind RunKind, sections []Section) *Run {
	return &Run{
		done:    make(chan struct{}),
		summary: Summary{Kind: kind, Requested: sections, Succeeded: []Section{}},
	}
}

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Wait() Summary {
	<-r.done
	return r.summary
}

type Options struct {
	Limits    model.Limits
	Scheduler Scheduler
	Tracker   Tracker
	Logger    *slog.Logger
	OnChange  func(Change)
}

// Orchestrator coordinates the thumbnails, description and tags sections of
// one session. Sections settle independently; a failure in one never touches
// the others.
type Orchestrator struct {
	gen      provider.Generator
	limits   model.Limits
	tracker  Tracker
	log      *slog.Logger
	onChange func(Change)
	alerts   *AlertCenter

	mu            sync.Mutex
	thumbnails    SectionState[[]model.ThumbnailVariant]
	description   SectionState[string]
	tags          SectionState[[]string]
	variants      *VariantCollection
	regenerations int
	last          *Input
	epoch         uint64
	closed        bool
	viewVersion   uint64
	thumbsKind    RunKind
	regenInput    *Input
}

func New(gen provider.Generator, opts Options) *Orchestrator {
	limits := opts.Limits.Normalize()
	o := &Orchestrator{
		gen:      gen,
		limits:   limits,
		tracker:  opts.Tracker,
		log:      opts.Logger,
		onChange: opts.OnChange,
		variants: NewVariantCollection(limits.VariantsMax),
	}
	if o.tracker == nil {
		o.tracker = NopTracker{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.onChange == nil {
		o.onChange = func(Change) {}
	}
	o.thumbnails.Reset()
	o.description.Reset()
	o.tags.Reset()
	o.alerts = NewAlertCenter(opts.Scheduler, limits.AlertVisibleFor, limits.AlertFadeFor, func(ch AlertChange) {
		o.onChange(Change{Type: ChangeAlert, Alert: &ch})
	})
	return o
}

func (o *Orchestrator) Limits() model.Limits { return o.limits }

func (o *Orchestrator) Alerts() *AlertCenter { return o.alerts }

// GenerateAll runs every enabled section and waits for all of them to settle.
func (o *Orchestrator) GenerateAll(ctx context.Context, in Input) (Summary, error) {
	run, err := o.Launch(ctx, in)
	if err != nil {
		return Summary{}, err
	}
	return run.Wait(), nil
}

// Launch moves every enabled section to loading and starts their calls. It
// returns before any call completes. When the input cannot generate nothing
// changes.
func (o *Orchestrator) Launch(ctx context.Context, in Input) (*Run, error) {
	if err := in.Validate(o.limits); err != nil {
		return nil, err
	}
	if !in.CanGenerate(o.limits) {
		return nil, ErrCannotGenerate
	}
	input := in.clone()
	sections := input.sections()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	for _, s := range sections {
		if o.statusLocked(s) == StatusLoading {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSectionBusy, s)
		}
	}
	changes := make([]Change, 0, len(sections))
	for _, s := range sections {
		o.beginLocked(s)
		changes = append(changes, o.sectionChangeLocked(s))
	}
	o.last = &input
	if input.Enabled.Thumbnails {
		o.thumbsKind = RunGenerate
		o.regenInput = nil
	}
	epoch := o.epoch
	o.mu.Unlock()

	o.emit(changes...)
	o.alerts.Issue(ScopeGenerate, AlertInfo, generatingMessage(sections))

	run := newRun(RunGenerate, sections)
	go o.settle(ctx, run, epoch, input, sections)
	return run, nil
}

// RetrySection re-runs one section with the last launched input and waits
// for it. Other sections are not touched.
func (o *Orchestrator) RetrySection(ctx context.Context, s Section) (Summary, error) {
	run, err := o.LaunchRetry(ctx, s)
	if err != nil {
		return Summary{}, err
	}
	return run.Wait(), nil
}

// LaunchRetry repeats the last call made for s. Thumbnails last touched by a
// regenerate are retried as a regenerate, appending to the collection and
// keeping the selection.
func (o *Orchestrator) LaunchRetry(ctx context.Context, s Section) (*Run, error) {
	if _, err := ParseSection(string(s)); err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if s == SectionThumbnails && o.thumbsKind == RunRegenerate && o.regenInput != nil {
		input := o.regenInput.clone()
		return o.launchRegenerateLocked(ctx, RunRetry, input)
	}
	if o.last == nil {
		o.mu.Unlock()
		return nil, ErrNoPreviousInput
	}
	if o.statusLocked(s) == StatusLoading {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSectionBusy, s)
	}
	o.beginLocked(s)
	change := o.sectionChangeLocked(s)
	input := o.last.clone()
	epoch := o.epoch
	o.mu.Unlock()

	o.emit(change)
	o.alerts.Issue(ScopeGenerate, AlertInfo, fmt.Sprintf("Retrying %s...", s))

	sections := []Section{s}
	run := newRun(RunRetry, sections)
	go o.settle(ctx, run, epoch, input, sections)
	return run, nil
}

// Regenerate appends up to the regenerate batch, bounded by the capacity left
// at call time. At capacity it issues a warning and makes no call.
func (o *Orchestrator) Regenerate(ctx context.Context, in Input) (Summary, error) {
	run, err := o.LaunchRegenerate(ctx, in)
	if err != nil {
		return Summary{}, err
	}
	return run.Wait(), nil
}

func (o *Orchestrator) LaunchRegenerate(ctx context.Context, in Input) (*Run, error) {
	if err := in.Validate(o.limits); err != nil {
		return nil, err
	}
	if !in.HasSource() {
		return nil, ErrCannotGenerate
	}
	input := in.clone()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	return o.launchRegenerateLocked(ctx, RunRegenerate, input)
}

// launchRegenerateLocked is entered with o.mu held and releases it.
func (o *Orchestrator) launchRegenerateLocked(ctx context.Context, kind RunKind, input Input) (*Run, error) {
	remaining := o.variants.Remaining()
	if remaining <= 0 {
		capacity := o.variants.Max()
		o.mu.Unlock()
		o.alerts.Issue(ScopeRegenerate, AlertWarning, CapacityWarning)
		return nil, &CapacityError{Max: capacity}
	}
	if o.thumbnails.Status == StatusLoading {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSectionBusy, SectionThumbnails)
	}
	count := min(o.limits.VariantsRegenerate, remaining)
	o.thumbnails.Begin()
	o.thumbsKind = RunRegenerate
	o.regenInput = &input
	change := o.sectionChangeLocked(SectionThumbnails)
	epoch := o.epoch
	o.mu.Unlock()

	o.emit(change)
	o.alerts.Issue(ScopeRegenerate, AlertInfo, fmt.Sprintf("Generating %d more %s...", count, plural(count, "thumbnail")))

	run := newRun(kind, []Section{SectionThumbnails})
	go o.regenerate(ctx, run, epoch, input.clone(), count)
	return run, nil
}

func (o *Orchestrator) regenerate(ctx context.Context, run *Run, epoch uint64, in Input, count int) {
	defer close(run.done)

	ctx, span := tracer.Start(ctx, "generation.regenerate")
	defer span.End()
	span.SetAttributes(attribute.Int("variants.requested", count))

	res, err := o.gen.RegenerateThumbnails(ctx, model.ThumbnailRequest{
		HookText: in.HookText,
		Tone:     in.tone(),
		Source:   in.Source,
		Count:    count,
	})
	if err == nil && len(res.Variants) == 0 {
		err = &SectionError{Section: SectionThumbnails, Message: "No new thumbnails were generated"}
	}

	o.mu.Lock()
	if o.staleLocked(epoch) {
		o.mu.Unlock()
		run.summary.Discarded = true
		return
	}
	var appended int
	if err == nil {
		appended, err = o.variants.Append(res.Variants)
	}
	if err != nil {
		o.thumbnails.Fail(errorMessage(err))
	} else {
		o.regenerations++
		o.thumbnails.Succeed(o.variants.Items())
	}
	changes := []Change{o.sectionChangeLocked(SectionThumbnails)}
	if err == nil {
		changes = append(changes, o.variantsChangeLocked())
	}
	regenerations := o.regenerations
	o.mu.Unlock()

	o.emit(changes...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		run.summary.Failed = map[Section]string{SectionThumbnails: errorMessage(err)}
		run.summary.Announcement = "Thumbnail generation failed"
		o.alerts.Issue(ScopeRegenerate, AlertError, errorMessage(err))
		o.log.Warn("section_failed", "section", SectionThumbnails, "kind", run.summary.Kind, "error", err)
		o.tracker.Track(ctx, "generation_failed", map[string]any{"section": string(SectionThumbnails), "kind": string(run.summary.Kind)})
	} else {
		span.SetAttributes(attribute.Int("variants.appended", appended))
		run.summary.Succeeded = []Section{SectionThumbnails}
		run.summary.Appended = appended
		run.summary.Announcement = fmt.Sprintf("Generated %d more %s", appended, plural(appended, "thumbnail"))
		o.alerts.Issue(ScopeRegenerate, AlertSuccess, run.summary.Announcement)
		o.tracker.Track(ctx, "thumbnails_regenerated", map[string]any{"appended": appended, "regeneration_count": regenerations})
	}
	summary := run.summary
	o.emit(Change{Type: ChangeSettled, Summary: &summary})
}

// Select marks id as the chosen variant. Unknown ids leave the selection as
// it was.
func (o *Orchestrator) Select(id string) error {
	o.mu.Lock()
	if err := o.variants.Select(id); err != nil {
		o.mu.Unlock()
		return err
	}
	change := o.variantsChangeLocked()
	o.mu.Unlock()
	o.emit(change)
	return nil
}

func (o *Orchestrator) DismissAlert(scope Scope) bool {
	return o.alerts.Dismiss(scope)
}

// Reset returns every section to idle and empties the collection. Results of
// calls still in flight are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.epoch++
	o.thumbnails.Reset()
	o.description.Reset()
	o.tags.Reset()
	o.variants = NewVariantCollection(o.limits.VariantsMax)
	o.regenerations = 0
	o.last = nil
	o.thumbsKind = ""
	o.regenInput = nil
	changes := []Change{o.variantsChangeLocked()}
	for _, s := range Sections {
		changes = append(changes, o.sectionChangeLocked(s))
	}
	o.mu.Unlock()
	o.emit(changes...)
}

// Close discards pending results and stops alert timers. Further launches
// fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.alerts.Close()
}

func (o *Orchestrator) settle(ctx context.Context, run *Run, epoch uint64, in Input, sections []Section) {
	defer close(run.done)

	type outcome struct {
		err       error
		discarded bool
	}
	outcomes := make([]outcome, len(sections))
	var wg sync.WaitGroup
	for i, s := range sections {
		wg.Add(1)
		go func(i int, s Section) {
			defer wg.Done()
			discarded, err := o.runSection(ctx, epoch, in, s)
			outcomes[i] = outcome{err: err, discarded: discarded}
		}(i, s)
	}
	wg.Wait()

	for i, s := range sections {
		if outcomes[i].discarded {
			run.summary.Discarded = true
			continue
		}
		if outcomes[i].err != nil {
			if run.summary.Failed == nil {
				run.summary.Failed = map[Section]string{}
			}
			run.summary.Failed[s] = errorMessage(outcomes[i].err)
			continue
		}
		run.summary.Succeeded = append(run.summary.Succeeded, s)
	}
	if run.summary.Discarded {
		return
	}

	total := len(sections)
	ok := len(run.summary.Succeeded)
	run.summary.Announcement = fmt.Sprintf("Generation complete: %d of %d %s ready", ok, total, plural(total, "section"))
	switch {
	case ok == total && run.summary.Kind == RunGenerate && total == len(Sections):
		o.alerts.Issue(ScopeGenerate, AlertSuccess, "All metadata generated successfully!")
	case ok == total:
		o.alerts.Issue(ScopeGenerate, AlertSuccess, fmt.Sprintf("%s generated successfully!", capitalize(joinSections(run.summary.Succeeded))))
	default:
		o.alerts.Issue(ScopeGenerate, AlertError, fmt.Sprintf("%d of %d %s failed. Retry to try again.", total-ok, total, plural(total, "section")))
	}

	o.log.Info("generation_settled",
		"kind", run.summary.Kind,
		"requested", total,
		"succeeded", ok,
	)
	event := "generation_success"
	if ok < total {
		event = "generation_failed"
	}
	o.tracker.Track(ctx, event, map[string]any{
		"kind":      string(run.summary.Kind),
		"requested": total,
		"succeeded": ok,
	})
	summary := run.summary
	o.emit(Change{Type: ChangeSettled, Summary: &summary})
}

// runSection performs one call and applies its result unless the session
// moved on in the meantime.
func (o *Orchestrator) runSection(ctx context.Context, epoch uint64, in Input, s Section) (bool, error) {
	ctx, span := tracer.Start(ctx, "generation."+string(s))
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.tone", string(in.tone())),
		attribute.String("generation.source", string(in.Source.Type)),
	)

	var (
		variants    []model.ThumbnailVariant
		description string
		tags        []string
		err         error
	)
	switch s {
	case SectionThumbnails:
		var res model.ThumbnailResult
		res, err = o.gen.GenerateThumbnails(ctx, model.ThumbnailRequest{
			HookText: in.HookText,
			Tone:     in.tone(),
			Source:   in.Source,
			Count:    o.limits.VariantsInitial,
		})
		variants = res.Variants
		if err == nil && len(variants) == 0 {
			err = &SectionError{Section: s, Message: "No thumbnails were generated"}
		}
	case SectionDescription:
		var res model.DescriptionResult
		res, err = o.gen.GenerateDescription(ctx, model.DescriptionRequest{
			HookText:          in.HookText,
			Tone:              in.tone(),
			VideoTitle:        in.VideoTitle,
			VideoDescription:  in.VideoDescription,
			AdditionalContext: in.AdditionalContext,
		})
		description = provider.Truncate(strings.TrimSpace(res.Description), o.limits.DescriptionMax)
		if err == nil && description == "" {
			err = &SectionError{Section: s, Message: "No description was generated"}
		}
	case SectionTags:
		var res model.TagsResult
		res, err = o.gen.GenerateTags(ctx, model.TagsRequest{
			HookText:    in.HookText,
			Tone:        in.tone(),
			Description: o.tagsContext(in),
		})
		tags = provider.NormalizeTags(res.Tags, o.limits.TagsMax)
		if err == nil && len(tags) == 0 {
			err = &SectionError{Section: s, Message: "No tags were generated"}
		}
	}

	o.mu.Lock()
	if o.staleLocked(epoch) {
		o.mu.Unlock()
		return true, nil
	}
	changes := make([]Change, 0, 2)
	switch {
	case err != nil:
		o.failLocked(s, errorMessage(err))
	case s == SectionThumbnails:
		o.variants.Replace(variants)
		o.thumbnails.Succeed(o.variants.Items())
		changes = append(changes, o.variantsChangeLocked())
	case s == SectionDescription:
		o.description.Succeed(description)
	case s == SectionTags:
		o.tags.Succeed(tags)
	}
	changes = append([]Change{o.sectionChangeLocked(s)}, changes...)
	o.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Warn("section_failed", "section", s, "error", err)
	}
	o.emit(changes...)
	return false, err
}

// tagsContext prefers the description already generated in this session.
func (o *Orchestrator) tagsContext(in Input) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.description.Data != nil && o.description.Status == StatusSuccess {
		return provider.Truncate(*o.description.Data, o.limits.DescriptionMax)
	}
	return provider.Truncate(in.VideoDescription, o.limits.DescriptionMax)
}

func (o *Orchestrator) staleLocked(epoch uint64) bool {
	return o.closed || o.epoch != epoch
}

func (o *Orchestrator) statusLocked(s Section) Status {
	switch s {
	case SectionThumbnails:
		return o.thumbnails.Status
	case SectionDescription:
		return o.description.Status
	case SectionTags:
		return o.tags.Status
	}
	return ""
}

func (o *Orchestrator) beginLocked(s Section) {
	switch s {
	case SectionThumbnails:
		o.thumbnails.Begin()
	case SectionDescription:
		o.description.Begin()
	case SectionTags:
		o.tags.Begin()
	}
}

func (o *Orchestrator) failLocked(s Section, message string) {
	switch s {
	case SectionThumbnails:
		o.thumbnails.Fail(message)
	case SectionDescription:
		o.description.Fail(message)
	case SectionTags:
		o.tags.Fail(message)
	}
}

func (o *Orchestrator) sectionViewLocked(s Section) SectionView {
	switch s {
	case SectionThumbnails:
		return o.thumbnails.view(s)
	case SectionDescription:
		return o.description.view(s)
	default:
		return o.tags.view(s)
	}
}

func (o *Orchestrator) sectionChangeLocked(s Section) Change {
	v := o.sectionViewLocked(s)
	return Change{Type: ChangeSection, Section: &v}
}

func (o *Orchestrator) variantsViewLocked() VariantsView {
	o.viewVersion++
	return VariantsView{
		Version:           o.viewVersion,
		Items:             o.variants.Items(),
		SelectedVariantID: o.variants.Selected(),
		Max:               o.variants.Max(),
		Remaining:         o.variants.Remaining(),
		RegenerationCount: o.regenerations,
	}
}

func (o *Orchestrator) variantsChangeLocked() Change {
	v := o.variantsViewLocked()
	return Change{Type: ChangeVariants, Variants: &v}
}

func (o *Orchestrator) emit(changes ...Change) {
	for _, ch := range changes {
		o.onChange(ch)
	}
}

// errorMessage extracts the text shown on a failed section. Contract errors
// carry their message verbatim.
func errorMessage(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	var se *SectionError
	if errors.As(err, &se) {
		return se.Message
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Generation was canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Generation timed out"
	}
	return err.Error()
}

func generatingMessage(sections []Section) string {
	return fmt.Sprintf("Generating %s...", joinSections(sections))
}

func joinSections(sections []Section) string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = string(s)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
