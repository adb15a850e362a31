package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"metagen/server/internal/model"
)

func thumbReq(count int) model.ThumbnailRequest {
	return model.ThumbnailRequest{
		HookText: "Learn Go in 10 minutes",
		Tone:     model.ToneEducational,
		Source:   model.Source{Type: model.SourceImages, AssetIDs: []string{"a1"}},
		Count:    count,
	}
}

func TestValidateThumbnailRequestDefaultsCount(t *testing.T) {
	limits := model.DefaultLimits()
	req, err := ValidateThumbnailRequest(thumbReq(0), limits, 3, 6)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Count != 3 {
		t.Fatalf("count=%d, want default 3", req.Count)
	}

	_, err = ValidateThumbnailRequest(thumbReq(7), limits, 3, 6)
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusBadRequest || pe.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if pe.Details() == nil {
		t.Fatalf("validation error should carry issue details")
	}
}

func TestValidateRejectsLongHookAndBadTone(t *testing.T) {
	limits := model.DefaultLimits()
	err := ValidateDescriptionRequest(model.DescriptionRequest{
		HookText: strings.Repeat("x", limits.HookTextMax+1),
		Tone:     "loud",
	}, limits)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(pe.Issues) != 2 {
		t.Fatalf("issues=%+v, want hookText and tone", pe.Issues)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" #golang", "Golang", "x", "tutorial", strings.Repeat("a", 31), "tips"}, 2)
	if len(got) != 2 || got[0] != "golang" || got[1] != "tutorial" {
		t.Fatalf("unexpected tags %v", got)
	}
	parsed := ParseTagList("go, concurrency\nchannels,, go", 15)
	if len(parsed) != 3 {
		t.Fatalf("parsed=%v", parsed)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("truncate=%q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Fatalf("zero limit should not truncate")
	}
}

func TestMockGeneratorShapes(t *testing.T) {
	limits := model.DefaultLimits()
	m := NewMockGenerator(limits, WithLatency(0, 0))
	ctx := context.Background()

	res, err := m.GenerateThumbnails(ctx, thumbReq(0))
	if err != nil {
		t.Fatalf("thumbnails: %v", err)
	}
	if len(res.Variants) != limits.VariantsInitial {
		t.Fatalf("variants=%d", len(res.Variants))
	}
	if res.Variants[2].Readability != model.ReadabilityOK {
		t.Fatalf("third variant readability=%s", res.Variants[2].Readability)
	}

	regen, err := m.RegenerateThumbnails(ctx, thumbReq(2))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(regen.Variants) != 2 || !strings.HasPrefix(regen.Variants[0].ID, "thumb_regen_") {
		t.Fatalf("unexpected regenerate result %+v", regen.Variants)
	}

	desc, err := m.GenerateDescription(ctx, model.DescriptionRequest{Tone: model.ToneViral, VideoDescription: "cats"})
	if err != nil {
		t.Fatalf("description: %v", err)
	}
	if !strings.HasPrefix(desc.Description, "🔥 cats") {
		t.Fatalf("description should lead with the tone emoji and topic: %q", desc.Description[:20])
	}

	tags, err := m.GenerateTags(ctx, model.TagsRequest{HookText: "cats", Tone: model.ToneCuriosity})
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(tags.Tags) == 0 || len(tags.Tags) > limits.TagsMax {
		t.Fatalf("tags=%v", tags.Tags)
	}
}

func TestMockGeneratorHonorsCancel(t *testing.T) {
	m := NewMockGenerator(model.DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.GenerateTags(ctx, model.TagsRequest{Tone: model.ToneViral}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMockGeneratorFailureRate(t *testing.T) {
	m := NewMockGenerator(model.DefaultLimits(), WithLatency(0, 0), WithFailureRate(1))
	_, err := m.GenerateDescription(context.Background(), model.DescriptionRequest{Tone: model.ToneViral})
	var pe *Error
	if !errors.As(err, &pe) || !pe.Retryable || pe.Status != http.StatusBadGateway {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
}

func TestGeminiWithoutClientIsUnavailable(t *testing.T) {
	g := NewGeminiGenerator(nil, nil, GeminiConfig{Limits: model.DefaultLimits()}, nil)
	_, err := g.GenerateDescription(context.Background(), model.DescriptionRequest{Tone: model.ToneViral})
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if _, err := g.GenerateThumbnails(context.Background(), thumbReq(1)); err == nil {
		t.Fatalf("thumbnails without client should fail")
	}
}

type memorySink struct {
	mu   sync.Mutex
	recs []model.GeneratedThumbnail
	err  error
}

func (s *memorySink) CreateThumbnail(_ context.Context, t model.GeneratedThumbnail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, t)
	return nil
}

func TestRecordingGeneratorPersistsVariants(t *testing.T) {
	sink := &memorySink{}
	gen := Recording(NewMockGenerator(model.DefaultLimits(), WithLatency(0, 0)), sink, nil)
	ctx := WithOwner(context.Background(), "u1")

	if _, err := gen.GenerateThumbnails(ctx, thumbReq(2)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sink.recs) != 2 {
		t.Fatalf("records=%d, want 2", len(sink.recs))
	}
	if sink.recs[0].UserID != "u1" || sink.recs[0].AssetID != "a1" || sink.recs[0].Tone != model.ToneEducational {
		t.Fatalf("unexpected record %+v", sink.recs[0])
	}

	sink.err = errors.New("db down")
	if _, err := gen.RegenerateThumbnails(ctx, thumbReq(1)); err != nil {
		t.Fatalf("sink failure must not fail generation: %v", err)
	}
}

func TestPromptsCarryTone(t *testing.T) {
	p := thumbnailPrompt(thumbReq(1))
	if !strings.Contains(p, "Clean, professional") || !strings.Contains(p, "No text in the image") {
		t.Fatalf("thumbnail prompt missing tone style: %s", p)
	}
	tp := tagsPrompt(model.TagsRequest{HookText: "x", Tone: model.ToneViral, Description: strings.Repeat("d", 900)}, model.DefaultLimits())
	if strings.Contains(tp, strings.Repeat("d", 501)) {
		t.Fatalf("tags prompt should summarise the description")
	}
}

type flakyGenerator struct {
	Generator
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *flakyGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.TagsResult{}, err
	}
	return model.TagsResult{Tags: []string{"ok"}}, nil
}

func TestGuardRetriesUpstreamFailures(t *testing.T) {
	flaky := &flakyGenerator{errs: []error{Upstream("boom", nil), Upstream("boom", nil)}}
	g := Guard(flaky, GuardConfig{MaxAttempts: 3}, nil)
	g.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := g.GenerateTags(context.Background(), model.TagsRequest{Tone: model.ToneViral})
	if err != nil || len(res.Tags) != 1 {
		t.Fatalf("expected success after retries: %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("calls=%d, want 3", flaky.calls)
	}
}

func TestGuardDoesNotRetryRateLimitsOrValidation(t *testing.T) {
	for _, first := range []error{RateLimited(nil), ValidationFailed()} {
		flaky := &flakyGenerator{errs: []error{first}}
		g := Guard(flaky, GuardConfig{MaxAttempts: 5}, nil)
		g.sleep = func(context.Context, time.Duration) error { return nil }
		if _, err := g.GenerateTags(context.Background(), model.TagsRequest{}); !errors.Is(err, first) {
			t.Fatalf("expected %v to pass through, got %v", first, err)
		}
		if flaky.calls != 1 {
			t.Fatalf("calls=%d, want 1", flaky.calls)
		}
	}
}

func TestRetryBackoffGrows(t *testing.T) {
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		got := retryBackoff(time.Second, attempt)
		if got < want || got > want+want/5 {
			t.Fatalf("attempt %d backoff=%v", attempt, got)
		}
	}
}
