package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"metagen/server/internal/model"
)

var mockReadability = []model.Readability{
	model.ReadabilityGood,
	model.ReadabilityGood,
	model.ReadabilityOK,
	model.ReadabilityGood,
	model.ReadabilityOK,
	model.ReadabilityPoor,
}

var mockToneTags = map[model.Tone][]string{
	model.ToneViral:       {"viral", "trending", "mustwatch", "gamechanger", "lifechanging"},
	model.ToneCuriosity:   {"interesting", "discovery", "mystery", "explained", "revealed"},
	model.ToneEducational: {"learn", "study", "knowledge", "skills", "masterclass"},
}

// MockGenerator returns canned metadata after a short, cancelable delay.
type MockGenerator struct {
	limits      model.Limits
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

type MockOption func(*MockGenerator)

func WithLatency(lo, hi time.Duration) MockOption {
	return func(m *MockGenerator) {
		m.minLatency = lo
		m.maxLatency = hi
	}
}

// WithFailureRate makes a fraction of calls fail with a retryable upstream
// error.
func WithFailureRate(rate float64) MockOption {
	return func(m *MockGenerator) { m.failureRate = rate }
}

func NewMockGenerator(limits model.Limits, opts ...MockOption) *MockGenerator {
	m := &MockGenerator{
		limits:     limits.Normalize(),
		minLatency: 300 * time.Millisecond,
		maxLatency: 800 * time.Millisecond,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	req, err := ValidateThumbnailRequest(req, m.limits, m.limits.VariantsInitial, m.limits.VariantsMax)
	if err != nil {
		return model.ThumbnailResult{}, err
	}
	if err := m.simulate(ctx, "Failed to generate thumbnails"); err != nil {
		return model.ThumbnailResult{}, err
	}
	return model.ThumbnailResult{Variants: m.variants("thumb", req)}, nil
}

func (m *MockGenerator) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	req, err := ValidateThumbnailRequest(req, m.limits, m.limits.VariantsRegenerate, m.limits.VariantsRegenerate)
	if err != nil {
		return model.ThumbnailResult{}, err
	}
	if err := m.simulate(ctx, "Failed to regenerate thumbnails"); err != nil {
		return model.ThumbnailResult{}, err
	}
	return model.ThumbnailResult{Variants: m.variants("thumb_regen", req)}, nil
}

func (m *MockGenerator) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	if err := ValidateDescriptionRequest(req, m.limits); err != nil {
		return model.DescriptionResult{}, err
	}
	if err := m.simulate(ctx, "Failed to generate description"); err != nil {
		return model.DescriptionResult{}, err
	}
	return model.DescriptionResult{Description: Truncate(mockDescription(req), m.limits.DescriptionMax)}, nil
}

func (m *MockGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	if err := ValidateTagsRequest(req, m.limits); err != nil {
		return model.TagsResult{}, err
	}
	if err := m.simulate(ctx, "Failed to generate tags"); err != nil {
		return model.TagsResult{}, err
	}
	tags := []string{"tutorial", "guide", "howto", "tips", "education"}
	tags = append(tags, mockToneTags[req.Tone]...)
	tags = append(tags, "2024", "new", "best")
	return model.TagsResult{Tags: NormalizeTags(tags, m.limits.TagsMax)}, nil
}

func (m *MockGenerator) variants(prefix string, req model.ThumbnailRequest) []model.ThumbnailVariant {
	ts := m.now().UnixMilli()
	out := make([]model.ThumbnailVariant, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		seed := fmt.Sprintf("%s-%d-%d", req.Tone, ts, i)
		out = append(out, model.ThumbnailVariant{
			ID:          fmt.Sprintf("%s_%d_%d", prefix, ts, i),
			ImageURL:    fmt.Sprintf("https://picsum.photos/seed/%s/1280/720", seed),
			Readability: mockReadability[i%len(mockReadability)],
		})
	}
	return out
}

func (m *MockGenerator) simulate(ctx context.Context, failMessage string) error {
	m.mu.Lock()
	delay := m.minLatency
	if m.maxLatency > m.minLatency {
		delay += time.Duration(m.rng.Int63n(int64(m.maxLatency - m.minLatency)))
	}
	fail := m.failureRate > 0 && m.rng.Float64() < m.failureRate
	m.mu.Unlock()

	if err := waitCancelable(ctx, delay); err != nil {
		return err
	}
	if fail {
		return Upstream(failMessage, fmt.Errorf("mock random failure"))
	}
	return nil
}

func mockDescription(req model.DescriptionRequest) string {
	emoji := "🎓"
	switch req.Tone {
	case model.ToneViral:
		emoji = "🔥"
	case model.ToneCuriosity:
		emoji = "❓"
	}
	topic := req.HookText
	if topic == "" {
		topic = req.VideoDescription
	}
	if topic == "" {
		topic = "Amazing content you won't want to miss!"
	}
	return fmt.Sprintf(`%s %s

In this video, we dive deep into everything you need to know about this topic. Whether you're a beginner or an expert, you'll find valuable insights here.

📌 What You'll Learn:
• Key concept #1 explained simply
• Practical tips you can use today
• Common mistakes to avoid
• Expert strategies for success

⏱️ Timestamps:
0:00 - Introduction
1:30 - Main Topic Overview
5:00 - Deep Dive
10:00 - Practical Examples
15:00 - Summary & Next Steps

🔔 Don't forget to subscribe and hit the bell icon to never miss an update!

👍 If you found this helpful, give it a thumbs up and share with others who might benefit.

💬 Drop a comment below with your thoughts or questions!

#%s #tutorial #howto #tips #learning`, emoji, topic, req.Tone)
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
