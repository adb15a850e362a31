package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"metagen/server/internal/model"
)

var tracer = otel.Tracer("metagen/provider")

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
)

// ImageStore persists generated images and hands back a URL clients can load.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

type GeminiConfig struct {
	TextModel  string
	ImageModel string
	Limits     model.Limits
}

// GeminiGenerator produces metadata with the Gemini API. A nil client leaves
// every section unavailable instead of failing at startup.
type GeminiGenerator struct {
	client *genai.Client
	images ImageStore
	cfg    GeminiConfig
	logger *slog.Logger
}

func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func NewGeminiGenerator(client *genai.Client, images ImageStore, cfg GeminiConfig, logger *slog.Logger) *GeminiGenerator {
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	cfg.Limits = cfg.Limits.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiGenerator{client: client, images: images, cfg: cfg, logger: logger}
}

func (g *GeminiGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	req, err := ValidateThumbnailRequest(req, g.cfg.Limits, g.cfg.Limits.VariantsInitial, g.cfg.Limits.VariantsMax)
	if err != nil {
		return model.ThumbnailResult{}, err
	}
	return g.thumbnails(ctx, req)
}

func (g *GeminiGenerator) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	req, err := ValidateThumbnailRequest(req, g.cfg.Limits, g.cfg.Limits.VariantsRegenerate, g.cfg.Limits.VariantsRegenerate)
	if err != nil {
		return model.ThumbnailResult{}, err
	}
	return g.thumbnails(ctx, req)
}

// thumbnails asks for each image independently and keeps whatever succeeds.
// The batch fails only when every image fails.
func (g *GeminiGenerator) thumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	if g.client == nil || g.images == nil {
		return model.ThumbnailResult{}, Unavailable("Thumbnail generation is not configured. Please set GEMINI_API_KEY.")
	}
	prompt := thumbnailPrompt(req)
	owner := OwnerFromContext(ctx)

	results := make([]*model.ThumbnailVariant, req.Count)
	errs := make([]error, req.Count)
	var wg sync.WaitGroup
	for i := 0; i < req.Count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.oneThumbnail(ctx, prompt, owner)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = &v
		}(i)
	}
	wg.Wait()

	var out []model.ThumbnailVariant
	for i, v := range results {
		if v != nil {
			out = append(out, *v)
			continue
		}
		g.logger.Warn("thumbnail_image_failed", "index", i, "error", errs[i])
	}
	if len(out) == 0 {
		return model.ThumbnailResult{}, g.classify(errors.Join(errs...), "Failed to generate thumbnails")
	}
	return model.ThumbnailResult{Variants: out}, nil
}

func (g *GeminiGenerator) oneThumbnail(ctx context.Context, prompt, owner string) (model.ThumbnailVariant, error) {
	ctx, span := startCall(ctx, g.cfg.ImageModel)
	defer span.End()
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.ImageModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate image")
		return model.ThumbnailVariant{}, err
	}
	data := firstImage(resp)
	if len(data) == 0 {
		return model.ThumbnailVariant{}, errors.New("no image data in response")
	}

	mt := mimetype.Detect(data)
	id := uuid.NewString()
	key := fmt.Sprintf("users/%s/thumbnails/%s%s", owner, id, mt.Extension())
	if err := g.images.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mt.String()); err != nil {
		return model.ThumbnailVariant{}, fmt.Errorf("store thumbnail: %w", err)
	}
	url, err := g.images.URL(ctx, key)
	if err != nil {
		return model.ThumbnailVariant{}, fmt.Errorf("thumbnail url: %w", err)
	}
	return model.ThumbnailVariant{ID: id, ImageURL: url, Readability: model.ReadabilityGood}, nil
}

func firstImage(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}

func (g *GeminiGenerator) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	if err := ValidateDescriptionRequest(req, g.cfg.Limits); err != nil {
		return model.DescriptionResult{}, err
	}
	if g.client == nil {
		return model.DescriptionResult{}, Unavailable("Description generation is not configured. Please set GEMINI_API_KEY.")
	}
	text, err := g.text(ctx, descriptionSystemPrompt(g.cfg.Limits), descriptionPrompt(req))
	if err != nil {
		return model.DescriptionResult{}, g.classify(err, "Failed to generate description")
	}
	text = Truncate(strings.TrimSpace(text), g.cfg.Limits.DescriptionMax)
	if text == "" {
		return model.DescriptionResult{}, Upstream("Failed to generate description", errors.New("empty response"))
	}
	return model.DescriptionResult{Description: text}, nil
}

func (g *GeminiGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	if err := ValidateTagsRequest(req, g.cfg.Limits); err != nil {
		return model.TagsResult{}, err
	}
	if g.client == nil {
		return model.TagsResult{}, Unavailable("Tag generation is not configured. Please set GEMINI_API_KEY.")
	}
	text, err := g.text(ctx, tagsSystemPrompt(g.cfg.Limits), tagsPrompt(req, g.cfg.Limits))
	if err != nil {
		return model.TagsResult{}, g.classify(err, "Failed to generate tags")
	}
	tags := ParseTagList(text, g.cfg.Limits.TagsMax)
	if len(tags) == 0 {
		return model.TagsResult{}, Upstream("Failed to generate tags", errors.New("no usable tags in response"))
	}
	return model.TagsResult{Tags: tags}, nil
}

func (g *GeminiGenerator) text(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := startCall(ctx, g.cfg.TextModel)
	defer span.End()
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.TextModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate text")
		return "", err
	}
	return resp.Text(), nil
}

func startCall(ctx context.Context, modelName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gemini.GenerateContent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("gen_ai.request.model", modelName)),
	)
}

func (g *GeminiGenerator) classify(err error, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if code, ok := apiErrorCode(err); ok {
		g.logger.Error("gemini_api_error", "code", code, "error", err)
		if code == 429 {
			return RateLimited(err)
		}
		return Upstream(message, err)
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "resource exhausted") || strings.Contains(lower, "rate limit") {
		return RateLimited(err)
	}
	g.logger.Error("gemini_request_failed", "error", err)
	return Upstream(message, err)
}

func apiErrorCode(err error) (int, bool) {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

type ownerKey struct{}

// WithOwner tags ctx with the user a generation runs for, so produced assets
// land under that user's storage prefix.
func WithOwner(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, userID)
}

func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok && v != "" {
		return v
	}
	return "anonymous"
}
