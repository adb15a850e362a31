package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"metagen/server/internal/model"
)

// ThumbnailSink stores records of generated thumbnails.
type ThumbnailSink interface {
	CreateThumbnail(ctx context.Context, t model.GeneratedThumbnail) error
}

// RecordingGenerator saves every thumbnail variant the wrapped generator
// produces. A failed save is logged and never fails the generation.
type RecordingGenerator struct {
	Generator
	sink   ThumbnailSink
	logger *slog.Logger
}

func Recording(gen Generator, sink ThumbnailSink, logger *slog.Logger) *RecordingGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingGenerator{Generator: gen, sink: sink, logger: logger}
}

func (r *RecordingGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	res, err := r.Generator.GenerateThumbnails(ctx, req)
	if err == nil {
		r.record(ctx, req, res.Variants)
	}
	return res, err
}

func (r *RecordingGenerator) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	res, err := r.Generator.RegenerateThumbnails(ctx, req)
	if err == nil {
		r.record(ctx, req, res.Variants)
	}
	return res, err
}

func (r *RecordingGenerator) record(ctx context.Context, req model.ThumbnailRequest, variants []model.ThumbnailVariant) {
	owner := OwnerFromContext(ctx)
	var assetID string
	if len(req.Source.AssetIDs) > 0 {
		assetID = req.Source.AssetIDs[0]
	}
	now := time.Now().UTC()
	for _, v := range variants {
		rec := model.GeneratedThumbnail{
			ID:          uuid.NewString(),
			UserID:      owner,
			AssetID:     assetID,
			ImageURL:    v.ImageURL,
			HookText:    req.HookText,
			Tone:        req.Tone,
			Readability: v.Readability,
			CreatedAt:   now,
		}
		if err := r.sink.CreateThumbnail(context.WithoutCancel(ctx), rec); err != nil {
			r.logger.Warn("thumbnail_record_failed", "variant_id", v.ID, "error", err)
		}
	}
}
