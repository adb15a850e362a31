package provider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"metagen/server/internal/model"
)

type GuardConfig struct {
	// MaxConcurrent caps in-flight upstream calls across all users.
	MaxConcurrent int
	// MaxAttempts counts the first call; 1 disables retries.
	MaxAttempts int
	BaseBackoff time.Duration
}

// GuardedGenerator bounds concurrency against the upstream generator and
// retries retryable upstream failures with exponential backoff and jitter.
// Rate limits are returned immediately.
type GuardedGenerator struct {
	next   Generator
	sem    chan struct{}
	cfg    GuardConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func Guard(next Generator, cfg GuardConfig, logger *slog.Logger) *GuardedGenerator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 20
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedGenerator{
		next:   next,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		cfg:    cfg,
		logger: logger,
		sleep:  waitCancelable,
	}
}

func (g *GuardedGenerator) GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	return guarded(ctx, g, "thumbnails", func(ctx context.Context) (model.ThumbnailResult, error) {
		return g.next.GenerateThumbnails(ctx, req)
	})
}

func (g *GuardedGenerator) RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error) {
	return guarded(ctx, g, "regenerate", func(ctx context.Context) (model.ThumbnailResult, error) {
		return g.next.RegenerateThumbnails(ctx, req)
	})
}

func (g *GuardedGenerator) GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error) {
	return guarded(ctx, g, "description", func(ctx context.Context) (model.DescriptionResult, error) {
		return g.next.GenerateDescription(ctx, req)
	})
}

func (g *GuardedGenerator) GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error) {
	return guarded(ctx, g, "tags", func(ctx context.Context) (model.TagsResult, error) {
		return g.next.GenerateTags(ctx, req)
	})
}

func guarded[T any](ctx context.Context, g *GuardedGenerator, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		out, err := call(ctx)
		<-g.sem
		if err == nil {
			return out, nil
		}

		var pe *Error
		if !errors.As(err, &pe) || !pe.Retryable || pe.Code == CodeRateLimited || attempt >= g.cfg.MaxAttempts {
			return zero, err
		}
		backoff := retryBackoff(g.cfg.BaseBackoff, attempt)
		g.logger.Warn("generation_retry", "op", op, "attempt", attempt, "backoff_ms", backoff.Milliseconds(), "error", err)
		if err := g.sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
}

// retryBackoff is base, 2*base, 4*base... plus up to 20% jitter.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	d := base << max(attempt-1, 0)
	if j := int64(d / 5); j > 0 {
		d += time.Duration(rand.Int63n(j))
	}
	return d
}
