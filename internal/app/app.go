// Package app assembles the server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"metagen/server/internal/analytics"
	"metagen/server/internal/api"
	"metagen/server/internal/auth"
	"metagen/server/internal/config"
	"metagen/server/internal/events"
	"metagen/server/internal/generation"
	"metagen/server/internal/provider"
	"metagen/server/internal/storage"
	"metagen/server/internal/store"
	"metagen/server/internal/upload"
	"metagen/server/internal/workspace"
)

type App struct {
	Router     *gin.Engine
	Workspaces *workspace.Service

	closers []func() error
	logger  *slog.Logger
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	backend, files, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if cfg.DemoEmail != "" && cfg.DemoPassword != "" {
		if err := authSvc.SeedDemoUser(ctx, cfg.DemoEmail, cfg.DemoPassword); err != nil {
			return nil, fmt.Errorf("seed demo user: %w", err)
		}
	}

	gen, err := newGenerator(ctx, cfg, backend, logger)
	if err != nil {
		return nil, err
	}
	gen = provider.Guard(gen, provider.GuardConfig{
		MaxConcurrent: cfg.MaxConcurrency,
		MaxAttempts:   cfg.ProviderRetries,
	}, logger)
	gen = provider.Recording(gen, st, logger)

	var snapshots store.SnapshotStore = store.NewMemorySnapshotStore(cfg.SnapshotTTL)
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisSnapshotStore(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SnapshotTTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		snapshots = rs
	}

	var sink events.Sink = events.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := events.NewKafkaSink(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ks.Close)
		sink = ks
	}

	fwd := analytics.NewForwarder(analytics.Config{
		MeasurementID: cfg.GAMeasurementID,
		APISecret:     cfg.GAAPISecret,
	}, logger)
	tracker := analytics.NewTracker(fwd, logger)

	uploadOpts := upload.Options{Logger: logger}
	if cfg.FFProbe {
		uploadOpts.Prober = upload.FFProbe{}
		uploadOpts.Frames = upload.FFmpegFrames{}
	}
	uploads := upload.NewService(st, backend, cfg.Limits, uploadOpts)

	workspaces := workspace.NewService(gen, st, events.NewHub(), store.NewEventLog(cfg.EventRetention), workspace.Options{
		Limits:            cfg.Limits,
		Tracker:           func(userID string) generation.Tracker { return tracker.ForUser(userID) },
		Snapshots:         snapshots,
		Sink:              sink,
		Logger:            logger,
		GenerationTimeout: cfg.GenerationTimeout,
		MaxPerUser:        cfg.MaxWorkspaces,
	})

	srv := api.NewServer(api.Deps{
		Auth:          authSvc,
		Store:         st,
		Generator:     gen,
		Uploads:       uploads,
		Workspaces:    workspaces,
		Analytics:     fwd,
		Files:         files,
		Limits:        cfg.Limits,
		SessionCookie: cfg.Cookie,
		SecureCookie:  cfg.SecureCookie,
		Logger:        logger,
	})

	a.Router = srv.Router()
	a.Workspaces = workspaces
	ok = true
	return a, nil
}

// Close saves open workspaces and releases every backing connection.
func (a *App) Close(ctx context.Context) error {
	if a.Workspaces != nil {
		a.Workspaces.Shutdown(ctx)
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case "memory", "":
		return store.NewMemoryStore(), nil
	case store.DriverPostgres, store.DriverSQLite:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("METAGEN_DATABASE_URL is required for store %q", cfg.Store)
		}
		return store.OpenSQL(ctx, cfg.Store, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openStorage returns the memory backend separately so the router can serve
// its objects.
func openStorage(ctx context.Context, cfg config.Config) (storage.Backend, *storage.MemoryBackend, error) {
	switch cfg.Storage {
	case "memory", "":
		mem := storage.NewMemoryBackend(cfg.PublicURL + "/files")
		return mem, mem, nil
	case "s3":
		b, err := storage.NewS3Backend(ctx, storage.S3Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			UsePathStyle:  cfg.S3.PathStyle,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			PresignTTL:    cfg.S3.URLTTL,
		})
		return b, nil, err
	case "minio":
		b, err := storage.NewMinioBackend(storage.MinioConfig{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			Bucket:        cfg.Minio.Bucket,
			UseSSL:        cfg.Minio.UseSSL,
			PublicBaseURL: cfg.Minio.PublicBaseURL,
			PresignTTL:    cfg.Minio.URLTTL,
		})
		return b, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func newGenerator(ctx context.Context, cfg config.Config, images provider.ImageStore, logger *slog.Logger) (provider.Generator, error) {
	switch cfg.Provider {
	case "mock", "":
		return provider.NewMockGenerator(cfg.Limits), nil
	case "gemini":
		gc := provider.GeminiConfig{
			TextModel:  cfg.GeminiTextModel,
			ImageModel: cfg.GeminiImageModel,
			Limits:     cfg.Limits,
		}
		if cfg.GeminiAPIKey == "" {
			logger.Warn("gemini_not_configured", "hint", "set GEMINI_API_KEY")
			return provider.NewGeminiGenerator(nil, images, gc, logger), nil
		}
		client, err := provider.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return provider.NewGeminiGenerator(client, images, gc, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
