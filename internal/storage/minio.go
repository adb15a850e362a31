package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("metagen/storage")

type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	PresignTTL    time.Duration
}

// MinioBackend stores objects in a MinIO bucket, creating it on first write.
type MinioBackend struct {
	client *minio.Client
	cfg    MinioConfig

	bucketOnce sync.Once
	bucketErr  error
}

func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	return &MinioBackend{client: client, cfg: cfg}, nil
}

func (b *MinioBackend) ensureBucket(ctx context.Context) error {
	b.bucketOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "minio_ensure_bucket")
		defer span.End()
		span.SetAttributes(attribute.String("minio.bucket", b.cfg.Bucket))

		exists, err := b.client.BucketExists(ctx, b.cfg.Bucket)
		if err != nil {
			span.RecordError(err)
			b.bucketErr = fmt.Errorf("failed to check bucket existence: %w", err)
			return
		}
		if !exists {
			if err := b.client.MakeBucket(ctx, b.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				span.RecordError(err)
				b.bucketErr = fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	})
	return b.bucketErr
}

func (b *MinioBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "minio_put")
	defer span.End()
	span.SetAttributes(
		attribute.String("minio.key", key),
		attribute.Int64("minio.size", size),
	)

	if err := b.ensureBucket(ctx); err != nil {
		return err
	}
	if size <= 0 {
		size = -1
	}
	_, err := b.client.PutObject(ctx, b.cfg.Bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return nil
}

func (b *MinioBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio_open")
	defer span.End()
	span.SetAttributes(attribute.String("minio.key", key))

	if _, err := b.client.StatObject(ctx, b.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	obj, err := b.client.GetObject(ctx, b.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object from MinIO: %w", err)
	}
	return obj, nil
}

func (b *MinioBackend) URL(ctx context.Context, key string) (string, error) {
	if b.cfg.PublicBaseURL != "" {
		return strings.TrimRight(b.cfg.PublicBaseURL, "/") + "/" + key, nil
	}
	u, err := b.client.PresignedGetObject(ctx, b.cfg.Bucket, key, b.cfg.PresignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}

func (b *MinioBackend) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio_delete")
	defer span.End()
	span.SetAttributes(attribute.String("minio.key", key))

	if err := b.client.RemoveObject(ctx, b.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object from MinIO: %w", err)
	}
	return nil
}
