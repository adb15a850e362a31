package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"metagen/server/internal/model"
	"metagen/server/internal/storage"
)

const (
	sniffLen           = 3072
	videoLoadError     = "Unable to load video file. Please try a different file."
	imageLoadError     = "Unable to read image file. Please try a different file."
	unavailableMessage = "File storage is unavailable. Please try again later."
)

type AssetStore interface {
	CreateAsset(ctx context.Context, a model.Asset) error
}

// File is one multipart upload as the handler sees it.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Dimensions struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

type Response struct {
	AssetID      string     `json:"assetId"`
	FileName     string     `json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	FileType     string     `json:"fileType"`
	Duration     *float64   `json:"duration,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Metadata     Dimensions `json:"metadata"`
}

type Options struct {
	Prober  Prober
	Frames  FrameGrabber
	Logger  *slog.Logger
	TempDir string
}

// Service validates, stores and records uploaded media.
type Service struct {
	assets  AssetStore
	storage storage.Backend
	limits  model.Limits
	prober  Prober
	frames  FrameGrabber
	logger  *slog.Logger
	tempDir string
}

func NewService(assets AssetStore, backend storage.Backend, limits model.Limits, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		assets:  assets,
		storage: backend,
		limits:  limits.Normalize(),
		prober:  opts.Prober,
		frames:  opts.Frames,
		logger:  opts.Logger,
		tempDir: opts.TempDir,
	}
}

func (s *Service) Limits() model.Limits { return s.limits }

func (s *Service) Upload(ctx context.Context, userID string, f File) (model.Asset, Response, error) {
	if f.Body == nil {
		return model.Asset{}, Response{}, ErrNoFile
	}
	if s.storage == nil {
		return model.Asset{}, Response{}, &Error{Kind: KindUnavailable, Message: unavailableMessage}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return model.Asset{}, Response{}, &Error{Kind: KindInvalid, Message: "Failed to read upload", Err: err}
	}
	head = head[:n]
	if n == 0 {
		return model.Asset{}, Response{}, ErrNoFile
	}
	mimeType := detectType(f.ContentType, head)

	res := ValidateFile(mimeType, f.Size, nil, s.limits)
	if err := res.AsError(); err != nil {
		s.reject(userID, f, mimeType, res.Error)
		return model.Asset{}, Response{}, err
	}
	body := io.MultiReader(bytes.NewReader(head), f.Body)

	assetID := uuid.NewString()
	key := storage.UploadKey(userID, f.Name)
	var (
		media   Media
		size    int64
		preview []byte
	)
	if res.Kind == model.AssetVideo {
		media, size, preview, err = s.storeVideo(ctx, key, mimeType, body)
	} else {
		media, size, preview, err = s.storeImage(ctx, key, mimeType, body)
	}
	if err != nil {
		var ue *Error
		if errors.As(err, &ue) && ue.Kind != KindUnavailable {
			s.reject(userID, f, mimeType, ue.Message)
		}
		return model.Asset{}, Response{}, err
	}

	url, err := s.storage.URL(ctx, key)
	if err != nil {
		s.logger.Warn("upload_url_failed", "key", key, "error", err)
	}
	thumbURL := s.storePreview(ctx, userID, assetID, preview)

	asset := model.Asset{
		ID:          assetID,
		UserID:      userID,
		Kind:        res.Kind,
		FileName:    f.Name,
		FileType:    mimeType,
		FileSize:    size,
		StorageKey:  key,
		URL:         url,
		DurationSec: media.DurationSec,
		Metadata:    map[string]any{},
		Status:      "ready",
		CreatedAt:   time.Now().UTC(),
	}
	if media.Width > 0 {
		asset.Metadata["width"] = media.Width
		asset.Metadata["height"] = media.Height
	}
	if thumbURL != "" {
		asset.Metadata["thumbnailUrl"] = thumbURL
	}
	if err := s.assets.CreateAsset(ctx, asset); err != nil {
		if derr := s.storage.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn("upload_cleanup_failed", "key", key, "error", derr)
		}
		return model.Asset{}, Response{}, fmt.Errorf("save asset: %w", err)
	}

	s.logger.Info("upload_stored", "user_id", userID, "asset_id", assetID, "kind", res.Kind, "size", size)
	return asset, Response{
		AssetID:      assetID,
		FileName:     f.Name,
		FileSize:     size,
		FileType:     mimeType,
		Duration:     media.DurationSec,
		ThumbnailURL: thumbURL,
		Metadata:     Dimensions{Width: media.Width, Height: media.Height},
	}, nil
}

func (s *Service) storeVideo(ctx context.Context, key, mimeType string, body io.Reader) (Media, int64, []byte, error) {
	tmp, err := os.CreateTemp(s.tempDir, "metagen-upload-*")
	if err != nil {
		return Media{}, 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, io.LimitReader(body, s.limits.VideoMaxBytes+1))
	if err != nil {
		return Media{}, 0, nil, &Error{Kind: KindInvalid, Message: "Failed to read upload", Err: err}
	}
	if res := ValidateFile(mimeType, size, nil, s.limits); !res.IsValid {
		return Media{}, 0, nil, res.AsError()
	}

	var media Media
	if s.prober != nil {
		media, err = s.prober.Probe(ctx, tmp.Name())
		if err != nil {
			return Media{}, 0, nil, &Error{Kind: KindInvalid, Message: videoLoadError, Err: err}
		}
		if res := ValidateFile(mimeType, size, media.DurationSec, s.limits); !res.IsValid {
			return Media{}, 0, nil, res.AsError()
		}
	}

	var preview []byte
	if s.frames != nil {
		if preview, err = s.frames.Frame(ctx, tmp.Name()); err != nil {
			s.logger.Warn("upload_preview_failed", "key", key, "error", err)
		}
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Media{}, 0, nil, fmt.Errorf("rewind temp file: %w", err)
	}
	if err := s.storage.Put(ctx, key, tmp, size, mimeType); err != nil {
		return Media{}, 0, nil, &Error{Kind: KindUnavailable, Message: unavailableMessage, Err: err}
	}
	return media, size, preview, nil
}

func (s *Service) storeImage(ctx context.Context, key, mimeType string, body io.Reader) (Media, int64, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.limits.ImageMaxBytes+1))
	if err != nil {
		return Media{}, 0, nil, &Error{Kind: KindInvalid, Message: "Failed to read upload", Err: err}
	}
	size := int64(len(data))
	if res := ValidateFile(mimeType, size, nil, s.limits); !res.IsValid {
		return Media{}, 0, nil, res.AsError()
	}
	w, h, err := imageDimensions(data)
	if err != nil {
		return Media{}, 0, nil, &Error{Kind: KindInvalid, Message: imageLoadError, Err: err}
	}
	preview, err := imagePreview(data)
	if err != nil {
		s.logger.Warn("upload_preview_failed", "key", key, "error", err)
	}
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), size, mimeType); err != nil {
		return Media{}, 0, nil, &Error{Kind: KindUnavailable, Message: unavailableMessage, Err: err}
	}
	return Media{Width: w, Height: h}, size, preview, nil
}

func (s *Service) storePreview(ctx context.Context, userID, assetID string, preview []byte) string {
	if len(preview) == 0 {
		return ""
	}
	key := fmt.Sprintf("users/%s/previews/%s.jpg", userID, assetID)
	if err := s.storage.Put(ctx, key, bytes.NewReader(preview), int64(len(preview)), "image/jpeg"); err != nil {
		s.logger.Warn("upload_preview_store_failed", "key", key, "error", err)
		return ""
	}
	url, err := s.storage.URL(ctx, key)
	if err != nil {
		s.logger.Warn("upload_preview_url_failed", "key", key, "error", err)
		return ""
	}
	return url
}

func (s *Service) reject(userID string, f File, mimeType, reason string) {
	s.logger.Info("upload_rejected", "user_id", userID, "file_name", f.Name, "file_type", mimeType, "size", f.Size, "reason", reason)
}

// detectType prefers the sniffed type when it is one we accept, and falls
// back to the declared header otherwise.
func detectType(declared string, head []byte) string {
	sniffed := mimetype.Detect(head)
	for _, allowed := range append(append([]string{}, VideoTypes...), ImageTypes...) {
		if sniffed.Is(allowed) {
			return allowed
		}
	}
	declared = baseType(declared)
	if declared == "" || declared == "application/octet-stream" {
		return baseType(sniffed.String())
	}
	return declared
}
