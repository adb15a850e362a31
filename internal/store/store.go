package store

import (
	"context"
	"errors"
	"time"

	"metagen/server/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad request")
)

// Store is the durable record of users, sessions, uploaded assets and
// generated thumbnails.
type Store interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)

	SaveRefreshToken(ctx context.Context, tok model.RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error

	CreateAsset(ctx context.Context, asset model.Asset) error
	GetAsset(ctx context.Context, id string) (model.Asset, error)
	ListAssets(ctx context.Context, userID string, kind model.AssetKind, page, pageSize int) ([]model.Asset, int, error)

	CreateThumbnail(ctx context.Context, t model.GeneratedThumbnail) error
	ListThumbnails(ctx context.Context, userID string, page, pageSize int) ([]model.GeneratedThumbnail, int, error)

	Close() error
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func paginate[T any](items []T, page, pageSize int) ([]T, int) {
	page, pageSize = normalizePage(page, pageSize)
	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		return []T{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return append([]T(nil), items[start:end]...), total
}
