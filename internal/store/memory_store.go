package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"metagen/server/internal/model"
)

type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]model.User
	userByEmail map[string]string

	refreshTokens map[string]model.RefreshToken

	assets     map[string]model.Asset
	thumbnails map[string]model.GeneratedThumbnail
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]model.User{},
		userByEmail:   map[string]string{},
		refreshTokens: map[string]model.RefreshToken{},
		assets:        map[string]model.Asset{},
		thumbnails:    map[string]model.GeneratedThumbnail{},
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, ok := s.userByEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := s.users[user.ID]; ok {
		return ErrConflict
	}
	s.users[user.ID] = user
	s.userByEmail[email] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userByEmail[strings.ToLower(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) SaveRefreshToken(_ context.Context, tok model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[tok.ID] = tok
	return nil
}

func (s *MemoryStore) GetRefreshToken(_ context.Context, id string) (model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.refreshTokens[id]
	if !ok {
		return model.RefreshToken{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refreshTokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.RevokedAt = &revokedAt
	s.refreshTokens[id] = tok
	return nil
}

func (s *MemoryStore) CreateAsset(_ context.Context, asset model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[asset.ID]; ok {
		return ErrConflict
	}
	s.assets[asset.ID] = asset
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return model.Asset{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, userID string, kind model.AssetKind, page, pageSize int) ([]model.Asset, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Asset
	for _, a := range s.assets {
		if a.UserID != userID {
			continue
		}
		if kind != "" && a.Kind != kind {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	items, total := paginate(out, page, pageSize)
	return items, total, nil
}

func (s *MemoryStore) CreateThumbnail(_ context.Context, t model.GeneratedThumbnail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.thumbnails[t.ID]; ok {
		return ErrConflict
	}
	s.thumbnails[t.ID] = t
	return nil
}

func (s *MemoryStore) ListThumbnails(_ context.Context, userID string, page, pageSize int) ([]model.GeneratedThumbnail, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GeneratedThumbnail
	for _, t := range s.thumbnails {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	items, total := paginate(out, page, pageSize)
	return items, total, nil
}

func (s *MemoryStore) Close() error { return nil }
