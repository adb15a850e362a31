package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore keeps serialized workspace state between process lifetimes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, workspaceID string, data []byte) error
	LoadSnapshot(ctx context.Context, workspaceID string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, workspaceID string) error
}

type memorySnapshot struct {
	data      []byte
	expiresAt time.Time
}

type MemorySnapshotStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]memorySnapshot
	now   func() time.Time
}

func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	return &MemorySnapshotStore{ttl: ttl, items: map[string]memorySnapshot{}, now: time.Now}
}

func (m *MemorySnapshotStore) SaveSnapshot(_ context.Context, workspaceID string, data []byte) error {
	snap := memorySnapshot{data: append([]byte(nil), data...)}
	if m.ttl > 0 {
		snap.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.items[workspaceID] = snap
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotStore) LoadSnapshot(_ context.Context, workspaceID string) ([]byte, error) {
	m.mu.RLock()
	snap, ok := m.items[workspaceID]
	m.mu.RUnlock()
	if !ok || (!snap.expiresAt.IsZero() && m.now().After(snap.expiresAt)) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), snap.data...), nil
}

func (m *MemorySnapshotStore) DeleteSnapshot(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	delete(m.items, workspaceID)
	m.mu.Unlock()
	return nil
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisSnapshotStore keeps snapshots under prefix+workspaceID with a sliding
// TTL refreshed on every save.
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSnapshotStore(ctx context.Context, cfg RedisConfig) (*RedisSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "metagen:workspace:"
	}
	return &RedisSnapshotStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (r *RedisSnapshotStore) key(workspaceID string) string { return r.prefix + workspaceID }

func (r *RedisSnapshotStore) SaveSnapshot(ctx context.Context, workspaceID string, data []byte) error {
	return r.client.Set(ctx, r.key(workspaceID), data, r.ttl).Err()
}

func (r *RedisSnapshotStore) LoadSnapshot(ctx context.Context, workspaceID string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(workspaceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, workspaceID string) error {
	return r.client.Del(ctx, r.key(workspaceID)).Err()
}

func (r *RedisSnapshotStore) Close() error { return r.client.Close() }
