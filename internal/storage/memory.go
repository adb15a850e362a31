package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryBackend keeps objects in process. URLs point at the API's file route.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

func NewMemoryBackend(baseURL string) *MemoryBackend {
	return &MemoryBackend{
		objects: map[string]memoryObject{},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryBackend) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[strings.TrimPrefix(key, "/")]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// ContentType reports the stored type of key, if present.
func (m *MemoryBackend) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[strings.TrimPrefix(key, "/")]
	return obj.contentType, ok
}

func (m *MemoryBackend) URL(_ context.Context, key string) (string, error) {
	return m.baseURL + "/files/" + strings.TrimPrefix(key, "/"), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, strings.TrimPrefix(key, "/"))
	m.mu.Unlock()
	return nil
}
