package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("object not found")

// Backend is an object store for uploaded media and generated thumbnails.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// UploadKey builds users/{userID}/uploads/{uuid}{ext}. Only the extension of
// the client-supplied name survives.
func UploadKey(userID, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /?#") {
		ext = ""
	}
	return fmt.Sprintf("users/%s/uploads/%s%s", userID, uuid.NewString(), ext)
}

// CleanKey rejects keys that would escape the bucket prefix.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(path.Clean("/"+key), "/..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return key, nil
}
