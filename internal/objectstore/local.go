package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the filesystem for development. Upload URLs
// point at the content API's local upload endpoint instead of S3.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocal creates a filesystem-backed store rooted at dir.
func NewLocal(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// PresignUpload returns a local upload URL. No signature is involved; local
// mode is development-only.
func (l *LocalStore) PresignUpload(ctx context.Context, key, contentType string, size int64) (string, error) {
	return l.baseURL + "/v1/documents/local-upload/" + key, nil
}

// Put writes an object. Used by the local upload endpoint.
func (l *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Fetch reads an object.
func (l *LocalStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Delete removes an object. Missing files do not error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve maps a key to a path under root, rejecting traversal.
func (l *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}
