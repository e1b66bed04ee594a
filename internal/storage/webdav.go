package storage

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/studio-b12/gowebdav"
)

// WebDAVConfig describes a WebDAV share used as an object store.
type WebDAVConfig struct {
	BaseURL  string
	BasePath string
	Username string
	Password string
}

// WebDAVStore stores each object as a file under BasePath on a WebDAV
// server. gowebdav has no context support, so cancellation only takes
// effect between calls.
type WebDAVStore struct {
	basePath string
	client   *gowebdav.Client
}

// NewWebDAVStore creates a WebDAVStore for cfg.
func NewWebDAVStore(cfg WebDAVConfig) (*WebDAVStore, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("storage: WebDAV base URL is required")
	}
	return &WebDAVStore{
		basePath: "/" + CleanPath(cfg.BasePath),
		client:   gowebdav.NewClient(cfg.BaseURL, cfg.Username, cfg.Password),
	}, nil
}

// Get reads the whole file at key.
func (s *WebDAVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.client.Read(s.path(key))
	if gowebdav.IsErrNotFound(err) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read failed for %q: %w", key, err)
	}
	return data, nil
}

// Put writes data to key, creating parent collections as needed. WebDAV has
// no notion of content type on write; the blob endpoint sniffs it on read.
func (s *WebDAVStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.path(key)
	if err := s.client.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: failed to create collection for %q: %w", key, err)
	}
	if err := s.client.Write(p, data, 0o644); err != nil {
		return fmt.Errorf("storage: upload failed for %q: %w", key, err)
	}
	return nil
}

func (s *WebDAVStore) path(key string) string {
	return gowebdav.Join(s.basePath, key)
}
