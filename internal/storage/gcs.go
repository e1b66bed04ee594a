// Package storage provides the object stores that hold uploaded plan sets and
// the index document, together with the issuing of time-limited signed URLs
// for direct upload and download. GCS and S3 sign natively; the remaining
// backends rely on HMACSigner and the server's blob endpoint.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore stores objects in a Google Cloud Storage bucket and signs V4 URLs
// against it.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a GCSStore for the given bucket. opts are passed
// through to the underlying GCS client, allowing credential injection.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: GCS bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Get reads the whole object at key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read failed for %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read failed for %q: %w", key, err)
	}
	return data, nil
}

// Put writes data to key, replacing any existing object. GCS only makes the
// new generation visible once the writer is closed successfully.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: upload write failed for %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: upload close failed for %q: %w", key, err)
	}
	return nil
}

// SignUpload returns a V4 signed PUT URL bound to contentType.
func (s *GCSStore) SignUpload(_ context.Context, key, contentType string, ttl time.Duration) (*SignedURL, error) {
	return s.sign(key, http.MethodPut, contentType, ttl)
}

// SignDownload returns a V4 signed GET URL.
func (s *GCSStore) SignDownload(_ context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	return s.sign(key, http.MethodGet, "", ttl)
}

func (s *GCSStore) sign(key, method, contentType string, ttl time.Duration) (*SignedURL, error) {
	expiresAt := time.Now().Add(ttl)
	signedURL, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      method,
		ContentType: contentType,
		Expires:     expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to sign URL for %q: %w", key, err)
	}

	return &SignedURL{
		Key:         key,
		Method:      method,
		URL:         signedURL,
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
