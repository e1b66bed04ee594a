package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by ObjectStore.Get when no object exists at the
	// requested key.
	ErrNotFound = errors.New("storage: object not found")

	// ErrInvalidKey is returned when a key or filename cannot be turned into a
	// safe object key.
	ErrInvalidKey = errors.New("storage: invalid key")

	ErrSignatureInvalid    = errors.New("storage: signature invalid")
	ErrSignatureExpired    = errors.New("storage: signature expired")
	ErrContentTypeMismatch = errors.New("storage: content type does not match signed content type")
)

// ObjectStore reads and writes whole objects by key. Implementations must be
// safe for concurrent use; a Put replaces the object atomically from the
// point of view of concurrent readers.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Signer issues time-limited URLs that grant a single HTTP verb against a
// single key without further authentication.
type Signer interface {
	// SignUpload returns a URL that accepts a PUT whose Content-Type header is
	// exactly contentType. Any other Content-Type must be rejected by the
	// party that serves the URL.
	SignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*SignedURL, error)

	// SignDownload returns a URL that serves the object at key on GET.
	SignDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error)
}

// Backend is an ObjectStore that can also sign URLs natively.
type Backend interface {
	ObjectStore
	Signer
}

// SignedURL is the outcome of a successful signing request.
type SignedURL struct {
	// Key is the object key the URL grants access to.
	Key string

	// Method is the HTTP verb the URL is valid for.
	Method string

	// URL is the capability-bearing URL.
	URL string

	// ContentType is the Content-Type a PUT must carry. Empty for downloads.
	ContentType string

	// ExpiresAt is when the URL becomes invalid.
	ExpiresAt time.Time
}
