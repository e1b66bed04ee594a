package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultS3Endpoint is used when S3Config.Endpoint is empty.
const DefaultS3Endpoint = "s3.amazonaws.com"

// maxS3PresignTTL is the longest expiry SigV4 allows for a presigned URL.
const maxS3PresignTTL = 7 * 24 * time.Hour

// S3Config describes an S3 or S3-compatible bucket.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// Insecure disables TLS, for local S3-compatible servers.
	Insecure bool
}

// S3Store stores objects in an S3 bucket and presigns SigV4 URLs against it.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates an S3Store from cfg. Static credentials are used when an
// access key is configured; otherwise the standard AWS environment and
// instance metadata chain is consulted.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: S3 bucket name is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultS3Endpoint
	}

	creds := credentials.NewIAM("")
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create S3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Get reads the whole object at key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readError(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readError(key, err)
	}
	return data, nil
}

func (s *S3Store) readError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return fmt.Errorf("storage: read failed for %q: %w", key, err)
}

// Put writes data to key, replacing any existing object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: upload failed for %q: %w", key, err)
	}
	return nil
}

// SignUpload presigns a PUT that includes Content-Type in its signed
// headers, so S3 rejects a PUT carrying any other content type.
func (s *S3Store) SignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*SignedURL, error) {
	if err := checkS3TTL(ttl); err != nil {
		return nil, err
	}

	headers := make(http.Header)
	headers.Set("Content-Type", contentType)

	expiresAt := time.Now().Add(ttl)
	u, err := s.client.PresignHeader(ctx, http.MethodPut, s.bucket, key, ttl, nil, headers)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to presign upload for %q: %w", key, err)
	}

	return &SignedURL{
		Key:         key,
		Method:      http.MethodPut,
		URL:         u.String(),
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

// SignDownload presigns a GET for key.
func (s *S3Store) SignDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	if err := checkS3TTL(ttl); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(ttl)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to presign download for %q: %w", key, err)
	}

	return &SignedURL{
		Key:       key,
		Method:    http.MethodGet,
		URL:       u.String(),
		ExpiresAt: expiresAt,
	}, nil
}

func checkS3TTL(ttl time.Duration) error {
	if ttl < time.Second || ttl > maxS3PresignTTL {
		return fmt.Errorf("storage: S3 presign expiry %s outside [1s, %s]", ttl, maxS3PresignTTL)
	}
	return nil
}
