package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore stores objects in a NATS JetStream object store bucket. The
// bucket is created on first use if it does not exist.
type NATSStore struct {
	conn   *nats.Conn
	bucket jetstream.ObjectStore
}

// NewNATSStore connects to the NATS server at url and opens (or creates) the
// named object store bucket.
func NewNATSStore(ctx context.Context, url, bucket string, opts ...nats.Option) (*NATSStore, error) {
	if bucket == "" {
		return nil, errors.New("storage: NATS object store bucket name is required")
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to connect to NATS at %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("storage: failed to create JetStream context: %w", err)
	}

	obs, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		obs, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "plan set payloads and index",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("storage: failed to open object store %q: %w", bucket, err)
	}

	return &NATSStore{conn: nc, bucket: obs}, nil
}

// Get reads the whole object at key.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read failed for %q: %w", key, err)
	}
	return data, nil
}

// Put writes data to key. JetStream replaces the previous object only once
// all chunks of the new one have been stored.
func (s *NATSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	meta := jetstream.ObjectMeta{
		Name:    key,
		Headers: nats.Header{"Content-Type": []string{contentType}},
	}
	if _, err := s.bucket.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("storage: upload failed for %q: %w", key, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (s *NATSStore) Close() error {
	return s.conn.Drain()
}
