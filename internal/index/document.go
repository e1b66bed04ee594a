package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tomasbasham/planroom/internal/plan"
	"github.com/tomasbasham/planroom/internal/storage"
)

// DocumentKey is the well-known object key holding the index document.
// Upload keys can never take it.
const DocumentKey = storage.IndexKey

// DocumentRepository keeps the whole index as one JSON array in an object
// store. Every call reads the document afresh; there is no cache.
//
// Upsert is a read-modify-write without mutual exclusion. Two registrations
// that read the same snapshot both write, and the later write wins in full:
// the earlier registration is lost. Deployments that cannot accept this
// should use PostgresRepository.
type DocumentRepository struct {
	store  storage.ObjectStore
	key    string
	logger *zap.Logger
	now    func() time.Time
}

// NewDocumentRepository creates a DocumentRepository over store using
// DocumentKey.
func NewDocumentRepository(store storage.ObjectStore, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		store:  store,
		key:    DocumentKey,
		logger: logger,
		now:    time.Now,
	}
}

// List returns the current index. Any failure to read or parse the document
// is logged and served as an empty index.
func (r *DocumentRepository) List(ctx context.Context) ([]plan.Record, error) {
	doc, err := r.read(ctx)
	if err != nil {
		r.logger.Warn("index unreadable, serving empty index", zap.String("key", r.key), zap.Error(err))
		return []plan.Record{}, nil
	}
	return doc, nil
}

// Upsert reads the document, applies rec and writes the whole document back.
// A missing or unparseable document counts as empty; any other read failure
// aborts with ErrStorageRead rather than overwrite an index it could not see.
func (r *DocumentRepository) Upsert(ctx context.Context, rec plan.Record) ([]plan.Record, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", plan.ErrInvalidRecord)
	}

	current, err := r.read(ctx)
	if err != nil {
		return nil, err
	}

	doc := upsert(current, rec, r.now().UTC())

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal index: %w", ErrStorageWrite, err)
	}
	if err := r.store.Put(ctx, r.key, data, "application/json"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	r.logger.Info("index updated", zap.String("id", rec.ID), zap.Int("count", len(doc)))
	return doc, nil
}

func (r *DocumentRepository) read(ctx context.Context) ([]plan.Record, error) {
	data, err := r.store.Get(ctx, r.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []plan.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}

	var doc []plan.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn("index document is not a record array, treating as empty", zap.String("key", r.key), zap.Error(err))
		return []plan.Record{}, nil
	}
	if doc == nil {
		doc = []plan.Record{}
	}
	return doc, nil
}
