// Package index maintains the authoritative mapping from plan set id to its
// record. Two repositories satisfy the same interface:
//
//	DocumentRepository: one JSON document in the object store, rewritten
//	                    wholesale on every registration
//	PostgresRepository: one row per record with a transactional upsert
//
// Both order records most recently registered first; replacing an existing
// id keeps its position.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/tomasbasham/planroom/internal/plan"
)

var (
	// ErrStorageRead is returned when the index cannot be read for a reason
	// other than it being absent or unparseable.
	ErrStorageRead = errors.New("index: storage read failed")

	// ErrStorageWrite is returned when an upsert could not be persisted. The
	// registration must be treated as not applied.
	ErrStorageWrite = errors.New("index: storage write failed")
)

// Repository is the interface for reading and updating the index.
type Repository interface {
	// List returns the current index, most recently registered first.
	List(ctx context.Context) ([]plan.Record, error)

	// Upsert inserts rec, or replaces the record with the same id, and
	// returns the resulting index.
	Upsert(ctx context.Context, rec plan.Record) ([]plan.Record, error)
}

// upsert applies rec to doc without modifying it. An existing record with
// the same id is replaced in its slot. The replacement always keeps the
// existing StorageKey, and keeps the existing CreatedAt when rec has none.
// Otherwise rec is placed at the front, stamped with now when it has no
// CreatedAt.
func upsert(doc []plan.Record, rec plan.Record, now time.Time) []plan.Record {
	for i := range doc {
		if doc[i].ID != rec.ID {
			continue
		}
		rec.StorageKey = doc[i].StorageKey
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = doc[i].CreatedAt
		}
		out := make([]plan.Record, len(doc))
		copy(out, doc)
		out[i] = rec
		return out
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	out := make([]plan.Record, 0, len(doc)+1)
	out = append(out, rec)
	return append(out, doc...)
}
