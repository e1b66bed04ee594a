// Package plan provides the domain model for registered plan sets. A Record
// describes one uploaded plan set; the index of all records is owned by the
// index package.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tomasbasham/planroom/internal/storage"
)

// LetDateLayout is the calendar-date layout of Record.LetDate.
const LetDateLayout = "2006-01-02"

// ErrInvalidRecord is returned when a record fails validation.
var ErrInvalidRecord = errors.New("plan: invalid record")

// Record is one entry in the index.
type Record struct {
	// ID is an opaque identifier assigned by the creator at registration.
	ID string `json:"id"`

	Title    string `json:"title"`
	District string `json:"district"`
	CSJ      string `json:"csj"`
	Highway  string `json:"highway"`
	Version  string `json:"version"`
	Size     string `json:"size"`

	// LetDate is the letting date as YYYY-MM-DD.
	LetDate string `json:"letDate"`

	Tags []string `json:"tags"`

	// StorageKey identifies the uploaded payload in the object store.
	StorageKey string `json:"storageKey"`

	// CreatedAt is set at first registration.
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON decodes a record, accepting the legacy "s3Key" field as an
// alias for "storageKey".
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var w struct {
		plain
		S3Key string `json:"s3Key"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Record(w.plain)
	if r.StorageKey == "" {
		r.StorageKey = w.S3Key
	}
	return nil
}

// Normalize replaces a nil tag list with an empty one so records always
// serialise tags as an array.
func (r *Record) Normalize() {
	if r.Tags == nil {
		r.Tags = []string{}
	}
}

// Validate reports the first problem that prevents r from being registered.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.StorageKey == "" {
		return fmt.Errorf("%w: storageKey is required", ErrInvalidRecord)
	}
	if err := storage.ValidateUploadKey(r.StorageKey); err != nil {
		return fmt.Errorf("%w: storageKey: %w", ErrInvalidRecord, err)
	}
	if r.LetDate != "" {
		if _, err := time.Parse(LetDateLayout, r.LetDate); err != nil {
			return fmt.Errorf("%w: letDate %q is not a YYYY-MM-DD date", ErrInvalidRecord, r.LetDate)
		}
	}
	return nil
}
