package plan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		ID:         "p1",
		Title:      "IH35 Set",
		District:   "Austin",
		CSJ:        "0015-13-200",
		Highway:    "IH 35",
		LetDate:    "2024-01-01",
		Version:    "v1",
		Tags:       []string{"Roadway"},
		StorageKey: "austin/ih35/plan.pdf",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecordJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(validRecord())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "p1",
		"title": "IH35 Set",
		"district": "Austin",
		"csj": "0015-13-200",
		"highway": "IH 35",
		"version": "v1",
		"size": "",
		"letDate": "2024-01-01",
		"tags": ["Roadway"],
		"storageKey": "austin/ih35/plan.pdf",
		"createdAt": "2024-01-01T00:00:00Z"
	}`, string(data))
}

func TestRecordAcceptsLegacyKeyField(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","s3Key":"austin/plan.pdf"}`), &r))
	assert.Equal(t, "austin/plan.pdf", r.StorageKey)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","s3Key":"old.pdf","storageKey":"new.pdf"}`), &r))
	assert.Equal(t, "new.pdf", r.StorageKey)
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{"valid", func(*Record) {}, false},
		{"missing id", func(r *Record) { r.ID = "" }, true},
		{"missing storage key", func(r *Record) { r.StorageKey = "" }, true},
		{"traversing storage key", func(r *Record) { r.StorageKey = "../plan.pdf" }, true},
		{"index document key", func(r *Record) { r.StorageKey = "index.json" }, true},
		{"bad let date", func(r *Record) { r.LetDate = "01/02/2024" }, true},
		{"empty let date", func(r *Record) { r.LetDate = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordNormalize(t *testing.T) {
	r := Record{ID: "p1"}
	r.Normalize()
	assert.NotNil(t, r.Tags)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tags":[]`)
}
