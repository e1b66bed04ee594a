package index

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomasbasham/planroom/internal/plan"
	"github.com/tomasbasham/planroom/internal/storage"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(store storage.ObjectStore) *DocumentRepository {
	r := NewDocumentRepository(store, zap.NewNop())
	r.now = func() time.Time { return fixedNow }
	return r
}

func record(id, title string) plan.Record {
	return plan.Record{
		ID:         id,
		Title:      title,
		Tags:       []string{},
		StorageKey: id + ".pdf",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func storedDocument(t *testing.T, store storage.ObjectStore) []plan.Record {
	t.Helper()
	data, err := store.Get(context.Background(), DocumentKey)
	require.NoError(t, err)

	var doc []plan.Record
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestListMissingDocumentIsEmpty(t *testing.T) {
	repo := newTestRepository(storage.NewMemoryStore())

	doc, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestListUnparseableDocumentIsEmpty(t *testing.T) {
	for _, body := range []string{"not json", `{"items": []}`, "null", `[{"id": 5}]`} {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(context.Background(), DocumentKey, []byte(body), "application/json"))

		doc, err := newTestRepository(store).List(context.Background())
		require.NoError(t, err, "body %q", body)
		assert.Empty(t, doc, "body %q", body)
	}
}

func TestListReadFailureIsEmpty(t *testing.T) {
	store := &faultyStore{getErr: errors.New("connection reset")}

	doc, err := newTestRepository(store).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestUpsertNewRecordGoesFirst(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	repo := newTestRepository(store)

	_, err := repo.Upsert(ctx, record("a", "first"))
	require.NoError(t, err)
	doc, err := repo.Upsert(ctx, record("b", "second"))
	require.NoError(t, err)

	require.Len(t, doc, 2)
	assert.Equal(t, "b", doc[0].ID)
	assert.Equal(t, "a", doc[1].ID)
	assert.Equal(t, doc, storedDocument(t, store))
}

func TestUpsertReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	repo := newTestRepository(store)

	for _, rec := range []plan.Record{record("a", "a1"), record("b", "b1"), record("a", "a2")} {
		_, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	doc := storedDocument(t, store)
	require.Len(t, doc, 2)
	assert.Equal(t, "b", doc[0].ID)
	assert.Equal(t, "b1", doc[0].Title)
	assert.Equal(t, "a", doc[1].ID, "replaced record keeps its slot")
	assert.Equal(t, "a2", doc[1].Title, "replaced record holds the last written content")
}

func TestUpsertCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(storage.NewMemoryStore())

	rec := record("a", "a1")
	rec.CreatedAt = time.Time{}
	doc, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, doc[0].CreatedAt, "new record without createdAt is stamped")

	repo.now = func() time.Time { return fixedNow.Add(time.Hour) }
	rec.Title = "a2"
	doc, err = repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, doc[0].CreatedAt, "replacement without createdAt keeps the original")
	assert.Equal(t, "a2", doc[0].Title)
}

func TestUpsertKeepsStorageKey(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(storage.NewMemoryStore())

	_, err := repo.Upsert(ctx, record("a", "a1"))
	require.NoError(t, err)

	moved := record("a", "a2")
	moved.StorageKey = "elsewhere/a.pdf"
	doc, err := repo.Upsert(ctx, moved)
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "a.pdf", doc[0].StorageKey)
	assert.Equal(t, "a2", doc[0].Title)
}

func TestUpsertRequiresID(t *testing.T) {
	_, err := newTestRepository(storage.NewMemoryStore()).Upsert(context.Background(), record("", "x"))
	assert.ErrorIs(t, err, plan.ErrInvalidRecord)
}

func TestUpsertOverUnparseableDocumentStartsFresh(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, DocumentKey, []byte("{corrupt"), "application/json"))

	doc, err := newTestRepository(store).Upsert(ctx, record("a", "a1"))
	require.NoError(t, err)
	assert.Len(t, doc, 1)
	assert.Len(t, storedDocument(t, store), 1)
}

func TestUpsertReadFailureAborts(t *testing.T) {
	store := &faultyStore{getErr: errors.New("connection reset")}

	_, err := newTestRepository(store).Upsert(context.Background(), record("a", "a1"))
	assert.ErrorIs(t, err, ErrStorageRead)
	assert.Zero(t, store.puts, "nothing is written when the index could not be read")
}

func TestUpsertWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: storage.NewMemoryStore(), putErr: errors.New("quota exceeded")}
	repo := newTestRepository(store)

	_, err := repo.Upsert(ctx, record("a", "a1"))
	assert.ErrorIs(t, err, ErrStorageWrite)

	doc, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc, "a failed registration is not applied")
}

func TestRegisterThenReregister(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(storage.NewMemoryStore())

	input := plan.Record{
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

	_, err := repo.Upsert(ctx, input)
	require.NoError(t, err)

	doc, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, input, doc[0])

	updated := input
	updated.Title = "IH35 Set v2"
	_, err = repo.Upsert(ctx, updated)
	require.NoError(t, err)

	doc, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "IH35 Set v2", doc[0].Title)
}

// TestConcurrentUpsertLosesEarlierWrite documents the lost update inherent
// in the document repository: when two registrations read the same snapshot,
// the later write replaces the earlier one wholesale.
func TestConcurrentUpsertLosesEarlierWrite(t *testing.T) {
	ctx := context.Background()
	store := newBarrierStore(2)
	repo := newTestRepository(store)

	// Prior snapshot S.
	require.NoError(t, store.MemoryStore.Put(ctx, DocumentKey, mustJSON(t, []plan.Record{record("s", "existing")}), "application/json"))

	var wg sync.WaitGroup
	for _, rec := range []plan.Record{record("r1", "one"), record("r2", "two")} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Upsert(ctx, rec)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, store.writes, 2)
	last := store.writes[1]

	doc := storedDocument(t, store.MemoryStore)
	gotIDs := make([]string, len(doc))
	for i, r := range doc {
		gotIDs[i] = r.ID
	}

	assert.Equal(t, []string{last, "s"}, gotIDs, "the final document is the last writer's S ∪ {r}")
	assert.Len(t, doc, 2, "the two registrations never both survive")
}

// faultyStore fails Get or Put with a fixed error.
type faultyStore struct {
	*storage.MemoryStore
	getErr error
	putErr error
	puts   int
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, key, data, contentType)
}

// barrierStore holds every Get until n readers have arrived, so concurrent
// upserts are guaranteed to read the same snapshot. It records the id of
// the newest record in each write, in write order.
type barrierStore struct {
	*storage.MemoryStore

	arrived sync.WaitGroup
	mu      sync.Mutex
	writes  []string
}

func newBarrierStore(n int) *barrierStore {
	s := &barrierStore{MemoryStore: storage.NewMemoryStore()}
	s.arrived.Add(n)
	return s
}

func (s *barrierStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.MemoryStore.Get(ctx, key)
	s.arrived.Done()
	s.arrived.Wait()
	return data, err
}

func (s *barrierStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var doc []plan.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	// Serialise the write and its bookkeeping so writes reflects the order in
	// which the store was overwritten.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, doc[0].ID)
	return s.MemoryStore.Put(ctx, key, data, contentType)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
