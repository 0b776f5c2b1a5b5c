package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/task"
	"github.com/roach88/cadence/internal/testutil"
)

var jan1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}

var monthly = task.FrequencyConfig{Type: task.FrequencyMonthly, Interval: 1}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/test.db", store.WithNow(func() time.Time { return jan1 }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixture wires an engine to a fresh store with a fixed clock and
// sequential ids.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	clock  *testutil.FixedClock
	ids    *testutil.SequentialIDs
	engine *Engine
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: setupTestStore(t),
		clock: testutil.NewFixedClock(jan1),
		ids:   testutil.NewSequentialIDs("inst"),
	}
	base := []EngineOption{WithClock(f.clock), WithIDGenerator(f.ids)}
	f.engine = New(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) group(id, parent string) *task.Group {
	f.t.Helper()
	g := &task.Group{Base: task.Base{
		ID:        task.ID(id),
		ParentID:  task.ID(parent),
		Name:      "Group " + id,
		Status:    task.StatusNotStarted,
		CreatedAt: jan1,
		UpdatedAt: jan1,
	}}
	require.NoError(f.t, f.store.Upsert(f.ctx, g))
	return g
}

func (f *fixture) template(id, parent string, due *time.Time, freq task.FrequencyConfig) *task.Template {
	f.t.Helper()
	tmpl := &task.Template{
		Base: task.Base{
			ID:         task.ID(id),
			ParentID:   task.ID(parent),
			Name:       "Water plants",
			Status:     task.StatusInProgress,
			Attributes: map[string]string{"room": "kitchen"},
			Links:      []task.ID{"note-1"},
			CreatedAt:  jan1,
			UpdatedAt:  jan1,
		},
		DueDate:   due,
		Frequency: freq,
	}
	require.NoError(f.t, f.store.Upsert(f.ctx, tmpl))
	return tmpl
}

func (f *fixture) instance(id, tmpl string, due time.Time, status task.Status) *task.Instance {
	f.t.Helper()
	inst := &task.Instance{
		Base: task.Base{
			ID:        task.ID(id),
			ParentID:  task.ID(tmpl),
			Name:      "Water plants",
			Status:    status,
			CreatedAt: jan1,
			UpdatedAt: jan1,
		},
		DueDate: due,
	}
	inserted, err := f.store.InsertInstance(f.ctx, inst)
	require.NoError(f.t, err)
	require.True(f.t, inserted)
	return inst
}

func (f *fixture) get(id string) task.Entity {
	f.t.Helper()
	e, err := f.engine.Get(f.ctx, task.ID(id))
	require.NoError(f.t, err)
	return e
}

func (f *fixture) status(id string) task.Status {
	f.t.Helper()
	return f.get(id).Common().Status
}

func (f *fixture) events(id, eventType string) []task.LogEntry {
	f.t.Helper()
	entries, err := f.store.ReadLog(f.ctx, store.LogQuery{EntityID: task.ID(id), EventType: eventType})
	require.NoError(f.t, err)
	return entries
}

var errBoom = errors.New("boom")

// flakyStore fails writes for chosen ids.
type flakyStore struct {
	*store.Store

	mu         sync.Mutex
	failUpsert map[task.ID]bool
	failDelete map[task.ID]bool
	failList   bool
}

func newFlakyStore(s *store.Store) *flakyStore {
	return &flakyStore{
		Store:      s,
		failUpsert: make(map[task.ID]bool),
		failDelete: make(map[task.ID]bool),
	}
}

func (f *flakyStore) Upsert(ctx context.Context, e task.Entity) error {
	f.mu.Lock()
	fail := f.failUpsert[e.Common().ID]
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Store.Upsert(ctx, e)
}

func (f *flakyStore) Delete(ctx context.Context, id task.ID) error {
	f.mu.Lock()
	fail := f.failDelete[id]
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Store.Delete(ctx, id)
}

func (f *flakyStore) List(ctx context.Context, filter store.Filter) ([]task.Entity, error) {
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return f.Store.List(ctx, filter)
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpsert = make(map[task.ID]bool)
	f.failDelete = make(map[task.ID]bool)
	f.failList = false
}

// failingAudit rejects every append.
type failingAudit struct{}

func (failingAudit) Append(context.Context, task.LogEntry) (int64, error) {
	return 0, errBoom
}

func TestEngine_NewDefaults(t *testing.T) {
	s := setupTestStore(t)
	e := New(s)

	assert.NotNil(t, e.freq)
	assert.Equal(t, 12, e.batchSize)
	assert.IsType(t, SystemClock{}, e.clock)
	assert.IsType(t, UUIDv7Generator{}, e.ids)
}

func TestEngine_Options(t *testing.T) {
	s := setupTestStore(t)
	e := New(s, WithBatchSize(3), WithBatchSize(0), WithAuditLog(failingAudit{}))

	assert.Equal(t, 3, e.batchSize, "non-positive batch size is ignored")
	assert.IsType(t, failingAudit{}, e.audit)
}

func TestEngine_GetMapsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Get(f.ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_Templates(t *testing.T) {
	f := newFixture(t)
	f.group("g1", "")
	f.template("t2", "g1", ptr(date(2025, 6, 1)), monthly)
	f.template("t1", "g1", ptr(date(2025, 6, 1)), monthly)

	got, err := f.engine.Templates(f.ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, task.ID("t1"), got[0].ID)
	assert.Equal(t, task.ID("t2"), got[1].ID)
}
