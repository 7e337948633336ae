package rowcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowcache/cache"
	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
	"github.com/hupe1980/rowcache/rowstore"
)

func newEngineBuf(t *testing.T, n, dim int) *rows.Buffer {
	t.Helper()
	b, err := rows.New(n, dim)
	require.NoError(t, err)
	return b
}

func newTestEngine(t *testing.T, optFns ...func(o *Options)) *Engine {
	t.Helper()

	store, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	require.NoError(t, err)

	e, err := New(store, 1000, 4, optFns...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestNew_Validation(t *testing.T) {
	store, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	require.NoError(t, err)
	defer store.Close()

	_, err = New(nil, 1000, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(store, 1000, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(store, 0, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(store, 1000, 4, func(o *Options) {
		o.CacheRows = 10
		o.Associativity = 4
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_LookupRoundTrip(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 8
		o.Associativity = 2
		o.PrefetchDist = 0
	})

	ctx := context.Background()

	b, err := e.Lookup(ctx, []model.Index{5, -1, 5, 9})
	require.NoError(t, err)

	resolved, err := b.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, resolved.Addresses, 4)

	assert.Equal(t, model.TierNone, resolved.Addresses[1].Tier)
	assert.Equal(t, resolved.Addresses[0], resolved.Addresses[2], "duplicates share one address")

	assert.Nil(t, b.Row(1), "sentinel position has no row")
	require.NotNil(t, b.Row(0))
	assert.Equal(t, make([]float32, 4), b.Row(0), "unwritten rows read as zero")

	require.NoError(t, b.Retire(ctx))
	require.NoError(t, b.Retire(ctx), "retire is idempotent")
}

func TestEngine_EvictionPersistsRows(t *testing.T) {
	// A single 2-way set: the third distinct index must evict, and the
	// evicted row's data must survive the round trip through the store.
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 2
		o.Associativity = 2
		o.PrefetchDist = 0
	})

	ctx := context.Background()

	b1, err := e.Lookup(ctx, []model.Index{1, 2})
	require.NoError(t, err)
	copy(b1.Row(0), []float32{10, 10, 10, 10})
	copy(b1.Row(1), []float32{20, 20, 20, 20})
	require.NoError(t, b1.Retire(ctx))

	// Displaces rows 1 and 2; the worker persists the mutated cache rows
	// before the new rows land.
	b2, err := e.Lookup(ctx, []model.Index{3, 4})
	require.NoError(t, err)
	require.NoError(t, b2.Retire(ctx))

	b3, err := e.Lookup(ctx, []model.Index{1})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 10, 10, 10}, b3.Row(0))
	require.NoError(t, b3.Retire(ctx))
}

func TestEngine_StagingWriteback(t *testing.T) {
	// With a prefetch distance of 1, rows admitted by the previous pass
	// are pinned, so a full set forces staging.
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 2
		o.Associativity = 2
		o.PrefetchDist = 1
	})

	ctx := context.Background()

	b1, err := e.Lookup(ctx, []model.Index{1, 2})
	require.NoError(t, err)
	require.NoError(t, b1.Retire(ctx))

	b2, err := e.Lookup(ctx, []model.Index{5})
	require.NoError(t, err)

	resolved, err := b2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TierStaging, resolved.Addresses[0].Tier)
	assert.Equal(t, []model.Index{5}, resolved.Writeback)

	copy(b2.Row(0), []float32{5, 5, 5, 5})
	require.NoError(t, b2.Retire(ctx))

	// The pins have aged out; row 5 comes back from the store with the
	// written-back values and a cache slot.
	b3, err := e.Lookup(ctx, []model.Index{5})
	require.NoError(t, err)

	resolved3, err := b3.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TierCache, resolved3.Addresses[0].Tier)
	assert.Equal(t, []float32{5, 5, 5, 5}, b3.Row(0))
	require.NoError(t, b3.Retire(ctx))
}

func TestEngine_PrefetchOverlap(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 64
		o.Associativity = 8
		o.PrefetchDist = 2
	})

	ctx := context.Background()

	b1, err := e.Prefetch(ctx, []model.Index{1, 2, 3})
	require.NoError(t, err)

	b2, err := e.Prefetch(ctx, []model.Index{4, 5, 6})
	require.NoError(t, err)

	assert.Less(t, b1.Timestep(), b2.Timestep())

	_, err = b2.Wait(ctx)
	require.NoError(t, err)
	_, err = b1.Wait(ctx)
	require.NoError(t, err)

	require.NoError(t, b1.Retire(ctx))
	require.NoError(t, b2.Retire(ctx))
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 8
		o.Associativity = 2
		o.PrefetchDist = 0
		o.GatherStats = true
		o.SetFunc = cache.ModuloSetFunc
	})

	ctx := context.Background()

	b1, err := e.Lookup(ctx, []model.Index{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, b1.Retire(ctx))

	b2, err := e.Lookup(ctx, []model.Index{1, 2, 7})
	require.NoError(t, err)
	require.NoError(t, b2.Retire(ctx))

	stats := e.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(2), stats.Batches())
	assert.Equal(t, int64(2), stats.Hits())
	assert.Equal(t, int64(4), stats.Misses())
}

func TestEngine_SetFuncOption(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 4
		o.Associativity = 2
		o.PrefetchDist = 0
		o.SetFunc = cache.ModuloSetFunc
	})

	ctx := context.Background()

	// Indices 0 and 2 share set 0 under modulo placement with 2 sets.
	b, err := e.Lookup(ctx, []model.Index{0, 2})
	require.NoError(t, err)

	resolved, err := b.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TierCache, resolved.Addresses[0].Tier)
	assert.Equal(t, model.TierCache, resolved.Addresses[1].Tier)
	require.NoError(t, b.Retire(ctx))
}

func TestEngine_OffHeap(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.CacheRows = 8
		o.Associativity = 2
		o.PrefetchDist = 0
		o.OffHeap = true
	})

	ctx := context.Background()

	b, err := e.Lookup(ctx, []model.Index{11, 12})
	require.NoError(t, err)
	copy(b.Row(0), []float32{1, 2, 3, 4})
	assert.Equal(t, []float32{1, 2, 3, 4}, b.Row(0))
	require.NoError(t, b.Retire(ctx))
}

func TestEngine_Closed(t *testing.T) {
	store, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	require.NoError(t, err)

	e, err := New(store, 1000, 4)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	_, err = e.Prefetch(context.Background(), []model.Index{1})
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, e.Flush(context.Background()), ErrClosed)
	assert.ErrorIs(t, e.Compact(context.Background()), ErrClosed)
}

var errStoreDown = errors.New("row store down")

// faultStore wraps a Store and fails Get or Set on demand.
type faultStore struct {
	rowstore.Store
	failGet atomic.Bool
	failSet atomic.Bool
}

func (s *faultStore) Get(ctx context.Context, indices []model.Index, dst *rows.Buffer, count int) error {
	if s.failGet.Load() {
		return errStoreDown
	}
	return s.Store.Get(ctx, indices, dst, count)
}

func (s *faultStore) Set(ctx context.Context, indices []model.Index, src *rows.Buffer, count int, timestep int64) error {
	if s.failSet.Load() {
		return errStoreDown
	}
	return s.Store.Set(ctx, indices, src, count, timestep)
}

func TestEngine_FetchFailureInvalidatesAdmissions(t *testing.T) {
	mem, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	require.NoError(t, err)

	ctx := context.Background()

	src := newEngineBuf(t, 1, 4)
	copy(src.Row(0), []float32{42, 42, 42, 42})
	require.NoError(t, mem.Set(ctx, []model.Index{5}, src, 1, 0))

	store := &faultStore{Store: mem}

	e, err := New(store, 1000, 4, func(o *Options) {
		o.CacheRows = 8
		o.Associativity = 2
		o.PrefetchDist = 0
	})
	require.NoError(t, err)
	defer e.Close()

	// The admission pass marks row 5 resident, then the backing fetch
	// fails; the slot must not stay resident with an unfetched row.
	store.failGet.Store(true)
	_, err = e.Lookup(ctx, []model.Index{5})
	assert.ErrorIs(t, err, errStoreDown)

	// After the store recovers, the row must be fetched again rather than
	// served from the never-filled slot.
	store.failGet.Store(false)
	b, err := e.Lookup(ctx, []model.Index{5})
	require.NoError(t, err)
	assert.Equal(t, []float32{42, 42, 42, 42}, b.Row(0))
	require.NoError(t, b.Retire(ctx))
}

func TestEngine_PersistFailureRestoresDisplacedRows(t *testing.T) {
	mem, err := rowstore.NewMemoryStore(4, rowstore.UniformInit{})
	require.NoError(t, err)

	store := &faultStore{Store: mem}

	e, err := New(store, 1000, 4, func(o *Options) {
		o.CacheRows = 2
		o.Associativity = 2
		o.PrefetchDist = 0
	})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()

	b1, err := e.Lookup(ctx, []model.Index{1, 2})
	require.NoError(t, err)
	copy(b1.Row(0), []float32{10, 10, 10, 10})
	require.NoError(t, b1.Retire(ctx))

	// Row 3 displaces row 1, but persisting row 1 fails. Row 1 was never
	// written to the store, so it must keep its slot and its data.
	store.failSet.Store(true)
	_, err = e.Lookup(ctx, []model.Index{3})
	assert.ErrorIs(t, err, errStoreDown)

	store.failSet.Store(false)
	b2, err := e.Lookup(ctx, []model.Index{1})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 10, 10, 10}, b2.Row(0))
	require.NoError(t, b2.Retire(ctx))
}

func TestEngine_OutOfRangeIndex(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Prefetch(context.Background(), []model.Index{1000})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
