package rowcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rowcache/cache"
	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
	"github.com/hupe1980/rowcache/rowstore"
)

// Resolved is the per-batch address resolution; see cache.Resolved.
type Resolved = cache.Resolved

// Engine ties the admission engine, the fast-cache buffer, and a
// persistent row store into a prefetching pipeline.
//
// Admission decisions run synchronously in Prefetch; the storage I/O they
// imply (persisting evicted rows, fetching missing rows) runs on a single
// background worker in submission order, so batch N's evictions are
// durable before batch N+1 can reuse the freed slots.
type Engine struct {
	store     rowstore.Store
	cache     *cache.Cache
	cacheBuf  *rows.Buffer
	dim       int
	totalRows int64
	opts      Options
	logger    *Logger

	mu       sync.Mutex // guards cache state, timestep, and job submission
	timestep int64

	jobs   chan *Batch
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an Engine over a logical table of totalRows rows of width
// dim, backed by store. The engine takes ownership of the store and closes
// it on Close.
func New(store rowstore.Store, totalRows int64, dim int, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if store == nil {
		return nil, fmt.Errorf("%w: store must be set", ErrInvalidArgument)
	}

	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidArgument, dim)
	}

	if opts.CacheRows <= 0 || opts.Associativity <= 0 || opts.CacheRows%opts.Associativity != 0 {
		return nil, fmt.Errorf("%w: cache of %d rows not divisible into sets of %d", ErrInvalidArgument, opts.CacheRows, opts.Associativity)
	}

	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}

	c, err := cache.New(cache.Config{
		TotalRows:     totalRows,
		Sets:          opts.CacheRows / opts.Associativity,
		Associativity: opts.Associativity,
		PrefetchDist:  opts.PrefetchDist,
		SetFunc:       opts.SetFunc,
		GatherStats:   opts.GatherStats,
	})
	if err != nil {
		return nil, err
	}

	newBuf := rows.New
	if opts.OffHeap {
		newBuf = rows.NewOffHeap
	}

	cacheBuf, err := newBuf(opts.CacheRows, dim)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		cache:     c,
		cacheBuf:  cacheBuf,
		dim:       dim,
		totalRows: totalRows,
		opts:      opts,
		logger:    opts.Logger,
		jobs:      make(chan *Batch, 16),
	}

	e.wg.Add(1)
	go e.worker()

	e.logger.Info("engine opened",
		"total_rows", totalRows,
		"dim", dim,
		"cache_rows", opts.CacheRows,
		"associativity", opts.Associativity,
		"prefetch_dist", opts.PrefetchDist,
		"off_heap", opts.OffHeap,
	)

	return e, nil
}

// Prefetch runs one admission pass over indices and queues the storage I/O
// the pass requires. The returned Batch becomes usable after Wait.
//
// Indices may contain duplicates and negative sentinels. Batches are
// processed strictly in Prefetch order.
func (e *Engine) Prefetch(ctx context.Context, indices []model.Index) (*Batch, error) {
	e.mu.Lock()

	if e.closed.Load() {
		e.mu.Unlock()
		return nil, ErrClosed
	}

	e.timestep++
	ts := e.timestep

	res, err := e.cache.PopulateActions(indices, ts+e.opts.PrefetchDist)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("prefetch: %w", err)
	}

	staging, err := rows.New(res.InsertedCount(), e.dim)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("prefetch: %w", err)
	}

	b := &Batch{
		engine:   e,
		res:      res,
		staging:  staging,
		timestep: ts,
		done:     make(chan struct{}),
	}

	// Submission under the lock keeps the job queue in timestep order and
	// serializes against Close.
	e.jobs <- b
	e.mu.Unlock()

	e.logger.LogPrefetch(ctx, ts, len(indices), res.UniqueCount(), res.InsertedCount(), len(res.Evicted))

	return b, nil
}

// Lookup is the synchronous convenience path: Prefetch immediately
// followed by Wait, for callers that do not overlap I/O with compute.
func (e *Engine) Lookup(ctx context.Context, indices []model.Index) (*Batch, error) {
	b, err := e.Prefetch(ctx, indices)
	if err != nil {
		return nil, err
	}

	if _, err := b.Wait(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

// Flush makes all store writes accepted so far durable.
func (e *Engine) Flush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	err := e.store.Flush(ctx)
	e.logger.LogFlush(ctx, err)

	return err
}

// Compact asks the store to reclaim space held by overwritten rows.
func (e *Engine) Compact(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	err := e.store.Compact(ctx)
	e.logger.LogCompact(ctx, err)

	return err
}

// Stats returns the hit/miss/eviction accumulator, or nil when stats are
// disabled.
func (e *Engine) Stats() *cache.Stats {
	return e.cache.Stats()
}

// Timestep returns the logical time of the most recent Prefetch.
func (e *Engine) Timestep() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timestep
}

// Close drains in-flight batches, releases the cache buffer, and closes
// the store. Close is idempotent; operations after Close return ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	close(e.jobs)
	e.mu.Unlock()

	e.wg.Wait()

	err := e.cacheBuf.Close()
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}

	e.logger.Info("engine closed")

	return err
}

// worker drains the job queue in FIFO order. A single worker keeps the
// persist-evicted-then-fetch ordering between batches without locking the
// cache buffer.
func (e *Engine) worker() {
	defer e.wg.Done()

	for b := range e.jobs {
		ctx := context.Background()
		b.err = e.process(ctx, b)
		e.logger.LogBatchIO(ctx, b.timestep, b.err)
		close(b.done)
	}
}

// process performs the storage I/O for one batch: persist displaced rows,
// fetch missing rows into staging, copy admitted rows into the cache.
//
// On failure the pass's admissions are rolled back before the batch is
// marked done: the admitted slots never received their rows, so leaving
// them resident would let later batches hit on them and read stale data
// without an error. If the displaced rows were not persisted yet, they
// are reseated in their slots instead of being dropped.
func (e *Engine) process(ctx context.Context, b *Batch) (err error) {
	res := b.res

	persisted := len(res.Evicted) == 0
	defer func() {
		if err == nil {
			return
		}
		e.mu.Lock()
		e.cache.Invalidate(res.AdmittedSlots)
		if !persisted {
			e.cache.Restore(res.Evicted)
		}
		e.mu.Unlock()
	}()

	if n := len(res.Evicted); n > 0 {
		evictBuf, err := rows.New(n, e.dim)
		if err != nil {
			return err
		}

		slots := make([]model.Index, n)
		for i, ev := range res.Evicted {
			slots[i] = model.Index(ev.Slot)
		}

		if _, err := rows.MaskedIndexSelect(evictBuf, slots, e.cacheBuf, n); err != nil {
			return fmt.Errorf("gather evicted rows: %w", err)
		}

		if err := e.store.Set(ctx, res.EvictedIndices(), evictBuf, n, b.timestep); err != nil {
			return fmt.Errorf("persist evicted rows: %w", err)
		}
		persisted = true
	}

	n := res.InsertedCount()
	if n == 0 {
		return nil
	}

	if err := e.store.Get(ctx, res.InsertedIndices, b.staging, n); err != nil {
		return fmt.Errorf("fetch missing rows: %w", err)
	}

	admitted := make([]model.Index, n)
	for i, slot := range res.AdmittedSlots {
		admitted[i] = model.Index(slot)
	}

	if _, err := rows.MaskedIndexPut(e.cacheBuf, admitted, b.staging, n); err != nil {
		return fmt.Errorf("admit fetched rows: %w", err)
	}

	return nil
}

// Batch is one prefetched batch of row indices. Addresses and row data
// become valid after Wait and stay valid until Retire.
type Batch struct {
	engine   *Engine
	res      *cache.PopulateResult
	staging  *rows.Buffer
	timestep int64

	done chan struct{}
	err  error

	resolved *Resolved
	retired  atomic.Bool
}

// Timestep returns the batch's logical time.
func (b *Batch) Timestep() int64 {
	return b.timestep
}

// Wait blocks until the batch's background I/O has completed, then
// resolves one address per original batch position. Wait is idempotent;
// repeated calls return the same resolution.
func (b *Batch) Wait(ctx context.Context) (*Resolved, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if b.err != nil {
		return nil, b.err
	}

	if b.resolved == nil {
		res := b.res

		resolved, err := cache.GenerateRowAddrs(
			res.Locations(),
			res.AssignedSlots,
			res.StageRanks,
			res.InversePerm,
			res.CountCumsum,
			res.UniqueIndices,
			b.engine.cacheBuf,
			b.staging,
			res.UniqueCount(),
		)
		if err != nil {
			return nil, err
		}

		b.resolved = resolved
	}

	return b.resolved, nil
}

// Row returns the row for batch position p, or nil for a sentinel
// position. Valid only between Wait and Retire; the slice aliases cache
// or staging storage.
func (b *Batch) Row(p int) []float32 {
	if b.resolved == nil {
		return nil
	}

	addr := b.resolved.Addresses[p]
	switch addr.Tier {
	case model.TierCache:
		return b.engine.cacheBuf.Row(int(addr.Offset))
	case model.TierStaging:
		return b.staging.Row(int(addr.Offset))
	default:
		return nil
	}
}

// Retire writes the batch's staged rows back to the store and releases
// the staging buffer. Rows that were admitted into the cache are skipped;
// they persist on a later eviction. Retire is idempotent.
func (b *Batch) Retire(ctx context.Context) error {
	if !b.retired.CompareAndSwap(false, true) {
		return nil
	}

	resolved, err := b.Wait(ctx)
	if err != nil {
		return err
	}

	if n := len(resolved.Writeback); n > 0 {
		if err := b.engine.store.Set(ctx, resolved.Writeback, b.staging, n, b.timestep); err != nil {
			b.engine.logger.LogRetire(ctx, b.timestep, n, err)
			return fmt.Errorf("retire: %w", err)
		}
	}

	b.engine.logger.LogRetire(ctx, b.timestep, len(resolved.Writeback), nil)

	return b.staging.Close()
}
