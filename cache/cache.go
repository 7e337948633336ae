package cache

import (
	"fmt"
	"sort"

	"github.com/hupe1980/rowcache/internal/hash"
	"github.com/hupe1980/rowcache/model"
)

// SetFunc maps a linear index to a cache set. It must be deterministic
// and return a value in [0, numSets).
type SetFunc func(index model.Index, totalRows, numSets int64) int64

// HashSetFunc spreads indices across sets with a splitmix64 mix. This is
// the default: embedding batches are often clustered in index space, and
// hashing avoids piling a whole cluster onto a few sets.
func HashSetFunc(index model.Index, _, numSets int64) int64 {
	return int64(hash.Splitmix64(uint64(index)) % uint64(numSets))
}

// ModuloSetFunc maps indices to sets by plain modulo. Useful in tests and
// wherever reproducible set placement in index order matters.
func ModuloSetFunc(index model.Index, _, numSets int64) int64 {
	return index % numSets
}

// Config configures a Cache.
type Config struct {
	// TotalRows is the size of the full logical table. Any index at or
	// above it is rejected with ErrInvalidArgument.
	TotalRows int64
	// Sets is the number of associative sets.
	Sets int
	// Associativity is the number of slots per set.
	Associativity int
	// PrefetchDist is the number of logical time-steps by which admission
	// runs ahead of the consumer. Slots touched within the last
	// PrefetchDist steps belong to in-flight batches and are protected
	// from eviction.
	PrefetchDist int64
	// SetFunc assigns indices to sets. Defaults to HashSetFunc.
	SetFunc SetFunc
	// GatherStats enables hit/miss/eviction accounting into Stats. The
	// side channel has no effect on admission decisions.
	GatherStats bool
	// Stats is the accumulator used when GatherStats is set. If nil, an
	// internal accumulator is created.
	Stats *Stats
}

// Cache is the fast-cache admission engine: a set-associative slot table
// plus LRU state. It decides, per batch of linear indices, which rows are
// resident, which to admit (possibly evicting), and which to stage.
//
// The slot table and LRU state are process-lifetime and mutated only by
// PopulateActions. Calls are not internally synchronized; callers run one
// populate pass at a time (the engine's single IO worker does this).
type Cache struct {
	totalRows    int64
	numSets      int64
	assoc        int
	prefetchDist int64
	setFunc      SetFunc

	slots []model.Index // slot -> resident index, NoIndex when empty
	lru   *LRUState

	stats *Stats // nil unless gathering
}

// New creates a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.TotalRows <= 0 {
		return nil, fmt.Errorf("%w: total rows %d", model.ErrInvalidArgument, cfg.TotalRows)
	}
	if cfg.Sets <= 0 || cfg.Associativity <= 0 {
		return nil, fmt.Errorf("%w: cache shape %d sets x %d ways", model.ErrInvalidArgument, cfg.Sets, cfg.Associativity)
	}
	if cfg.PrefetchDist < 0 {
		return nil, fmt.Errorf("%w: prefetch distance %d", model.ErrInvalidArgument, cfg.PrefetchDist)
	}

	setFunc := cfg.SetFunc
	if setFunc == nil {
		setFunc = HashSetFunc
	}

	stats := cfg.Stats
	if cfg.GatherStats && stats == nil {
		stats = &Stats{}
	}
	if !cfg.GatherStats {
		stats = nil
	}

	slots := make([]model.Index, cfg.Sets*cfg.Associativity)
	for i := range slots {
		slots[i] = model.NoIndex
	}

	return &Cache{
		totalRows:    cfg.TotalRows,
		numSets:      int64(cfg.Sets),
		assoc:        cfg.Associativity,
		prefetchDist: cfg.PrefetchDist,
		setFunc:      setFunc,
		slots:        slots,
		lru:          NewLRUState(cfg.Sets, cfg.Associativity),
		stats:        stats,
	}, nil
}

// Slots returns the number of cache slots.
func (c *Cache) Slots() int {
	return len(c.slots)
}

// Resident returns the index held by a slot, or NoIndex.
func (c *Cache) Resident(slot model.Slot) model.Index {
	return c.slots[slot]
}

// LRU exposes the tracker, mainly for tests and diagnostics.
func (c *Cache) LRU() *LRUState {
	return c.lru
}

// Stats returns the stats accumulator, or nil when stats are disabled.
func (c *Cache) Stats() *Stats {
	return c.stats
}

// NoStage marks a unique index that has no staging row.
const NoStage int32 = -1

// PopulateResult is the outcome of one populate pass.
//
// Unique indices are in set-major order (sorted by cache set, then by
// index value). Rows missing from the cache are assigned dense staging
// ranks in that order: the r-th missing row of the batch lives at row r
// of the staging buffer. Sentinel-padded lists feed masked operators and
// the row store without filtering.
type PopulateResult struct {
	// UniqueIndices holds each distinct batch index once, set-major.
	// A batch containing sentinels contributes one leading NoIndex entry.
	UniqueIndices []model.Index
	// AssignedSlots maps each unique index to its cache slot, or NoSlot
	// when the row is staged (or the index is the sentinel).
	AssignedSlots []model.Slot
	// StageRanks maps each unique index to its staging-buffer row, or
	// NoStage when the row was already resident (or is the sentinel).
	// Both admitted and staged-only rows get a rank: every missing row is
	// fetched into staging first.
	StageRanks []int32
	// InsertedIndices is the dense fetch list: the rows the row store
	// must Get into the staging buffer, in staging-rank order.
	InsertedIndices []model.Index
	// AdmittedIndices and AdmittedSlots are aligned with InsertedIndices
	// and name the fetched rows that won a cache slot this pass (NoIndex
	// and NoSlot for staged-only rows). After the fetch fills the staging
	// buffer, a masked put of staging rows at AdmittedSlots copies the
	// admitted ones into the fast cache.
	AdmittedIndices []model.Index
	AdmittedSlots   []model.Slot
	// Evicted lists the rows displaced this pass; each must be persisted
	// before its slot's new content is read.
	Evicted []model.EvictionRecord

	// InversePerm maps sorted occurrence positions back to original batch
	// positions: for each unique u and each j in
	// [CountCumsum[u], CountCumsum[u+1]), batch[InversePerm[j]] equals
	// UniqueIndices[u]. All negative batch values collapse into the
	// single leading NoIndex group, so for that group the equality is up
	// to the sentinel: batch[InversePerm[j]] is negative, but only
	// exactly NoIndex when -1 was the batch's sole negative value.
	InversePerm []int32
	// CountCumsum holds exclusive prefix sums of per-unique occurrence
	// counts; len is UniqueCount()+1.
	CountCumsum []int32

	// Time is the logical timestamp the pass ran at.
	Time int64
}

// UniqueCount returns the number of unique indices (sentinel included).
func (r *PopulateResult) UniqueCount() int {
	return len(r.UniqueIndices)
}

// InsertedCount returns the number of staging rows the pass requires,
// i.e. the length of the fetch list.
func (r *PopulateResult) InsertedCount() int {
	return len(r.InsertedIndices)
}

// EvictedIndices returns the displaced indices, aligned with EvictedSlots.
func (r *PopulateResult) EvictedIndices() []model.Index {
	out := make([]model.Index, len(r.Evicted))
	for i, e := range r.Evicted {
		out[i] = e.Index
	}
	return out
}

// EvictedSlots returns the freed slots, aligned with EvictedIndices.
func (r *PopulateResult) EvictedSlots() []model.Slot {
	out := make([]model.Slot, len(r.Evicted))
	for i, e := range r.Evicted {
		out[i] = e.Slot
	}
	return out
}

// Locations expands AssignedSlots back to one slot per original batch
// position: the cache slot where the row lives, or NoSlot for staged rows
// and sentinels.
func (r *PopulateResult) Locations() []model.Slot {
	locs := make([]model.Slot, len(r.InversePerm))
	for u := range r.UniqueIndices {
		slot := r.AssignedSlots[u]
		for j := r.CountCumsum[u]; j < r.CountCumsum[u+1]; j++ {
			locs[r.InversePerm[j]] = slot
		}
	}
	return locs
}

// Invalidate empties the given slots, dropping residency and LRU state.
// NoSlot entries are skipped. Used to undo admissions whose backing row
// fetch failed, so stale slot contents can never satisfy a later hit.
func (c *Cache) Invalidate(slots []model.Slot) {
	for _, s := range slots {
		if s == model.NoSlot {
			continue
		}
		c.slots[s] = model.NoIndex
		c.lru.Touch(s, 0)
	}
}

// Restore reseats displaced rows in their old slots. Only valid while the
// slot contents are untouched, i.e. when the eviction's persist step
// failed before any new row was copied in. The restored slots get the
// zero timestamp, leaving them immediately evictable.
func (c *Cache) Restore(records []model.EvictionRecord) {
	for _, rec := range records {
		c.slots[rec.Slot] = rec.Index
		c.lru.Touch(rec.Slot, 0)
	}
}

// PopulateActions runs one admission pass over a batch of linear indices
// at logical time timeStamp.
//
// The batch is deduplicated first; each unique index then either hits
// (timestamp refreshed), is admitted into a free or LRU-evicted slot of
// its set, or is staged when every slot in its set was touched within the
// eviction protection window (the current pass or the last PrefetchDist
// steps, covering in-flight prefetch batches).
//
// Contention inside a cache set is resolved by a single ordered pass per
// set: unique indices arrive set-major with deterministic tie-break by
// index value, so no two indices can claim the same freed slot and no
// locking is needed. The pass mutates the slot table and LRU state; it
// performs no I/O and never blocks.
func (c *Cache) PopulateActions(indices []model.Index, timeStamp int64) (*PopulateResult, error) {
	for _, idx := range indices {
		if idx >= c.totalRows {
			return nil, fmt.Errorf("%w: index %d outside table of %d rows", model.ErrInvalidArgument, idx, c.totalRows)
		}
	}

	r := c.dedup(indices, timeStamp)

	cutoff := timeStamp - c.prefetchDist
	var hits, misses, evictions, staged int64

	for u, idx := range r.UniqueIndices {
		if idx < 0 {
			// Sentinel group: resolves to the null address later.
			continue
		}

		set := c.setFunc(idx, c.totalRows, c.numSets)
		base := set * int64(c.assoc)

		// Hit scan. Residency in two slots of one set means the slot
		// table is corrupt; surface it instead of picking one.
		found := model.NoSlot
		free := model.NoSlot
		for s := base; s < base+int64(c.assoc); s++ {
			switch c.slots[s] {
			case idx:
				if found != model.NoSlot {
					return nil, fmt.Errorf("%w: index %d resident in slots %d and %d", model.ErrCacheInconsistency, idx, found, s)
				}
				found = model.Slot(s)
			case model.NoIndex:
				if free == model.NoSlot {
					free = model.Slot(s)
				}
			}
		}

		if found != model.NoSlot {
			c.lru.Touch(found, timeStamp)
			r.AssignedSlots[u] = found
			hits++
			continue
		}
		misses++

		// Every missing row is fetched into staging first; admitted rows
		// are copied from there into their slot.
		r.StageRanks[u] = int32(len(r.InsertedIndices))
		r.InsertedIndices = append(r.InsertedIndices, idx)

		// Free slots are always admittable, lowest slot first.
		target := free
		if target == model.NoSlot {
			victim, ok := c.lru.OldestBefore(set, cutoff)
			if !ok {
				// Every slot in the set is pinned by an in-flight batch;
				// serve this row from staging and retry next pass.
				r.AdmittedIndices = append(r.AdmittedIndices, model.NoIndex)
				r.AdmittedSlots = append(r.AdmittedSlots, model.NoSlot)
				staged++
				continue
			}
			old := c.slots[victim]
			if old == model.NoIndex {
				return nil, fmt.Errorf("%w: LRU victim slot %d is unoccupied", model.ErrCacheInconsistency, victim)
			}
			r.Evicted = append(r.Evicted, model.EvictionRecord{Index: old, Slot: victim})
			evictions++
			target = victim
		}

		c.slots[target] = idx
		c.lru.Touch(target, timeStamp)
		r.AssignedSlots[u] = target
		r.AdmittedIndices = append(r.AdmittedIndices, idx)
		r.AdmittedSlots = append(r.AdmittedSlots, target)
	}

	if c.stats != nil {
		c.stats.record(hits, misses, evictions, staged)
	}

	return r, nil
}

// dedup sorts batch positions set-major (set, index, position) and builds
// the unique list, occurrence prefix sums, and the inverse permutation.
func (c *Cache) dedup(indices []model.Index, timeStamp int64) *PopulateResult {
	n := len(indices)

	order := make([]int32, n)
	sets := make([]int64, n)
	for p, idx := range indices {
		order[p] = int32(p)
		if idx < 0 {
			sets[p] = -1
		} else {
			sets[p] = c.setFunc(idx, c.totalRows, c.numSets)
		}
	}

	sort.Slice(order, func(a, b int) bool {
		pa, pb := order[a], order[b]
		if sets[pa] != sets[pb] {
			return sets[pa] < sets[pb]
		}
		ia, ib := indices[pa], indices[pb]
		if ia != ib {
			return ia < ib
		}
		return pa < pb
	})

	r := &PopulateResult{
		InversePerm: order,
		CountCumsum: make([]int32, 0, 8),
		Time:        timeStamp,
	}

	prevValid := false
	var prev model.Index
	for j, p := range order {
		idx := indices[p]
		if idx < 0 {
			idx = model.NoIndex // all sentinels collapse into one group
		}
		if !prevValid || idx != prev {
			r.UniqueIndices = append(r.UniqueIndices, idx)
			r.CountCumsum = append(r.CountCumsum, int32(j))
			prev, prevValid = idx, true
		}
	}
	r.CountCumsum = append(r.CountCumsum, int32(n))

	uniq := len(r.UniqueIndices)
	r.AssignedSlots = make([]model.Slot, uniq)
	r.StageRanks = make([]int32, uniq)
	for u := range uniq {
		r.AssignedSlots[u] = model.NoSlot
		r.StageRanks[u] = NoStage
	}

	return r
}
