package cache

import (
	"sync/atomic"
)

// Stats accumulates admission counters across populate passes. It is a
// side channel: gathering never changes admission decisions. Safe for
// concurrent readers while passes run.
type Stats struct {
	batches   atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	staged    atomic.Int64
}

func (s *Stats) record(hits, misses, evictions, staged int64) {
	s.batches.Add(1)
	s.hits.Add(hits)
	s.misses.Add(misses)
	s.evictions.Add(evictions)
	s.staged.Add(staged)
}

// Batches returns the number of populate passes recorded.
func (s *Stats) Batches() int64 { return s.batches.Load() }

// Hits returns the number of unique indices found resident.
func (s *Stats) Hits() int64 { return s.hits.Load() }

// Misses returns the number of unique indices not resident.
func (s *Stats) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of rows displaced from the cache.
func (s *Stats) Evictions() int64 { return s.evictions.Load() }

// Staged returns the number of unique indices diverted to staging.
func (s *Stats) Staged() int64 { return s.staged.Load() }
