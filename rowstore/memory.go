package rowstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rowcache/internal/hash"
	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
)

const numShards = 64

// MemoryStore is a sharded in-memory Store for tests and tables that fit
// in RAM. Entries are distributed across 64 shards by splitmix64 to keep
// lock contention low under concurrent batch traffic.
type MemoryStore struct {
	dim  int
	init UniformInit

	shards [numShards]memShard

	lastTimestep atomic.Int64
	gets         atomic.Int64
	sets         atomic.Int64
}

type memShard struct {
	mu   sync.RWMutex
	rows map[model.Index][]float32
}

// NewMemoryStore creates an in-memory store for rows of width dim.
func NewMemoryStore(dim int, init UniformInit) (*MemoryStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: row width %d", model.ErrInvalidArgument, dim)
	}

	s := &MemoryStore{dim: dim, init: init}
	for i := range s.shards {
		s.shards[i].rows = make(map[model.Index][]float32)
	}
	return s, nil
}

func (s *MemoryStore) shard(idx model.Index) *memShard {
	return &s.shards[hash.Splitmix64(uint64(idx))%numShards]
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, indices []model.Index, dst *rows.Buffer, count int) error {
	if err := s.check(indices, dst, count); err != nil {
		return err
	}

	for p := 0; p < count; p++ {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		sh := s.shard(idx)
		sh.mu.RLock()
		row, ok := sh.rows[idx]
		sh.mu.RUnlock()

		if ok {
			copy(dst.Row(p), row)
		} else {
			s.init.Fill(dst.Row(p))
		}
	}

	s.gets.Add(1)
	return nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, indices []model.Index, src *rows.Buffer, count int, timestep int64) error {
	if err := s.check(indices, src, count); err != nil {
		return err
	}

	for p := 0; p < count; p++ {
		idx := indices[p]
		if idx < 0 {
			continue
		}

		row := make([]float32, s.dim)
		copy(row, src.Row(p))

		sh := s.shard(idx)
		sh.mu.Lock()
		sh.rows[idx] = row
		sh.mu.Unlock()
	}

	s.lastTimestep.Store(timestep)
	s.sets.Add(1)
	return nil
}

// Compact implements Store. Maps reclaim nothing; this is a no-op.
func (s *MemoryStore) Compact(context.Context) error { return nil }

// Flush implements Store. Memory is always "durable" for its lifetime.
func (s *MemoryStore) Flush(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].rows)
		s.shards[i].mu.RUnlock()
	}
	return n
}

// LastTimestep returns the timestep of the most recent Set.
func (s *MemoryStore) LastTimestep() int64 {
	return s.lastTimestep.Load()
}

func (s *MemoryStore) check(indices []model.Index, buf *rows.Buffer, count int) error {
	if buf.Dim() != s.dim {
		return fmt.Errorf("%w: row width %d, store expects %d", model.ErrInvalidArgument, buf.Dim(), s.dim)
	}
	if count < 0 || count > len(indices) {
		return fmt.Errorf("%w: count %d exceeds index list of length %d", model.ErrInvalidArgument, count, len(indices))
	}
	if count > buf.Rows() {
		return fmt.Errorf("%w: count %d exceeds buffer of %d rows", model.ErrInvalidArgument, count, buf.Rows())
	}
	return nil
}
