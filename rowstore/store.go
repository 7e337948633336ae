package rowstore

import (
	"context"
	"math/rand/v2"

	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
)

// Store is the persistent key-value backing store for embedding rows: the
// source of truth for cold and evicted data. The admission engine issues
// Get and Set against it during eviction and insertion; these are the
// only operations in rowcache expected to block on I/O.
//
// All implementations ignore negative indices, matching the masked
// operators: sentinel-padded lists can be passed through unfiltered.
type Store interface {
	// Get fills dst row p with the row stored under indices[p] for each
	// non-negative index in the first count entries. Rows never written
	// are initialized with range-uniform random values rather than left
	// undefined.
	Get(ctx context.Context, indices []model.Index, dst *rows.Buffer, count int) error

	// Set persists src row p under indices[p] for each non-negative index
	// in the first count entries. timestep tags the write with the
	// caller's logical time; stores may use it for diagnostics and
	// recovery ordering.
	Set(ctx context.Context, indices []model.Index, src *rows.Buffer, count int, timestep int64) error

	// Compact reclaims space held by overwritten rows. Safe to call
	// concurrently with Get and Set, but may transiently increase
	// latency.
	Compact(ctx context.Context) error

	// Flush makes all accepted writes durable.
	Flush(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// UniformInit configures the value range used to initialize rows on first
// use. The zero value disables randomization (missing rows read as zero).
type UniformInit struct {
	Lower float32
	Upper float32
}

func (u UniformInit) enabled() bool {
	return u.Upper > u.Lower
}

// Fill writes range-uniform values into row, or zeroes it when
// randomization is disabled.
func (u UniformInit) Fill(row []float32) {
	if !u.enabled() {
		for d := range row {
			row[d] = 0
		}
		return
	}
	span := u.Upper - u.Lower
	for d := range row {
		row[d] = u.Lower + rand.Float32()*span
	}
}
