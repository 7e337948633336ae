package rowcache

import (
	"log/slog"

	"github.com/hupe1980/rowcache/cache"
)

// Options configures an Engine.
type Options struct {
	// CacheRows is the total number of fast-cache slots. Must be a
	// multiple of Associativity.
	CacheRows int

	// Associativity is the number of slots per cache set. Eviction is LRU
	// within a set.
	Associativity int

	// PrefetchDist is the number of logical time-steps by which Prefetch
	// runs ahead of consumption. Rows admitted within the last
	// PrefetchDist steps are protected from eviction.
	PrefetchDist int64

	// SetFunc assigns row indices to cache sets. Defaults to a splitmix64
	// hash; see cache.ModuloSetFunc for reproducible placement.
	SetFunc cache.SetFunc

	// OffHeap backs the fast cache with an anonymous mapping instead of
	// the Go heap, keeping multi-gigabyte caches out of GC scan work.
	// Per-batch staging buffers are small and short-lived and always
	// live on the heap.
	OffHeap bool

	// GatherStats enables hit/miss/eviction accounting, readable via
	// Engine.Stats. Accounting never affects admission decisions.
	GatherStats bool

	// Logger receives structured operation logs. Defaults to a noop
	// logger.
	Logger *Logger
}

// DefaultOptions holds the default options for an Engine.
var DefaultOptions = Options{
	CacheRows:     1 << 15,
	Associativity: 32,
	PrefetchDist:  1,
	GatherStats:   true,
}

// WithLogLevel returns an option function that installs a text logger at
// the given level. Convenience for o.Logger = NewTextLogger(level).
func WithLogLevel(level slog.Level) func(o *Options) {
	return func(o *Options) {
		o.Logger = NewTextLogger(level)
	}
}
