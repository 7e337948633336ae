// Package cache implements the core of rowcache: the set-associative LRU
// admission engine and the row-address resolver.
//
// # Admission
//
// The fast cache is a fixed table of numSets x associativity slots. Each
// linear index maps deterministically to one set via a SetFunc. A
// populate pass deduplicates the incoming batch, refreshes timestamps for
// resident rows, admits missing rows into free or LRU-evicted slots, and
// diverts rows to a per-batch staging buffer when their whole set is
// pinned by in-flight batches.
//
// Set contention is resolved without locks: unique indices are processed
// set-major with a deterministic tie-break, so each set sees a single
// ordered pass and results are reproducible run to run.
//
// # Address resolution
//
// GenerateRowAddrs reverses the deduplication permutation, emitting one
// tagged (tier, offset) address per original batch position plus the list
// of staged rows to write back to the row store. Downstream kernels treat
// both tiers uniformly as a base buffer plus a row offset.
package cache
