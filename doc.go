// Package rowcache provides a tiered cache for fixed-width embedding-table
// rows that are too large to keep fully in memory.
//
// Hot rows live in a set-associative in-memory cache; cold and evicted rows
// spill to a pluggable persistent row store (in-memory, log-structured disk
// segments, or S3-compatible object storage). Per batch of row indices, the
// admission engine decides which rows are already resident, which to admit
// (evicting the least recently used rows of each set), and which to serve
// from a short-lived staging buffer, then resolves every batch position to
// a single tagged address so downstream kernels never branch on tier.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	store, _ := rowstore.NewDiskStore(rowstore.DiskConfig{
//	    Dir:         "./rows",
//	    Dim:         128,
//	    Compression: rowstore.CompressionLZ4,
//	})
//
//	eng, _ := rowcache.New(store, 10_000_000, 128)
//	defer eng.Close()
//
//	batch, _ := eng.Lookup(ctx, []int64{42, 7, 42, -1})
//	for p := range 4 {
//	    row := batch.Row(p) // nil for the sentinel position
//	    _ = row
//	}
//	_ = batch.Retire(ctx)
//
// # Prefetching
//
// Training loops overlap storage I/O with compute by prefetching batches
// ahead of use:
//
//	b, _ := eng.Prefetch(ctx, nextIndices) // queues the I/O
//	// ... compute on the current batch ...
//	resolved, _ := b.Wait(ctx)             // addresses valid from here
//	// ... consume resolved.Addresses ...
//	_ = b.Retire(ctx)                      // writes staged rows back
//
// Rows touched by an in-flight prefetch are protected from eviction for
// the configured prefetch distance.
//
// # Masked conventions
//
// Negative indices are sentinels for "no row" and are skipped by every
// operator and store backend, so padded index lists flow through the whole
// pipeline without filtering.
package rowcache
