// Package rowstore defines the persistent row store consumed by the
// admission engine, plus three backends:
//
//   - MemoryStore: 64-way sharded in-memory map, for tests and tables
//     that fit in RAM.
//   - DiskStore: log-structured segment files with per-row compression,
//     IO rate limiting, and bitmap-driven compaction.
//   - minio.Store (subpackage): S3-compatible object storage for cold
//     spill across hosts.
//
// The store owns persistence format and durability entirely; the cache
// core treats it as an opaque get/set service and propagates its errors
// unchanged, with no retry logic.
package rowstore
