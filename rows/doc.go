// Package rows provides fixed-width row buffers and the masked copy
// primitives the rest of rowcache is built on.
//
// Every operator treats a negative index as "no row present" and skips
// the position entirely. This is the uniform absence signal across the
// library: eviction lists, insertion lists, and writeback lists all use
// -1 padding so they can be fed to these operators (and to the row
// store) without filtering first.
package rows
