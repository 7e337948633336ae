// Package mmap provides anonymous off-heap mappings for large row buffers.
//
// Cache and staging buffers can be hundreds of megabytes of fixed-width
// rows; allocating them off-heap keeps them out of GC scan work. On unix
// platforms the mapping comes from mmap(2); elsewhere it falls back to a
// heap allocation with the same interface.
package mmap

import (
	"sync/atomic"
)

// Mapping is a read-write anonymous mapping. Close is idempotent; callers
// must not touch Bytes() after Close returns.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// MapAnon creates a zero-initialized anonymous mapping of size bytes.
func MapAnon(size int) (*Mapping, error) {
	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data, unmap: unmap}, nil
}

// Bytes returns the mapped region. Valid until Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Close unmaps the region.
func (m *Mapping) Close() error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	data := m.data
	m.data = nil
	if data == nil || m.unmap == nil {
		return nil
	}
	return m.unmap(data)
}
