package rows

import (
	"fmt"
	"unsafe"

	"github.com/hupe1980/rowcache/internal/mmap"
	"github.com/hupe1980/rowcache/model"
)

// Buffer is a dense matrix of fixed-width float32 rows. It backs the fast
// cache, per-batch staging buffers, and scratch space for evicted rows.
//
// Row data is stored contiguously, so Row(i) aliases the backing slice.
// A Buffer is not synchronized; concurrent writers must coordinate via
// the admission engine's per-set ordering.
type Buffer struct {
	dim     int
	data    []float32
	mapping *mmap.Mapping // non-nil when backed by an anonymous mapping
}

// New allocates a heap-backed buffer of n rows of width dim.
func New(n, dim int) (*Buffer, error) {
	if n < 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: buffer shape %dx%d", model.ErrInvalidArgument, n, dim)
	}
	return &Buffer{dim: dim, data: make([]float32, n*dim)}, nil
}

// NewOffHeap allocates a buffer of n rows of width dim backed by an
// anonymous mapping, keeping large caches out of GC scan work. The caller
// must Close it.
func NewOffHeap(n, dim int) (*Buffer, error) {
	if n < 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: buffer shape %dx%d", model.ErrInvalidArgument, n, dim)
	}

	m, err := mmap.MapAnon(n * dim * 4)
	if err != nil {
		return nil, fmt.Errorf("map %d rows off-heap: %w", n, err)
	}

	b := m.Bytes()
	var data []float32
	if len(b) > 0 {
		data = unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n*dim)
	}

	return &Buffer{dim: dim, data: data, mapping: m}, nil
}

// Wrap adopts an existing slice as a buffer. len(data) must be a multiple
// of dim.
func Wrap(data []float32, dim int) (*Buffer, error) {
	if dim <= 0 || len(data)%dim != 0 {
		return nil, fmt.Errorf("%w: cannot wrap %d floats as rows of width %d", model.ErrInvalidArgument, len(data), dim)
	}
	return &Buffer{dim: dim, data: data}, nil
}

// Rows returns the number of rows.
func (b *Buffer) Rows() int {
	return len(b.data) / b.dim
}

// Dim returns the row width.
func (b *Buffer) Dim() int {
	return b.dim
}

// Row returns row i. The slice aliases the backing storage.
func (b *Buffer) Row(i int) []float32 {
	return b.data[i*b.dim : (i+1)*b.dim : (i+1)*b.dim]
}

// Data returns the full backing slice.
func (b *Buffer) Data() []float32 {
	return b.data
}

// Close releases the backing mapping, if any. Heap-backed buffers are a
// no-op.
func (b *Buffer) Close() error {
	if b.mapping == nil {
		return nil
	}
	b.data = nil
	return b.mapping.Close()
}
