package rows

import (
	"fmt"

	"github.com/hupe1980/rowcache/internal/parallel"
	"github.com/hupe1980/rowcache/model"
)

// MaskedIndexPut scatters the first count rows of src into dst:
// dst[indices[p]] = src[p] for each p in [0, count) with indices[p] >= 0.
// Negative indices are skipped entirely: no read, no write, no error.
// Returns the mutated dst.
//
// Rows are processed in parallel; positions are independent because each
// p writes exactly one destination row.
func MaskedIndexPut(dst *Buffer, indices []model.Index, src *Buffer, count int) (*Buffer, error) {
	if err := checkMaskedArgs(dst, indices, src, count); err != nil {
		return nil, err
	}
	if count > src.Rows() {
		return nil, fmt.Errorf("%w: count %d exceeds %d source rows", model.ErrInvalidArgument, count, src.Rows())
	}

	dstRows := int64(dst.Rows())
	err := parallel.For(count, func(lo, hi int) error {
		for p := lo; p < hi; p++ {
			idx := indices[p]
			if idx < 0 {
				continue
			}
			if idx >= dstRows {
				return fmt.Errorf("%w: index %d out of range for %d destination rows", model.ErrInvalidArgument, idx, dstRows)
			}
			copy(dst.Row(int(idx)), src.Row(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// MaskedIndexSelect gathers rows of src into the first count rows of dst:
// dst[p] = src[indices[p]] for each p in [0, count) with indices[p] >= 0.
// Negative indices leave dst[p] untouched. Returns the mutated dst.
func MaskedIndexSelect(dst *Buffer, indices []model.Index, src *Buffer, count int) (*Buffer, error) {
	if err := checkMaskedArgs(dst, indices, src, count); err != nil {
		return nil, err
	}
	if count > dst.Rows() {
		return nil, fmt.Errorf("%w: count %d exceeds %d destination rows", model.ErrInvalidArgument, count, dst.Rows())
	}

	srcRows := int64(src.Rows())
	err := parallel.For(count, func(lo, hi int) error {
		for p := lo; p < hi; p++ {
			idx := indices[p]
			if idx < 0 {
				continue
			}
			if idx >= srcRows {
				return fmt.Errorf("%w: index %d out of range for %d source rows", model.ErrInvalidArgument, idx, srcRows)
			}
			copy(dst.Row(p), src.Row(int(idx)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// MaskedIndexPutBytes is the byte-granularity variant of MaskedIndexPut
// for backing storage that is byte-addressable rather than row-addressable.
// indices[p] is the destination *byte offset* for the p-th source row of
// rowBytes bytes; negative offsets are skipped. Returns the mutated dst.
func MaskedIndexPutBytes(dst []byte, indices []model.Index, src []byte, rowBytes, count int) ([]byte, error) {
	if rowBytes <= 0 {
		return nil, fmt.Errorf("%w: row width %d bytes", model.ErrInvalidArgument, rowBytes)
	}
	if count < 0 || count > len(indices) {
		return nil, fmt.Errorf("%w: count %d exceeds index list of length %d", model.ErrInvalidArgument, count, len(indices))
	}
	if count*rowBytes > len(src) {
		return nil, fmt.Errorf("%w: %d rows of %d bytes exceed %d source bytes", model.ErrInvalidArgument, count, rowBytes, len(src))
	}

	err := parallel.For(count, func(lo, hi int) error {
		for p := lo; p < hi; p++ {
			off := indices[p]
			if off < 0 {
				continue
			}
			if off+int64(rowBytes) > int64(len(dst)) {
				return fmt.Errorf("%w: byte offset %d out of range for %d destination bytes", model.ErrInvalidArgument, off, len(dst))
			}
			copy(dst[off:off+int64(rowBytes)], src[p*rowBytes:(p+1)*rowBytes])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

func checkMaskedArgs(dst *Buffer, indices []model.Index, src *Buffer, count int) error {
	if dst.Dim() != src.Dim() {
		return fmt.Errorf("%w: row width mismatch %d vs %d", model.ErrInvalidArgument, dst.Dim(), src.Dim())
	}
	if count < 0 || count > len(indices) {
		return fmt.Errorf("%w: count %d exceeds index list of length %d", model.ErrInvalidArgument, count, len(indices))
	}
	return nil
}
