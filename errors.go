package rowcache

import (
	"errors"

	"github.com/hupe1980/rowcache/model"
)

var (
	// ErrInvalidArgument indicates a malformed input: a shape mismatch, a
	// count exceeding its index list, or an index outside the table.
	ErrInvalidArgument = model.ErrInvalidArgument

	// ErrCacheInconsistency indicates corrupt cache state, such as one
	// index resident in two slots of a set. It is fatal for the batch and
	// never masked.
	ErrCacheInconsistency = model.ErrCacheInconsistency

	// ErrClosed is returned when an operation is issued after Close.
	ErrClosed = errors.New("engine closed")
)
