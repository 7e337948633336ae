package model

import (
	"errors"
)

var (
	// ErrInvalidArgument is returned for caller mistakes: row-width
	// mismatches, counts exceeding the index list, or indices outside
	// the configured table range. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCacheInconsistency is returned when internal bookkeeping detects
	// a broken invariant, such as one index resident in two slots. It is
	// fatal for the batch and must never be masked: correcting it
	// silently would corrupt subsequent lookups.
	ErrCacheInconsistency = errors.New("cache inconsistency")
)
