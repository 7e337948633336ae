package model

import (
	"fmt"
)

// Index is a linear index identifying one logical embedding row across the
// full table. Negative values are the sentinel for "no row" and are skipped
// by every row-wise operator; they are never an error.
type Index = int64

// NoIndex is the sentinel Index meaning "no row present".
const NoIndex Index = -1

// Slot is a position in the fast cache. NoSlot means "not resident".
type Slot = int32

// NoSlot is the sentinel Slot meaning "not resident in the fast cache".
const NoSlot Slot = -1

// Tier identifies where a resolved row physically lives.
type Tier uint8

const (
	// TierNone is the null tier, used for sentinel indices.
	TierNone Tier = iota
	// TierCache means the row is resident in the fast cache.
	TierCache
	// TierStaging means the row lives in the per-batch staging buffer.
	TierStaging
)

// String returns a string representation of the Tier.
func (t Tier) String() string {
	switch t {
	case TierCache:
		return "cache"
	case TierStaging:
		return "staging"
	default:
		return "none"
	}
}

// Address is the resolved physical location of one row: a tier plus a
// row offset within that tier's backing buffer. The zero value is the
// null address emitted for sentinel indices.
type Address struct {
	Tier   Tier
	Offset int64
}

// Valid reports whether the address points at a real row.
func (a Address) Valid() bool {
	return a.Tier != TierNone
}

// String returns a string representation of the Address.
func (a Address) String() string {
	if !a.Valid() {
		return "addr(none)"
	}
	return fmt.Sprintf("addr(%s:%d)", a.Tier, a.Offset)
}

// EvictionRecord identifies a row displaced from the fast cache. The row
// at Slot must be persisted to the row store before the slot is reused.
type EvictionRecord struct {
	Index Index
	Slot  Slot
}

// String returns a string representation of the EvictionRecord.
func (r EvictionRecord) String() string {
	return fmt.Sprintf("evict(idx=%d slot=%d)", r.Index, r.Slot)
}
