package cache

import (
	"github.com/hupe1980/rowcache/model"
)

// LRUState tracks one logical timestamp per cache slot. Time is supplied
// by the caller as a monotone counter, not wall-clock; strict monotonicity
// is not validated. A new tracker holds the zero timestamp everywhere, so
// an empty cache yields eviction candidates immediately.
//
// LRUState is a pure data structure with no I/O and no locking; the
// admission engine serializes all mutations per cache set.
type LRUState struct {
	ts    []int64
	assoc int
}

// NewLRUState creates a tracker for numSets sets of assoc slots each.
func NewLRUState(numSets, assoc int) *LRUState {
	return &LRUState{
		ts:    make([]int64, numSets*assoc),
		assoc: assoc,
	}
}

// Touch sets the slot's timestamp.
func (l *LRUState) Touch(slot model.Slot, time int64) {
	l.ts[slot] = time
}

// Timestamp returns the slot's current timestamp.
func (l *LRUState) Timestamp(slot model.Slot) int64 {
	return l.ts[slot]
}

// OldestInSet returns the slot with the minimum timestamp in the set,
// ties broken by lowest slot index. The result is deterministic for
// identical inputs, independent of insertion order.
func (l *LRUState) OldestInSet(set int64) model.Slot {
	base := set * int64(l.assoc)

	best := model.Slot(base)
	for s := base + 1; s < base+int64(l.assoc); s++ {
		if l.ts[s] < l.ts[best] {
			best = model.Slot(s)
		}
	}
	return best
}

// OldestBefore returns the slot with the minimum timestamp in the set
// among slots whose timestamp is strictly below cutoff, ties broken by
// lowest slot index. ok is false when every slot in the set is at or
// above the cutoff, i.e. still inside the eviction protection window.
func (l *LRUState) OldestBefore(set, cutoff int64) (model.Slot, bool) {
	base := set * int64(l.assoc)

	best := model.NoSlot
	for s := base; s < base+int64(l.assoc); s++ {
		if l.ts[s] >= cutoff {
			continue
		}
		if best == model.NoSlot || l.ts[s] < l.ts[best] {
			best = model.Slot(s)
		}
	}
	return best, best != model.NoSlot
}
