package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowcache/model"
)

func TestLRUState_OldestInSet(t *testing.T) {
	l := NewLRUState(2, 4)

	// Fresh tracker: everything at the zero timestamp, lowest slot wins.
	assert.Equal(t, model.Slot(0), l.OldestInSet(0))
	assert.Equal(t, model.Slot(4), l.OldestInSet(1))

	l.Touch(0, 10)
	l.Touch(1, 5)
	l.Touch(2, 7)
	l.Touch(3, 5)

	// Slots 1 and 3 tie at t=5; the lower slot index wins.
	assert.Equal(t, model.Slot(1), l.OldestInSet(0))

	l.Touch(1, 20)
	assert.Equal(t, model.Slot(3), l.OldestInSet(0))

	// Set 1 is untouched by set 0 traffic.
	assert.Equal(t, model.Slot(4), l.OldestInSet(1))
}

func TestLRUState_OldestBefore(t *testing.T) {
	l := NewLRUState(1, 3)
	l.Touch(0, 3)
	l.Touch(1, 5)
	l.Touch(2, 5)

	slot, ok := l.OldestBefore(0, 5)
	require.True(t, ok)
	assert.Equal(t, model.Slot(0), slot)

	// Cutoff excludes everything: no candidate.
	_, ok = l.OldestBefore(0, 3)
	assert.False(t, ok)

	// Cutoff above all: plain oldest, tie by lowest slot.
	l.Touch(0, 5)
	slot, ok = l.OldestBefore(0, 6)
	require.True(t, ok)
	assert.Equal(t, model.Slot(0), slot)
}

func TestLRUState_Timestamp(t *testing.T) {
	l := NewLRUState(1, 2)
	assert.Equal(t, int64(0), l.Timestamp(1))
	l.Touch(1, 42)
	assert.Equal(t, int64(42), l.Timestamp(1))
}
