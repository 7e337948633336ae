package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_CoversRangeExactlyOnce(t *testing.T) {
	const n = 10_000
	var touched [n]atomic.Int32

	err := For(n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			touched[i].Add(1)
		}
		return nil
	})
	require.NoError(t, err)

	for i := range n {
		require.Equal(t, int32(1), touched[i].Load(), "index %d", i)
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	require.NoError(t, For(0, func(lo, hi int) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestFor_PropagatesError(t *testing.T) {
	errBoom := errors.New("boom")
	err := For(100_000, func(lo, hi int) error {
		if lo == 0 {
			return errBoom
		}
		return nil
	})
	assert.ErrorIs(t, err, errBoom)
}
