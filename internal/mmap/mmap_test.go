package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(1 << 16)
	require.NoError(t, err)

	b := m.Bytes()
	require.Len(t, b, 1<<16)

	// Anonymous mappings are zero-initialized and writable.
	assert.Equal(t, byte(0), b[0])
	b[0] = 0xff
	b[len(b)-1] = 0xee
	assert.Equal(t, byte(0xff), m.Bytes()[0])

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close must be idempotent")
}
