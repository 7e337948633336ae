package rowstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowcache/model"
	"github.com/hupe1980/rowcache/rows"
)

func newBuf(t *testing.T, n, dim int) *rows.Buffer {
	t.Helper()
	b, err := rows.New(n, dim)
	require.NoError(t, err)
	return b
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s, err := NewMemoryStore(4, UniformInit{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	src := newBuf(t, 3, 4)
	for i := range 3 {
		for d := range 4 {
			src.Row(i)[d] = float32(i*10 + d)
		}
	}

	require.NoError(t, s.Set(ctx, []model.Index{100, -1, 200}, src, 3, 7))
	assert.Equal(t, 2, s.Len(), "negative index is ignored")
	assert.Equal(t, int64(7), s.LastTimestep())

	dst := newBuf(t, 3, 4)
	require.NoError(t, s.Get(ctx, []model.Index{200, 100, -5}, dst, 3))
	assert.Equal(t, src.Row(2), dst.Row(0))
	assert.Equal(t, src.Row(0), dst.Row(1))
	assert.Equal(t, make([]float32, 4), dst.Row(2), "masked position untouched")
}

func TestMemoryStore_UniformInit(t *testing.T) {
	s, err := NewMemoryStore(8, UniformInit{Lower: -0.5, Upper: 0.5})
	require.NoError(t, err)
	defer s.Close()

	dst := newBuf(t, 2, 8)
	require.NoError(t, s.Get(context.Background(), []model.Index{42, 43}, dst, 2))

	nonZero := false
	for p := range 2 {
		for _, v := range dst.Row(p) {
			assert.GreaterOrEqual(t, v, float32(-0.5))
			assert.Less(t, v, float32(0.5))
			if v != 0 {
				nonZero = true
			}
		}
	}
	assert.True(t, nonZero, "first-use rows must be randomized, not zero")
}

func TestMemoryStore_ShapeChecks(t *testing.T) {
	s, err := NewMemoryStore(4, UniformInit{})
	require.NoError(t, err)
	defer s.Close()

	wrong := newBuf(t, 1, 3)
	err = s.Get(context.Background(), []model.Index{0}, wrong, 1)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	ok4 := newBuf(t, 1, 4)
	err = s.Set(context.Background(), []model.Index{0}, ok4, 2, 0)
	assert.ErrorIs(t, err, model.ErrInvalidArgument, "count exceeds index list")
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s, err := NewMemoryStore(2, UniformInit{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	for g := range 16 {
		buf := newBuf(t, 4, 2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			indices := []model.Index{model.Index(g * 4), model.Index(g*4 + 1), model.Index(g*4 + 2), model.Index(g*4 + 3)}
			for range 100 {
				_ = s.Set(ctx, indices, buf, 4, 0)
				_ = s.Get(ctx, indices, buf, 4)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, s.Len())
}
