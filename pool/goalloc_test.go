package pool

import (
	"bytes"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/poolkit/internal/head"
)

func Test_GoAllocator_Lifecycle(t *testing.T) {
	g := NewGoAllocator()

	p := g.Malloc(100)
	require.NotNil(t, p)
	size, ok := head.Validate(p)
	require.True(t, ok)
	require.Equal(t, 100, size)
	require.Zero(t, uintptr(p)%8)

	fill(p, 100, 0x44)
	q := g.Ralloc(p, 40)
	require.NotNil(t, q)
	requireFilled(t, q, 40, 0x44)
	require.Equal(t, -1, g.Size(p))
	require.Equal(t, 40, g.Size(q))

	blocks, n := g.Live()
	require.Equal(t, 1, blocks)
	require.Equal(t, int64(40), n)
	require.NoError(t, g.Check())

	require.True(t, g.Free(q))
	require.False(t, g.Free(q))
	blocks, n = g.Live()
	require.Zero(t, blocks)
	require.Zero(t, n)
}

func Test_GoAllocator_Invalid(t *testing.T) {
	g := NewGoAllocator()

	require.Nil(t, g.Malloc(0))
	require.Nil(t, g.Nalloc(math.MaxInt, math.MaxInt))
	require.Nil(t, g.Nalloc0(-1, 4))
	require.False(t, g.Free(nil))

	var local [4]uint64
	require.Nil(t, g.Ralloc(unsafe.Add(unsafe.Pointer(&local[0]), head.Size), 10))
}

func Test_GoAllocator_Check_DetectsCorruption(t *testing.T) {
	g := NewGoAllocator()

	p := g.Nalloc0(8, 8)
	requireFilled(t, p, 64, 0)
	head.Of(p).Magic = 0

	err := g.Check()
	require.ErrorIs(t, err, ErrCorrupted)
}

func Test_GoAllocator_Dump(t *testing.T) {
	g := NewGoAllocator()
	g.Malloc0(2048)

	var buf bytes.Buffer
	g.Dump(&buf)
	require.Equal(t, "go allocator: 1 blocks, 2.0 KiB live\n", buf.String())
}
