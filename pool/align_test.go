package pool

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func offsetOf(ptr unsafe.Pointer) int {
	return int(*(*byte)(unsafe.Add(ptr, -1)))
}

func Test_Align_Malloc_Grid(t *testing.T) {
	p, _, _ := newTestPool(t)

	for _, align := range []int{4, 8, 16, 32, 64, 128} {
		for _, size := range []int{1, 1023, 1_000_000} {
			t.Run(fmt.Sprintf("align=%d/size=%d", align, size), func(t *testing.T) {
				ptr := p.AlignMalloc(size, align)
				require.NotNil(t, ptr)
				require.Zero(t, uintptr(ptr)%uintptr(align))

				diff := offsetOf(ptr)
				require.GreaterOrEqual(t, diff, 1)
				require.LessOrEqual(t, diff, align)

				fill(ptr, size, 0x7e)
				requireFilled(t, ptr, size, 0x7e)
				require.True(t, p.AlignFree(ptr))
			})
		}
	}
	require.NoError(t, p.Check())
}

func Test_Align_AlignedRawStillOffset(t *testing.T) {
	p, _, _ := newTestPool(t)

	// Pool payloads are 16-byte aligned, so the raw pointer is already
	// aligned and the offset must be the full alignment.
	for _, align := range []int{4, 8, 16} {
		ptr := p.AlignMalloc(100, align)
		require.Equal(t, align, offsetOf(ptr))
		require.True(t, p.AlignFree(ptr))
	}
}

func Test_Align_Accounting(t *testing.T) {
	p, _, _ := newTestPool(t)

	for _, size := range []int{10, 3000, 70000} {
		require.True(t, p.AlignFree(p.AlignMalloc(size, 64)))
		before := snapshot(p)

		ptr := p.AlignMalloc(size, 64)
		require.NotNil(t, ptr)
		require.True(t, p.AlignFree(ptr))
		require.Equal(t, before, snapshot(p), "size %d", size)
	}
}

func Test_Align_ZeroFill(t *testing.T) {
	p, _, _ := newTestPool(t)

	ptr := p.AlignMalloc(500, 32)
	fill(ptr, 500, 0xff)
	require.True(t, p.AlignFree(ptr))

	z := p.AlignMalloc0(500, 32)
	require.Zero(t, uintptr(z)%32)
	requireFilled(t, z, 500, 0)

	n := p.AlignNalloc0(100, 50, 16)
	require.Zero(t, uintptr(n)%16)
	requireFilled(t, n, 5000, 0)

	m := p.AlignNalloc(2, 10, 8)
	require.NotNil(t, m)
	require.Nil(t, p.AlignNalloc(-1, 10, 8))
}

func Test_Align_InvalidAlignment(t *testing.T) {
	p, _, _ := newTestPool(t)

	for _, align := range []int{0, 1, 2, 3, 6, 12, 24, 256, -4} {
		call := func() unsafe.Pointer { return p.AlignMalloc(64, align) }
		if debugPool {
			require.Panics(t, func() { call() }, "align %d", align)
			continue
		}
		require.Nil(t, call(), "align %d", align)
		require.Nil(t, p.AlignRalloc(nil, 64, align), "align %d", align)
	}
	require.Nil(t, p.AlignMalloc(0, 16))
	require.Nil(t, p.AlignMalloc(MaxSize, 16), "size+align overflows MaxSize")
}

func Test_Align_Ralloc_CrossesBoundary(t *testing.T) {
	p, _, _ := newTestPool(t)

	for _, align := range []int{4, 16, 32, 64, 128} {
		t.Run(fmt.Sprintf("align=%d", align), func(t *testing.T) {
			ptr := p.AlignMalloc(64, align)
			fill(ptr, 64, 0xa5)

			big := p.AlignRalloc(ptr, 8192, align)
			require.NotNil(t, big)
			require.Zero(t, uintptr(big)%uintptr(align))
			requireFilled(t, big, 64, 0xa5)
			fill(big, 8192, 0x5a)

			small := p.AlignRalloc(big, 40, align)
			require.NotNil(t, small)
			require.Zero(t, uintptr(small)%uintptr(align))
			requireFilled(t, small, 40, 0x5a)

			require.True(t, p.AlignFree(small))
			require.NoError(t, p.Check())
		})
	}
	require.Equal(t, uint64(10), p.Stats().Migrations)
}

func Test_Align_Ralloc_Nil(t *testing.T) {
	p, _, _ := newTestPool(t)

	ptr := p.AlignRalloc(nil, 300, 64)
	require.NotNil(t, ptr)
	require.Zero(t, uintptr(ptr)%64)
	require.True(t, p.AlignFree(ptr))
}

func Test_Align_Misaligned(t *testing.T) {
	if debugPool {
		t.Skip("misaligned pointers assert in pooldebug builds")
	}
	p, _, _ := newTestPool(t)

	ptr := p.AlignMalloc(100, 64)
	require.NotNil(t, ptr)

	require.Nil(t, p.AlignRalloc(unsafe.Add(ptr, 16), 200, 64))
	require.False(t, p.AlignFree(unsafe.Add(ptr, 1)))
	require.False(t, p.AlignFree(nil))

	// The original block is unaffected.
	require.True(t, p.AlignFree(ptr))
}
