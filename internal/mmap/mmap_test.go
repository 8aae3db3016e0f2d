package mmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapZeroedAndWritable(t *testing.T) {
	n := PageSize() * 2
	data, err := Map(n)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, Unmap(data))
	}()

	require.Len(t, data, n)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: 0x%x", i, b)
		}
	}
	data[0], data[n-1] = 0xde, 0xad
	require.Equal(t, byte(0xde), data[0])
	require.Equal(t, byte(0xad), data[n-1])
}

func TestMapInvalidSize(t *testing.T) {
	_, err := Map(0)
	require.Error(t, err)
	_, err = Map(-1)
	require.Error(t, err)
}

func TestUnmapEmpty(t *testing.T) {
	require.NoError(t, Unmap(nil))
}

func TestPageSizePowerOfTwo(t *testing.T) {
	ps := PageSize()
	require.Positive(t, ps)
	require.Zero(t, ps&(ps-1))
}
