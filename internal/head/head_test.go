package head

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// newBlock returns a payload pointer with Size bytes of head space in front of it.
func newBlock(t *testing.T, n int) ([]uint64, unsafe.Pointer) {
	t.Helper()
	buf := make([]uint64, (Size+n+7)/8)
	return buf, unsafe.Add(unsafe.Pointer(&buf[0]), Size)
}

func Test_Head_LayoutSize(t *testing.T) {
	require.Equal(t, uintptr(Size), unsafe.Sizeof(Head{}))
}

func Test_Head_StampValidate(t *testing.T) {
	buf, p := newBlock(t, 64)
	_ = buf

	Stamp(p, 64, FlagSmall)
	size, ok := Validate(p)
	require.True(t, ok)
	require.Equal(t, 64, size)
	require.True(t, IsSmall(p))

	Invalidate(p)
	_, ok = Validate(p)
	require.False(t, ok)
	require.Equal(t, FreedMagic, Of(p).Magic)
	require.Equal(t, uint64(64), Of(p).Size, "size is kept for diagnostics")
}

func Test_Head_ValidateRejects(t *testing.T) {
	buf, p := newBlock(t, 16)
	_ = buf

	_, ok := Validate(nil)
	require.False(t, ok)

	Stamp(p, 16, 0)
	Of(p).Magic = 0x12345678
	_, ok = Validate(p)
	require.False(t, ok)

	Stamp(p, 16, 0)
	Of(p).Size = 0
	_, ok = Validate(p)
	require.False(t, ok)
}

func Test_Head_AlignUp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
		{4096, 4096},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, AlignUp(tt.in), "AlignUp(%d)", tt.in)
	}
	require.Equal(t, 32, BlockSize(1))
	require.Equal(t, 32, BlockSize(16))
	require.Equal(t, 48, BlockSize(17))
}

func Test_Head_Dump(t *testing.T) {
	buf, p := newBlock(t, 8)
	_ = buf
	Stamp(p, 8, 0)
	copy(Bytes(p, 8), []byte{0xaa, 0xbb, 0xcc, 0xdd, 1, 2, 3, 4})

	var out bytes.Buffer
	Dump(&out, p, "[test]: ")
	s := out.String()
	require.Contains(t, s, "[test]: head: magic=0xdeadbeef (live)")
	require.Contains(t, s, "aabbccdd01020304")

	out.Reset()
	Of(p).Magic = 0
	Dump(&out, p, "")
	require.Contains(t, out.String(), "(corrupted)")
	require.NotContains(t, out.String(), "payload")
}
