package humanize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	require.Equal(t, "0", Count(0))
	require.Equal(t, "999", Count(999))
	require.Equal(t, "1,234,567", Count(1234567))
	require.Equal(t, "4,096", Count(uint64(4096)))
}

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{2048, "2.0 KiB"},
		{64 << 10, "64 KiB"},
		{-2048, "-2.0 KiB"},
		{1536, "1.5 KiB"},
		{4 << 20, "4.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Bytes(tt.in), "Bytes(%d)", tt.in)
	}
}

func TestPercent(t *testing.T) {
	require.Equal(t, "0.0%", Percent(1, 0))
	require.Equal(t, "50.0%", Percent(1, 2))
	require.Equal(t, "33.3%", Percent(1, 3))
}
