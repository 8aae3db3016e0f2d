package small

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/pool/large"
)

func newTestPools(t *testing.T) (*large.Pool, *Pool) {
	t.Helper()
	lp, err := large.New(&large.Config{SegmentSize: 1 << 20})
	require.NoError(t, err)
	sp, err := New(lp, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sp.Close())
		require.NoError(t, lp.Close())
	})
	return lp, sp
}

func fill(p unsafe.Pointer, n int, b byte) {
	buf := head.Bytes(p, n)
	for i := range buf {
		buf[i] = b
	}
}

func requireFilled(t *testing.T, p unsafe.Pointer, n int, b byte) {
	t.Helper()
	for i, got := range head.Bytes(p, n) {
		if got != b {
			t.Fatalf("byte %d: got 0x%x want 0x%x", i, got, b)
		}
	}
}

func Test_SizeClasses_Default(t *testing.T) {
	table := newSizeClassTable(DefaultConfig)
	sizes := table.sizes

	require.Equal(t, 16, sizes[0])
	require.Equal(t, head.SmallMax, sizes[len(sizes)-1])
	for i, s := range sizes {
		require.Zero(t, s&head.AlignMask, "class %d (%d) not 16-byte aligned", i, s)
		if i > 0 {
			require.Greater(t, s, sizes[i-1], "classes must be strictly increasing")
		}
	}
	// Linear range is contiguous.
	for i := 0; sizes[i] < DefaultConfig.LinearMax; i++ {
		require.Equal(t, 16*(i+1), sizes[i])
	}

	tests := []struct {
		size int
		want int // class payload
	}{
		{1, 16},
		{16, 16},
		{17, 32},
		{255, 256},
		{257, 320},
		{3000, head.SmallMax},
		{head.SmallMax, head.SmallMax},
	}
	for _, tt := range tests {
		ci := table.classOf(tt.size)
		require.Less(t, ci, table.NumClasses())
		assert.Equal(t, tt.want, sizes[ci], "size %d", tt.size)
	}
	require.Equal(t, table.NumClasses(), table.classOf(head.SmallMax+1))
}

func Test_SizeClasses_Coarse(t *testing.T) {
	table := newSizeClassTable(ConfigCoarse)
	require.NoError(t, ConfigCoarse.validate())
	require.Less(t, table.NumClasses(), newSizeClassTable(DefaultConfig).NumClasses())
	require.Equal(t, head.SmallMax, table.sizes[table.NumClasses()-1])
	require.Equal(t, "Coarse", table.String())
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unaligned min", func(c *Config) { c.Min = 10 }},
		{"zero increment", func(c *Config) { c.Increment = 0 }},
		{"linear below min", func(c *Config) { c.LinearMax = 0 }},
		{"max differs from SmallMax", func(c *Config) { c.Max = 2048 }},
		{"growth factor", func(c *Config) { c.GrowthFactor = 1 }},
		{"slab too small", func(c *Config) { c.SlabSize = 4096 }},
		{"slab too large", func(c *Config) { c.SlabSize = 4 << 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig
			tt.modify(&cfg)
			require.ErrorIs(t, cfg.validate(), ErrBadConfig)
		})
	}
	require.NoError(t, DefaultConfig.validate())
}

func Test_Small_New_NoLarge(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrNoLarge)
}

func Test_Small_MallocFree_RoundTrip(t *testing.T) {
	lp, sp := newTestPools(t)

	p := sp.Malloc(100)
	require.NotNil(t, p)
	require.Zero(t, uintptr(p)&head.AlignMask)
	require.True(t, head.IsSmall(p))
	require.True(t, sp.Owns(p))
	require.Equal(t, 100, sp.Size(p))
	require.Equal(t, 112, sp.ClassSize(100))

	st := sp.Stats()
	require.Equal(t, 1, st.Slabs)
	require.Equal(t, 1, st.LiveObjects)
	require.Equal(t, int64(100), st.LiveBytes)
	require.Equal(t, 1, lp.Stats().LiveBlocks, "one slab drawn from the large allocator")
	require.NoError(t, sp.Check())

	require.True(t, sp.Free(p))
	require.Equal(t, -1, sp.Size(p))
	require.False(t, sp.Free(p), "double free must be refused")

	st = sp.Stats()
	require.Zero(t, st.LiveObjects)
	require.Zero(t, st.LiveBytes)
	require.Equal(t, 1, st.Slabs, "last slab of a class is kept")
	require.NoError(t, sp.Check())
}

func Test_Small_Malloc_Invalid(t *testing.T) {
	_, sp := newTestPools(t)

	require.Nil(t, sp.Malloc(0))
	require.Nil(t, sp.Malloc(-1))
	require.Nil(t, sp.Malloc(head.SmallMax+1))
	require.Nil(t, sp.Nalloc(100, 40))
	require.NotNil(t, sp.Nalloc(10, 30))
	require.False(t, sp.Free(nil))
	require.Equal(t, -1, sp.ClassSize(0))
}

func Test_Small_LIFO_Reuse(t *testing.T) {
	_, sp := newTestPools(t)

	a := sp.Malloc(64)
	b := sp.Malloc(64)
	require.NotEqual(t, a, b)
	require.True(t, sp.Free(a))

	c := sp.Malloc(60) // same class
	require.Equal(t, a, c, "most recently freed slot is reused first")
}

func Test_Small_Malloc0_Zeroes(t *testing.T) {
	_, sp := newTestPools(t)

	p := sp.Malloc(200)
	fill(p, 200, 0xee)
	require.True(t, sp.Free(p))

	z := sp.Malloc0(200)
	require.Equal(t, p, z)
	requireFilled(t, z, 200, 0)

	n := sp.Nalloc0(8, 32)
	require.NotNil(t, n)
	requireFilled(t, n, 256, 0)
}

func Test_Small_EveryClass(t *testing.T) {
	_, sp := newTestPools(t)

	var ptrs []unsafe.Pointer
	for size := 1; size <= head.SmallMax; size += 37 {
		p := sp.Malloc(size)
		require.NotNil(t, p, "size %d", size)
		require.Zero(t, uintptr(p)&head.AlignMask)
		require.GreaterOrEqual(t, sp.ClassSize(size), size)
		fill(p, size, byte(size))
		ptrs = append(ptrs, p)
	}
	require.NoError(t, sp.Check())

	size := 1
	for _, p := range ptrs {
		requireFilled(t, p, size, byte(size))
		require.True(t, sp.Free(p))
		size += 37
	}
	require.NoError(t, sp.Check())
	require.Zero(t, sp.Stats().LiveObjects)
}

func Test_Small_SlabRelease(t *testing.T) {
	lp, sp := newTestPools(t)

	perSlab := DefaultConfig.SlabSize / (head.Size + head.SmallMax)
	n := 2*perSlab + 1

	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptrs[i] = sp.Malloc(head.SmallMax)
		require.NotNil(t, ptrs[i])
	}
	require.Equal(t, 3, sp.Stats().Slabs)
	require.Equal(t, 3, lp.Stats().LiveBlocks)

	for _, p := range ptrs {
		require.True(t, sp.Free(p))
	}
	st := sp.Stats()
	require.Equal(t, 1, st.Slabs)
	require.Equal(t, uint64(2), st.SlabsReleased)
	require.Equal(t, 1, lp.Stats().LiveBlocks)
	require.NoError(t, sp.Check())
	require.NoError(t, lp.Check())
}

func Test_Small_Ralloc(t *testing.T) {
	_, sp := newTestPools(t)

	p := sp.Malloc(100)
	fill(p, 100, 0x42)

	// 110 still fits the 112-byte class.
	q := sp.Ralloc(p, 110)
	require.Equal(t, p, q)
	require.Equal(t, 110, sp.Size(q))

	// Shrinking stays in place too.
	q = sp.Ralloc(q, 50)
	require.Equal(t, p, q)
	requireFilled(t, q, 50, 0x42)
	fill(q, 50, 0x43)

	r := sp.Ralloc(q, 500)
	require.NotNil(t, r)
	require.NotEqual(t, q, r)
	require.Equal(t, -1, sp.Size(q))
	require.Equal(t, 500, sp.Size(r))
	requireFilled(t, r, 50, 0x43)

	st := sp.Stats()
	require.Equal(t, uint64(3), st.Rallocs)
	require.Equal(t, uint64(2), st.ReallocInPlace)
	require.NoError(t, sp.Check())
}

func Test_Small_Ralloc_Edges(t *testing.T) {
	_, sp := newTestPools(t)

	p := sp.Ralloc(nil, 48)
	require.NotNil(t, p)
	require.Equal(t, 48, sp.Size(p))
	fill(p, 48, 0x77)

	require.Nil(t, sp.Ralloc(p, head.SmallMax+1), "large sizes are not served here")
	requireFilled(t, p, 48, 0x77)
	require.Nil(t, sp.Ralloc(p, 0))

	require.True(t, sp.Free(p))
	require.Nil(t, sp.Ralloc(p, 64), "freed slot must not be resized")
}

func Test_Small_ForeignPointers(t *testing.T) {
	_, sp := newTestPools(t)

	p := sp.Malloc(100)
	require.NotNil(t, p)

	var local [64]uint64
	foreign := unsafe.Add(unsafe.Pointer(&local[0]), head.Size)
	require.False(t, sp.Owns(foreign))
	require.False(t, sp.Free(foreign))
	require.Equal(t, -1, sp.Size(foreign))

	interior := unsafe.Add(p, head.Size)
	require.False(t, sp.Owns(interior))
	require.False(t, sp.Free(interior))
	require.Equal(t, 100, sp.Size(p))
}

func Test_Small_Check_DetectsCorruption(t *testing.T) {
	_, sp := newTestPools(t)

	p := sp.Malloc(100)
	require.NoError(t, sp.Check())

	h := head.Of(p)
	saved := *h
	h.Magic = 0x12345678
	require.ErrorIs(t, sp.Check(), ErrCorrupt)
	require.False(t, sp.Free(p), "corrupted head is not freed")

	*h = saved
	require.NoError(t, sp.Check())
}

func Test_Small_Close(t *testing.T) {
	lp, err := large.New(nil)
	require.NoError(t, err)
	defer lp.Close()

	sp, err := New(lp, nil)
	require.NoError(t, err)
	for i := range 100 {
		require.NotNil(t, sp.Malloc(16+i*16))
	}
	require.Positive(t, lp.Stats().LiveBlocks)

	require.NoError(t, sp.Close())
	require.NoError(t, sp.Close())
	require.Zero(t, lp.Stats().LiveBlocks, "all slabs returned")
	require.Nil(t, sp.Malloc(16))
}

func Test_Small_Dump(t *testing.T) {
	_, sp := newTestPools(t)
	sp.Malloc(100)
	sp.Malloc(2000)

	var buf bytes.Buffer
	sp.Dump(&buf)
	out := buf.String()
	require.Contains(t, out, "small pool (Default)")
	require.Contains(t, out, "live: 2 objects")
	require.Contains(t, out, "class[")
}

func Test_Small_RandomChurn(t *testing.T) {
	_, sp := newTestPools(t)
	rng := rand.New(rand.NewPCG(1, 2))

	type obj struct {
		p    unsafe.Pointer
		size int
		tag  byte
	}
	var live []obj
	for i := range 20000 {
		switch op := rng.IntN(10); {
		case op < 5 || len(live) == 0:
			size := 1 + rng.IntN(head.SmallMax)
			p := sp.Malloc(size)
			require.NotNil(t, p)
			tag := byte(i)
			fill(p, size, tag)
			live = append(live, obj{p, size, tag})
		case op < 7:
			j := rng.IntN(len(live))
			o := live[j]
			size := 1 + rng.IntN(head.SmallMax)
			np := sp.Ralloc(o.p, size)
			require.NotNil(t, np)
			requireFilled(t, np, min(o.size, size), o.tag)
			fill(np, size, o.tag)
			live[j] = obj{np, size, o.tag}
		default:
			j := rng.IntN(len(live))
			o := live[j]
			requireFilled(t, o.p, o.size, o.tag)
			require.True(t, sp.Free(o.p))
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	require.NoError(t, sp.Check())
	require.Equal(t, len(live), sp.Stats().LiveObjects)

	for _, o := range live {
		require.True(t, sp.Free(o.p))
	}
	require.NoError(t, sp.Check())
	require.Zero(t, sp.Stats().LiveBytes)
}
