package small

import (
	"fmt"
	"math/bits"
	"sort"
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/logger"
	"github.com/joshuapare/poolkit/pool/large"
)

// Pool is a slab allocator for requests up to head.SmallMax bytes.
type Pool struct {
	large *large.Pool
	table *sizeClassTable

	classes []class

	// All slabs sorted by base address, for pointer lookup
	slabs []*slab

	stats  Stats
	closed bool
}

// class tracks the slabs serving one size class.
type class struct {
	size  int     // payload bytes per slot
	avail []*slab // slabs with at least one free slot
	slabs int
	live  int
}

// slab is one block from the large allocator cut into equal slots.
type slab struct {
	base   unsafe.Pointer // large-allocator payload
	addr   uintptr
	end    uintptr
	class  int
	stride int // head.Size + class payload
	nslots int

	free  []uint16 // LIFO stack of free slot indexes
	live  int
	avail int // index in class.avail, -1 when full
}

func (s *slab) slot(i int) unsafe.Pointer {
	return unsafe.Add(s.base, i*s.stride+head.Size)
}

// Stats holds allocator counters.
type Stats struct {
	Slabs       int   // Slabs currently held from the large allocator
	SlabBytes   int64 // Bytes held in slabs
	LiveObjects int   // Slots handed out
	LiveBytes   int64 // Bytes requested by callers for live slots
	SlotBytes   int64 // Class bytes of live slots (heads excluded)

	Mallocs        uint64 // Successful allocations (ralloc moves included)
	Frees          uint64 // Successful frees (ralloc moves included)
	Rallocs        uint64 // Ralloc calls on a live slot
	ReallocInPlace uint64 // Rallocs that stayed within the slot's class
	SlabsAcquired  uint64 // Slabs obtained from the large allocator
	SlabsReleased  uint64 // Slabs returned to the large allocator
}

// New creates a small allocator drawing slabs from lp. A nil config selects
// DefaultConfig.
func New(lp *large.Pool, config *Config) (*Pool, error) {
	if lp == nil {
		return nil, ErrNoLarge
	}
	if config == nil {
		config = &DefaultConfig
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	table := newSizeClassTable(*config)
	classes := make([]class, table.NumClasses())
	for i, size := range table.sizes {
		classes[i].size = size
	}
	return &Pool{
		large:   lp,
		table:   table,
		classes: classes,
	}, nil
}

// Malloc allocates size bytes from the class that fits it. It returns nil
// when size is outside (0, head.SmallMax] or no slab can be obtained.
func (p *Pool) Malloc(size int) unsafe.Pointer {
	if p.closed || size <= 0 || size > p.table.config.Max {
		return nil
	}
	ci := p.table.classOf(size)
	c := &p.classes[ci]
	if len(c.avail) == 0 && p.newSlab(ci) == nil {
		return nil
	}

	s := c.avail[len(c.avail)-1]
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.live++
	c.live++
	if len(s.free) == 0 {
		p.removeAvail(c, s)
	}

	ptr := s.slot(int(idx))
	head.Stamp(ptr, size, head.FlagSmall)

	p.stats.Mallocs++
	p.stats.LiveObjects++
	p.stats.LiveBytes += int64(size)
	p.stats.SlotBytes += int64(c.size)
	return ptr
}

// Malloc0 is Malloc with the first size bytes zeroed.
func (p *Pool) Malloc0(size int) unsafe.Pointer {
	ptr := p.Malloc(size)
	if ptr != nil {
		clear(head.Bytes(ptr, size))
	}
	return ptr
}

// Nalloc allocates count items of size bytes each.
func (p *Pool) Nalloc(count, size int) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.Malloc(n)
}

// Nalloc0 is Nalloc with the whole extent zeroed.
func (p *Pool) Nalloc0(count, size int) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.Malloc0(n)
}

// Ralloc resizes the slot at ptr. A request that still fits the slot's class
// is served in place; otherwise a new slot is allocated, the common prefix is
// copied and the old slot freed. A nil ptr behaves like Malloc. On failure nil
// is returned and the original slot is left untouched.
func (p *Pool) Ralloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	if ptr == nil {
		return p.Malloc(size)
	}
	if p.closed || size <= 0 || size > p.table.config.Max {
		return nil
	}
	s, _, ok := p.lookup(ptr)
	if !ok {
		return nil
	}
	h := head.Of(ptr)
	if h.Magic != head.Magic || h.Flags&head.FlagSmall == 0 {
		return nil
	}
	p.stats.Rallocs++
	old := int(h.Size)

	if size <= p.classes[s.class].size {
		h.Size = uint64(size)
		p.stats.LiveBytes += int64(size - old)
		p.stats.ReallocInPlace++
		return ptr
	}

	np := p.Malloc(size)
	if np == nil {
		return nil
	}
	copy(head.Bytes(np, min(old, size)), head.Bytes(ptr, min(old, size)))
	p.Free(ptr)
	return np
}

// Free releases the slot at ptr. It reports false when ptr is not a live slot
// of this pool.
func (p *Pool) Free(ptr unsafe.Pointer) bool {
	if p.closed || ptr == nil {
		return false
	}
	s, idx, ok := p.lookup(ptr)
	if !ok {
		return false
	}
	h := head.Of(ptr)
	if h.Magic != head.Magic || h.Flags&head.FlagSmall == 0 {
		return false
	}
	req := int(h.Size)
	head.Invalidate(ptr)

	c := &p.classes[s.class]
	if len(s.free) == 0 {
		p.addAvail(c, s)
	}
	s.free = append(s.free, uint16(idx))
	s.live--
	c.live--

	p.stats.Frees++
	p.stats.LiveObjects--
	p.stats.LiveBytes -= int64(req)
	p.stats.SlotBytes -= int64(c.size)

	if s.live == 0 && c.slabs > 1 {
		p.releaseSlab(c, s)
	}
	return true
}

// Size returns the size requested for the live slot at ptr, or -1 when ptr is
// not a live slot of this pool.
func (p *Pool) Size(ptr unsafe.Pointer) int {
	if ptr == nil {
		return -1
	}
	if _, _, ok := p.lookup(ptr); !ok {
		return -1
	}
	h := head.Of(ptr)
	if h.Magic != head.Magic || h.Flags&head.FlagSmall == 0 {
		return -1
	}
	return int(h.Size)
}

// Owns reports whether ptr lies on a slot boundary of one of the pool's slabs.
func (p *Pool) Owns(ptr unsafe.Pointer) bool {
	_, _, ok := p.lookup(ptr)
	return ok
}

// ClassSize returns the payload capacity of the class serving size bytes, or
// -1 when size is not a small request.
func (p *Pool) ClassSize(size int) int {
	if size <= 0 || size > p.table.config.Max {
		return -1
	}
	return p.classes[p.table.classOf(size)].size
}

// Stats returns a snapshot of the allocator counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// Close returns every slab to the large allocator. Slots still handed out
// become invalid. The pool refuses further allocations.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if p.stats.LiveObjects > 0 {
		logger.L.Warn("small: closed with live objects",
			"objects", p.stats.LiveObjects, "bytes", p.stats.LiveBytes)
	}
	var firstErr error
	for _, s := range p.slabs {
		if !p.large.Free(s.base) && firstErr == nil {
			firstErr = fmt.Errorf("%w: %#x", ErrSlabLost, s.addr)
		}
	}
	p.slabs = nil
	for i := range p.classes {
		p.classes[i] = class{size: p.classes[i].size}
	}
	p.stats = Stats{}
	return firstErr
}

// ============================================================================
// Slab management
// ============================================================================

// newSlab obtains a slab for class ci and makes it available.
func (p *Pool) newSlab(ci int) *slab {
	cfg := p.table.config
	base := p.large.Malloc(cfg.SlabSize, nil)
	if base == nil {
		logger.L.Warn("small: slab allocation failed", "class", p.classes[ci].size)
		return nil
	}

	c := &p.classes[ci]
	stride := head.Size + c.size
	n := cfg.SlabSize / stride
	s := &slab{
		base:   base,
		addr:   uintptr(base),
		end:    uintptr(base) + uintptr(n*stride),
		class:  ci,
		stride: stride,
		nslots: n,
		free:   make([]uint16, n),
		avail:  -1,
	}
	// Slot 0 on top of the stack. Heads are cleared since the large
	// allocator may hand back memory holding stale data.
	for i := range n {
		s.free[i] = uint16(n - 1 - i)
		*head.Of(s.slot(i)) = head.Head{}
	}

	i := sort.Search(len(p.slabs), func(i int) bool { return p.slabs[i].addr > s.addr })
	p.slabs = append(p.slabs, nil)
	copy(p.slabs[i+1:], p.slabs[i:])
	p.slabs[i] = s

	c.slabs++
	p.addAvail(c, s)
	p.stats.Slabs++
	p.stats.SlabBytes += int64(cfg.SlabSize)
	p.stats.SlabsAcquired++

	if logger.Tracing() {
		logger.L.Debug("small: new slab", "class", c.size, "slots", n, "slabs", c.slabs)
	}
	return s
}

// releaseSlab returns an empty slab to the large allocator.
func (p *Pool) releaseSlab(c *class, s *slab) {
	p.removeAvail(c, s)
	i := sort.Search(len(p.slabs), func(i int) bool { return p.slabs[i].addr >= s.addr })
	p.slabs = append(p.slabs[:i], p.slabs[i+1:]...)
	c.slabs--

	if !p.large.Free(s.base) {
		logger.L.Error("small: large allocator refused slab", "addr", s.base)
	}
	p.stats.Slabs--
	p.stats.SlabBytes -= int64(p.table.config.SlabSize)
	p.stats.SlabsReleased++

	if logger.Tracing() {
		logger.L.Debug("small: released slab", "class", c.size, "slabs", c.slabs)
	}
}

func (p *Pool) addAvail(c *class, s *slab) {
	s.avail = len(c.avail)
	c.avail = append(c.avail, s)
}

// removeAvail drops s from the class's available list (swap-remove).
func (p *Pool) removeAvail(c *class, s *slab) {
	i := s.avail
	if i < 0 {
		return
	}
	last := len(c.avail) - 1
	if i != last {
		c.avail[i] = c.avail[last]
		c.avail[i].avail = i
	}
	c.avail[last] = nil
	c.avail = c.avail[:last]
	s.avail = -1
}

// lookup maps ptr to its slab and slot index. It reports false when ptr is not
// a slot payload address of this pool.
func (p *Pool) lookup(ptr unsafe.Pointer) (*slab, int, bool) {
	addr := uintptr(ptr)
	i := sort.Search(len(p.slabs), func(i int) bool { return p.slabs[i].end > addr })
	if i == len(p.slabs) {
		return nil, 0, false
	}
	s := p.slabs[i]
	if addr < s.addr+head.Size {
		return nil, 0, false
	}
	off := int(addr - s.addr - head.Size)
	if off%s.stride != 0 {
		return nil, 0, false
	}
	return s, off / s.stride, true
}

func mulSize(count, size int) (int, bool) {
	if count <= 0 || size <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > uint64(head.SmallMax) {
		return 0, false
	}
	return int(lo), true
}
