package large

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/logger"
	"github.com/joshuapare/poolkit/internal/mmap"
)

// Pool is a segment-based allocator for blocks of arbitrary size.
type Pool struct {
	mu sync.Mutex

	cfg      Config
	pageSize int

	// Segments sorted by base address
	segments []*segment

	// Segregated free lists by power-of-two size class
	freeLists [numClasses]freeBlockHeap

	// O(1) coalescing indexes
	startIdx map[uintptr]*freeBlock
	endIdx   map[uintptr]*freeBlock

	// Live blocks keyed by block start address
	used map[uintptr]usedBlock

	stats  Stats
	closed bool
}

// usedBlock is the allocator's own record of a live block. It is kept apart
// from the in-memory head so a corrupted head cannot corrupt the free lists.
type usedBlock struct {
	seg  *segment
	off  int // offset of the block start within seg
	size int // block size including head
	req  int // size requested by the caller
}

// Stats holds allocator counters.
type Stats struct {
	Segments     int   // Mapped segments
	SegmentBytes int64 // Total mapped bytes
	LiveBlocks   int   // Blocks currently handed out
	LiveBytes    int64 // Bytes requested by callers for live blocks
	BlockBytes   int64 // Bytes consumed by live blocks (heads and padding included)
	FreeBlocks   int   // Free spans
	FreeBytes    int64 // Bytes in free spans

	Mallocs          uint64 // Successful allocations (ralloc moves included)
	Frees            uint64 // Successful frees (ralloc moves included)
	Rallocs          uint64 // Ralloc calls on a live block
	GrowInPlace      uint64 // Rallocs that absorbed the following free span
	ShrinkInPlace    uint64 // Rallocs that kept the block at its address
	Moves            uint64 // Rallocs that had to allocate, copy and free
	GrowCalls        uint64 // Segments mapped
	NoGrowMisses     uint64 // Requests refused because of Hint.NoGrow
	CoalesceForward  uint64 // Forward coalesce operations
	CoalesceBackward uint64 // Backward coalesce operations
}

// New creates a large allocator. A nil config selects DefaultConfig.
// No memory is mapped until the first allocation.
func New(config *Config) (*Pool, error) {
	if config == nil {
		config = &DefaultConfig
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	cfg := *config
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}

	return &Pool{
		cfg:      cfg,
		pageSize: mmap.PageSize(),
		startIdx: make(map[uintptr]*freeBlock),
		endIdx:   make(map[uintptr]*freeBlock),
		used:     make(map[uintptr]usedBlock),
	}, nil
}

// Malloc allocates size bytes. The returned pointer is 16-byte aligned and is
// preceded by a data head. It returns nil when size is not positive, when
// hint.NoGrow forbids mapping a needed segment, or when mapping fails.
func (l *Pool) Malloc(size int, hint *Hint) unsafe.Pointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.malloc(size, hint)
}

// Malloc0 is Malloc with the first size bytes zeroed.
func (l *Pool) Malloc0(size int, hint *Hint) unsafe.Pointer {
	p := l.Malloc(size, hint)
	if p != nil {
		clear(head.Bytes(p, size))
	}
	return p
}

// Nalloc allocates count items of size bytes each.
func (l *Pool) Nalloc(count, size int, hint *Hint) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return l.Malloc(n, hint)
}

// Nalloc0 is Nalloc with the whole extent zeroed.
func (l *Pool) Nalloc0(count, size int, hint *Hint) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return l.Malloc0(n, hint)
}

// Ralloc resizes the block at p to size bytes, moving it if needed. A nil p
// behaves like Malloc. On failure nil is returned and the original block is
// left untouched.
func (l *Pool) Ralloc(p unsafe.Pointer, size int, hint *Hint) unsafe.Pointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ralloc(p, size, hint)
}

// Free releases the block at p. It reports false when p is not a live block of
// this pool.
func (l *Pool) Free(p unsafe.Pointer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.free(p)
}

// Size returns the size requested for the live block at p, or -1 when p is
// not a live block of this pool.
func (l *Pool) Size(p unsafe.Pointer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == nil {
		return -1
	}
	ub, ok := l.used[uintptr(p)-head.Size]
	if !ok {
		return -1
	}
	return ub.req
}

// Stats returns a snapshot of the allocator counters.
func (l *Pool) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close unmaps every segment. Blocks still handed out become invalid.
// The pool refuses further allocations.
func (l *Pool) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for _, seg := range l.segments {
		if err := mmap.Unmap(seg.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("large: unmap segment %#x: %w", seg.base, err)
		}
	}
	if l.stats.LiveBlocks > 0 {
		logger.L.Warn("large: closed with live blocks",
			"blocks", l.stats.LiveBlocks, "bytes", l.stats.LiveBytes)
	}

	l.segments = nil
	l.freeLists = [numClasses]freeBlockHeap{}
	l.startIdx = make(map[uintptr]*freeBlock)
	l.endIdx = make(map[uintptr]*freeBlock)
	l.used = make(map[uintptr]usedBlock)
	l.stats = Stats{}
	return firstErr
}

// ============================================================================
// Internal operations (l.mu held)
// ============================================================================

func (l *Pool) malloc(size int, hint *Hint) unsafe.Pointer {
	if l.closed || size <= 0 || size > MaxSize {
		return nil
	}
	need := head.BlockSize(size)

	fb := l.takeFree(need)
	if fb == nil {
		if hint != nil && hint.NoGrow {
			l.stats.NoGrowMisses++
			return nil
		}
		if err := l.grow(need); err != nil {
			logger.L.Warn("large: grow failed", "need", need, "err", err)
			return nil
		}
		if fb = l.takeFree(need); fb == nil {
			return nil
		}
	}

	// Split: keep the head of the span, return the tail to the free lists.
	// The tail's neighbour after it cannot be free, since free spans are
	// always coalesced.
	seg, off, total := fb.seg, fb.off, fb.size
	if rem := total - need; rem >= minBlockSize {
		l.insertFree(seg, off+need, rem)
		total = need
	}

	l.used[seg.base+uintptr(off)] = usedBlock{seg: seg, off: off, size: total, req: size}
	l.stats.Mallocs++
	l.stats.LiveBlocks++
	l.stats.LiveBytes += int64(size)
	l.stats.BlockBytes += int64(total)

	p := seg.ptr(off + head.Size)
	head.Stamp(p, size, 0)
	if hint != nil {
		hint.Real = total - head.Size
	}
	return p
}

func (l *Pool) free(p unsafe.Pointer) bool {
	if l.closed || p == nil {
		return false
	}
	addr := uintptr(p) - head.Size
	ub, ok := l.used[addr]
	if !ok {
		return false
	}

	head.Invalidate(p)
	delete(l.used, addr)
	l.stats.Frees++
	l.stats.LiveBlocks--
	l.stats.LiveBytes -= int64(ub.req)
	l.stats.BlockBytes -= int64(ub.size)

	l.release(ub.seg, ub.off, ub.size)
	return true
}

func (l *Pool) ralloc(p unsafe.Pointer, size int, hint *Hint) unsafe.Pointer {
	if p == nil {
		return l.malloc(size, hint)
	}
	if l.closed || size <= 0 || size > MaxSize {
		return nil
	}
	addr := uintptr(p) - head.Size
	ub, ok := l.used[addr]
	if !ok {
		return nil
	}
	l.stats.Rallocs++
	need := head.BlockSize(size)

	switch {
	case need <= ub.size:
		// Shrink (or same size) in place, returning a large enough tail.
		if rem := ub.size - need; rem >= minBlockSize {
			l.release(ub.seg, ub.off+need, rem)
			l.stats.BlockBytes -= int64(rem)
			ub.size = need
		}
		l.stats.ShrinkInPlace++

	case l.canAbsorbNext(ub, need):
		next := l.startIdx[addr+uintptr(ub.size)]
		l.removeFree(next)
		total := ub.size + next.size
		if rem := total - need; rem >= minBlockSize {
			l.insertFree(ub.seg, ub.off+need, rem)
			total = need
		}
		l.stats.BlockBytes += int64(total - ub.size)
		ub.size = total
		l.stats.GrowInPlace++

	default:
		np := l.malloc(size, hint)
		if np == nil {
			return nil
		}
		copy(head.Bytes(np, min(ub.req, size)), head.Bytes(p, min(ub.req, size)))
		l.free(p)
		l.stats.Moves++
		if logger.Tracing() {
			logger.L.Debug("large: ralloc moved", "from", p, "to", np, "old", ub.req, "new", size)
		}
		return np
	}

	l.stats.LiveBytes += int64(size - ub.req)
	ub.req = size
	l.used[addr] = ub
	head.Of(p).Size = uint64(size)
	if hint != nil {
		hint.Real = ub.size - head.Size
	}
	return p
}

// canAbsorbNext reports whether the free span right after ub can extend it to
// at least need bytes.
func (l *Pool) canAbsorbNext(ub usedBlock, need int) bool {
	next, ok := l.startIdx[ub.seg.base+uintptr(ub.off+ub.size)]
	return ok && next.seg == ub.seg && ub.size+next.size >= need
}

// grow maps a new segment able to hold a block of need bytes.
func (l *Pool) grow(need int) error {
	size := max(l.cfg.SegmentSize, need)
	size = (size + l.pageSize - 1) &^ (l.pageSize - 1)

	data, err := mmap.Map(size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGrowFail, err)
	}
	seg := &segment{
		data:  data,
		start: unsafe.Pointer(&data[0]),
		size:  size,
	}
	seg.base = uintptr(seg.start)

	i := sort.Search(len(l.segments), func(i int) bool { return l.segments[i].base > seg.base })
	l.segments = append(l.segments, nil)
	copy(l.segments[i+1:], l.segments[i:])
	l.segments[i] = seg

	l.stats.GrowCalls++
	l.stats.Segments++
	l.stats.SegmentBytes += int64(size)
	l.insertFree(seg, 0, size)

	if logger.Tracing() {
		logger.L.Debug("large: grow", "need", need, "segment", size, "segments", len(l.segments))
	}
	return nil
}

// mulSize multiplies count by size, reporting false on overflow or when the
// product is not positive.
func mulSize(count, size int) (int, bool) {
	if count <= 0 || size <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > MaxSize {
		return 0, false
	}
	return int(lo), true
}
