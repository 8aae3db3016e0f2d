package pool

import (
	"fmt"
	"io"
	"math/bits"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/humanize"
	"github.com/joshuapare/poolkit/internal/logger"
	"github.com/joshuapare/poolkit/internal/spinlock"
	"github.com/joshuapare/poolkit/pool/large"
	"github.com/joshuapare/poolkit/pool/small"
)

// SmallMax is the largest request routed to the small allocator.
const SmallMax = head.SmallMax

// MaxSize bounds every request, aligned ones included.
const MaxSize = large.MaxSize

// Pool routes allocations between a small and a large allocator, or forwards
// them to an external Allocator.
type Pool struct {
	lock spinlock.Lock

	// Delegation mode
	allocator Allocator

	// Owned mode
	large *large.Pool
	small *small.Pool

	// Live counters, stored in a block of the large allocator
	counters *counters

	diag   io.Writer
	closed atomic.Bool
}

// counters is the pool's own bookkeeping record. It holds no Go pointers so it
// can live in memory the collector does not scan.
type counters struct {
	mallocs    uint64
	frees      uint64
	reallocs   uint64
	migrations uint64
}

// Options configures NewWithOptions.
type Options struct {
	// Allocator selects delegation mode when non-nil. All other fields are
	// ignored then.
	Allocator Allocator

	// Large backs the small allocator and the pool's own storage.
	// Nil selects large.Default().
	Large *large.Pool

	// Small configures the size classes. Nil selects small.DefaultConfig.
	Small *small.Config

	// Diag receives the head dump written before a corruption panic.
	// Nil selects os.Stderr.
	Diag io.Writer
}

// Stats is a snapshot of the pool and its allocators. All fields are zero in
// delegation mode.
type Stats struct {
	Mallocs    uint64 // Successful Malloc family calls
	Frees      uint64 // Successful Free calls
	Reallocs   uint64 // Successful Ralloc calls on a live block
	Migrations uint64 // Rallocs that crossed SmallMax

	Small small.Stats
	Large large.Stats
}

// New creates a pool. With a non-nil allocator the pool only delegates to it.
// Otherwise it manages its own small allocator on top of lp, or on
// large.Default() when lp is nil.
func New(a Allocator, lp *large.Pool) (*Pool, error) {
	return NewWithOptions(Options{Allocator: a, Large: lp})
}

// NewWithOptions creates a pool from opts.
func NewWithOptions(opts Options) (*Pool, error) {
	diag := opts.Diag
	if diag == nil {
		diag = os.Stderr
	}
	if opts.Allocator != nil {
		return &Pool{allocator: opts.Allocator, diag: diag}, nil
	}

	lp := opts.Large
	if lp == nil {
		lp = large.Default()
	}
	mem := lp.Malloc0(int(unsafe.Sizeof(counters{})), nil)
	if mem == nil {
		return nil, ErrNoMemory
	}
	sp, err := small.New(lp, opts.Small)
	if err != nil {
		lp.Free(mem)
		return nil, fmt.Errorf("pool: create small allocator: %w", err)
	}

	return &Pool{
		large:    lp,
		small:    sp,
		counters: (*counters)(mem),
		diag:     diag,
	}, nil
}

// Close releases the small allocator and the pool's own storage. The large
// allocator is not owned by the pool and stays open. In delegation mode Close
// marks the pool closed so later calls are refused, and the external allocator
// stays open.
func (p *Pool) Close() error {
	if p.allocator != nil {
		p.closed.Store(true)
		return nil
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := p.small.Close()
	if !p.large.Free(unsafe.Pointer(p.counters)) && err == nil {
		err = fmt.Errorf("pool: release storage: %w", large.ErrCorrupt)
	}
	p.counters = nil
	return err
}

// Delegating reports whether p forwards to an external allocator.
func (p *Pool) Delegating() bool {
	return p.allocator != nil
}

// Malloc allocates size bytes. It returns nil when size is not positive or the
// request cannot be served.
func (p *Pool) Malloc(size int) unsafe.Pointer {
	if p.allocator != nil {
		if p.closed.Load() {
			return nil
		}
		return p.allocator.Malloc(size)
	}
	if size <= 0 || size > MaxSize {
		return nil
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.malloc(size)
}

// Malloc0 is Malloc with the returned extent zeroed.
func (p *Pool) Malloc0(size int) unsafe.Pointer {
	if p.allocator != nil {
		if p.closed.Load() {
			return nil
		}
		return p.allocator.Malloc0(size)
	}
	ptr := p.Malloc(size)
	if ptr != nil {
		clear(head.Bytes(ptr, size))
	}
	return ptr
}

// Nalloc allocates count items of size bytes each. It returns nil when the
// product overflows.
func (p *Pool) Nalloc(count, size int) unsafe.Pointer {
	if p.allocator != nil {
		if p.closed.Load() {
			return nil
		}
		return p.allocator.Nalloc(count, size)
	}
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.Malloc(n)
}

// Nalloc0 is Nalloc with the whole extent zeroed.
func (p *Pool) Nalloc0(count, size int) unsafe.Pointer {
	if p.allocator != nil {
		if p.closed.Load() {
			return nil
		}
		return p.allocator.Nalloc0(count, size)
	}
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.Malloc0(n)
}

// Ralloc resizes the block at ptr to size bytes and returns its new address.
// A nil ptr behaves like Malloc. When the resize crosses SmallMax the block is
// moved to the other allocator and min(old, size) bytes are copied, all under
// one lock hold.
//
// On failure nil is returned and the original block is left intact. A ptr
// without a live data head, or one its allocator does not hold, panics with a
// *CorruptionError.
func (p *Pool) Ralloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	if p.allocator != nil {
		if p.closed.Load() {
			return nil
		}
		return p.allocator.Ralloc(ptr, size)
	}
	if ptr == nil {
		return p.Malloc(size)
	}
	if size <= 0 || size > MaxSize {
		return nil
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		return nil
	}

	old := p.validate("ralloc", ptr)
	if !p.owns(ptr, old) {
		p.fatal("ralloc", ptr, "block not owned by its allocator")
	}
	var np unsafe.Pointer
	switch wasSmall, toSmall := old <= SmallMax, size <= SmallMax; {
	case wasSmall && toSmall:
		np = p.small.Ralloc(ptr, size)
	case !wasSmall && !toSmall:
		np = p.large.Ralloc(ptr, size, nil)
	default:
		np = p.migrate(ptr, old, size, toSmall)
	}
	if np != nil {
		p.counters.reallocs++
	}
	return np
}

// Free releases the block at ptr. It reports false for a nil ptr or a closed
// pool. A ptr without a live data head, or one its allocator refuses, panics
// with a *CorruptionError.
func (p *Pool) Free(ptr unsafe.Pointer) bool {
	if p.allocator != nil {
		if p.closed.Load() {
			return false
		}
		return p.allocator.Free(ptr)
	}
	if ptr == nil {
		return false
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		return false
	}

	size := p.validate("free", ptr)
	if !p.release(ptr, size) {
		p.fatal("free", ptr, "block not owned by its allocator")
	}
	p.counters.frees++
	return true
}

// Size returns the recorded requested size of the block at ptr, or -1 for a
// nil ptr, a closed pool, or a delegate that cannot report sizes.
func (p *Pool) Size(ptr unsafe.Pointer) int {
	if p.allocator != nil {
		if p.closed.Load() {
			return -1
		}
		if s, ok := p.allocator.(sizer); ok {
			return s.Size(ptr)
		}
		return -1
	}
	if ptr == nil {
		return -1
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		return -1
	}
	return p.validate("size", ptr)
}

// Dump writes a report of the pool state to w. In delegation mode the
// external allocator writes it.
func (p *Pool) Dump(w io.Writer) {
	if p.allocator != nil {
		p.allocator.Dump(w)
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		fmt.Fprintln(w, "pool: closed")
		return
	}

	c := p.counters
	fmt.Fprintf(w, "pool: malloc=%s free=%s ralloc=%s migrated=%s\n",
		humanize.Count(c.mallocs), humanize.Count(c.frees),
		humanize.Count(c.reallocs), humanize.Count(c.migrations))
	p.small.Dump(w)
}

// Check runs the consistency passes of both allocators. In delegation mode it
// runs the delegate's Check when it has one.
func (p *Pool) Check() error {
	if p.allocator != nil {
		if c, ok := p.allocator.(checker); ok {
			return c.Check()
		}
		return nil
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		return nil
	}
	if err := p.small.Check(); err != nil {
		return fmt.Errorf("pool: small allocator: %w", err)
	}
	if err := p.large.Check(); err != nil {
		return fmt.Errorf("pool: large allocator: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	if p.allocator != nil {
		return Stats{}
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed.Load() {
		return Stats{}
	}
	c := p.counters
	return Stats{
		Mallocs:    c.mallocs,
		Frees:      c.frees,
		Reallocs:   c.reallocs,
		Migrations: c.migrations,
		Small:      p.small.Stats(),
		Large:      p.large.Stats(),
	}
}

// Bytes views n bytes of memory starting at ptr.
func Bytes(ptr unsafe.Pointer, n int) []byte {
	return head.Bytes(ptr, n)
}

// ============================================================================
// Internal operations (p.lock held)
// ============================================================================

func (p *Pool) malloc(size int) unsafe.Pointer {
	if p.closed.Load() {
		return nil
	}
	var ptr unsafe.Pointer
	if size <= SmallMax {
		ptr = p.small.Malloc(size)
	} else {
		ptr = p.large.Malloc(size, nil)
	}
	if ptr != nil {
		p.counters.mallocs++
	}
	return ptr
}

// migrate moves a block across SmallMax. The old block is only released once
// the new one is live and filled.
func (p *Pool) migrate(ptr unsafe.Pointer, old, size int, toSmall bool) unsafe.Pointer {
	var np unsafe.Pointer
	if toSmall {
		np = p.small.Malloc(size)
	} else {
		np = p.large.Malloc(size, nil)
	}
	if np == nil {
		return nil
	}
	n := min(old, size)
	copy(head.Bytes(np, n), head.Bytes(ptr, n))

	if !p.release(ptr, old) {
		p.release(np, size)
		p.fatal("ralloc", ptr, "block not owned by its allocator")
	}
	p.counters.migrations++
	if logger.Tracing() {
		logger.L.Debug("pool: ralloc migrated", "from", ptr, "to", np, "old", old, "new", size)
	}
	return np
}

// owns reports whether the allocator the recorded size routes to holds ptr.
func (p *Pool) owns(ptr unsafe.Pointer, size int) bool {
	if size <= SmallMax {
		return p.small.Owns(ptr)
	}
	return p.large.Size(ptr) >= 0
}

// release frees ptr through the allocator its recorded size routes to.
func (p *Pool) release(ptr unsafe.Pointer, size int) bool {
	if size <= SmallMax {
		return p.small.Free(ptr)
	}
	return p.large.Free(ptr)
}

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
