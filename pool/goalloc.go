package pool

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/humanize"
)

// GoAllocator is an Allocator backed by the Go heap, for delegation mode.
//
// Every block is a []uint64 kept reachable from a map until it is freed, so
// the collector never reclaims memory still handed out. Blocks carry the same
// data head as the pool allocators; payloads are 8-byte aligned.
type GoAllocator struct {
	mu    sync.Mutex
	live  map[uintptr][]uint64
	bytes int64
}

// NewGoAllocator returns an empty Go heap allocator.
func NewGoAllocator() *GoAllocator {
	return &GoAllocator{live: make(map[uintptr][]uint64)}
}

// Malloc allocates size bytes.
func (g *GoAllocator) Malloc(size int) unsafe.Pointer {
	if size <= 0 || size > MaxSize {
		return nil
	}
	buf := make([]uint64, (head.Size+size+7)/8)
	ptr := unsafe.Add(unsafe.Pointer(&buf[0]), head.Size)
	head.Stamp(ptr, size, 0)

	g.mu.Lock()
	g.live[uintptr(ptr)] = buf
	g.bytes += int64(size)
	g.mu.Unlock()
	return ptr
}

// Malloc0 is Malloc; Go heap memory is always zeroed.
func (g *GoAllocator) Malloc0(size int) unsafe.Pointer {
	return g.Malloc(size)
}

// Nalloc allocates count items of size bytes each.
func (g *GoAllocator) Nalloc(count, size int) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return g.Malloc(n)
}

// Nalloc0 is Nalloc.
func (g *GoAllocator) Nalloc0(count, size int) unsafe.Pointer {
	return g.Nalloc(count, size)
}

// Ralloc moves the block at p to a new block of size bytes, keeping the
// common prefix.
func (g *GoAllocator) Ralloc(p unsafe.Pointer, size int) unsafe.Pointer {
	if p == nil {
		return g.Malloc(size)
	}
	old := g.Size(p)
	if old < 0 {
		return nil
	}
	np := g.Malloc(size)
	if np == nil {
		return nil
	}
	n := min(old, size)
	copy(head.Bytes(np, n), head.Bytes(p, n))
	g.Free(p)
	return np
}

// Free drops the block at p. It reports false when p is not live.
func (g *GoAllocator) Free(p unsafe.Pointer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[uintptr(p)]; !ok {
		return false
	}
	g.bytes -= int64(head.Of(p).Size)
	head.Invalidate(p)
	delete(g.live, uintptr(p))
	return true
}

// Size returns the recorded size of the live block at p, or -1.
func (g *GoAllocator) Size(p unsafe.Pointer) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live[uintptr(p)]; !ok {
		return -1
	}
	return int(head.Of(p).Size)
}

// Live returns the number of blocks and bytes handed out.
func (g *GoAllocator) Live() (int, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live), g.bytes
}

// Check verifies that every live block still carries a valid head.
func (g *GoAllocator) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := int64(0)
	for addr, buf := range g.live {
		ptr := unsafe.Add(unsafe.Pointer(&buf[0]), head.Size)
		size, ok := head.Validate(ptr)
		if !ok || uintptr(ptr) != addr {
			return &CorruptionError{Op: "check", Addr: addr, Reason: "bad magic"}
		}
		total += int64(size)
	}
	if total != g.bytes {
		return fmt.Errorf("%w: go allocator counts %d bytes, blocks hold %d", ErrCorrupted, g.bytes, total)
	}
	return nil
}

// Dump writes the live block count to w.
func (g *GoAllocator) Dump(w io.Writer) {
	blocks, bytes := g.Live()
	fmt.Fprintf(w, "go allocator: %s blocks, %s live\n", humanize.Count(blocks), humanize.Bytes(bytes))
}
