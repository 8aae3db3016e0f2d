package large

import (
	"container/heap"
	"math/bits"
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
)

const (
	// minBlockSize is the smallest block worth keeping: a head plus one
	// aligned payload unit. Smaller remainders are absorbed by the block
	// being allocated.
	minBlockSize = head.Size + head.Align

	// numClasses covers power-of-two size classes up to MaxSize.
	numClasses = 48
)

// segment is one anonymous mapping.
type segment struct {
	data  []byte
	start unsafe.Pointer // &data[0]
	base  uintptr        // address of start, used for index keys only
	size  int
}

// ptr returns the address of offset off within the segment.
func (s *segment) ptr(off int) unsafe.Pointer {
	return unsafe.Add(s.start, off)
}

// freeBlock is a free span inside a segment.
type freeBlock struct {
	seg       *segment
	off       int // offset of the block start within seg
	size      int // block size including head
	sc        int // size class (which heap this belongs to)
	heapIndex int // position in heap (for heap.Remove)
}

func (fb *freeBlock) addr() uintptr { return fb.seg.base + uintptr(fb.off) }
func (fb *freeBlock) end() uintptr  { return fb.addr() + uintptr(fb.size) }

// freeBlockHeap implements heap.Interface for a min-heap keyed on block size.
// Smallest blocks are at the top, giving best-fit allocation.
type freeBlockHeap []*freeBlock

func (h *freeBlockHeap) Len() int { return len(*h) }

func (h *freeBlockHeap) Less(i, j int) bool {
	return (*h)[i].size < (*h)[j].size
}

func (h *freeBlockHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].heapIndex = i
	(*h)[j].heapIndex = j
}

func (h *freeBlockHeap) Push(x any) {
	fb := x.(*freeBlock) //nolint:errcheck // heap.Interface contract guarantees type
	fb.heapIndex = len(*h)
	*h = append(*h, fb)
}

func (h *freeBlockHeap) Pop() any {
	old := *h
	n := len(old)
	fb := old[n-1]
	fb.heapIndex = -1
	*h = old[0 : n-1]
	return fb
}

// sizeClass returns the power-of-two class of a block size.
func sizeClass(size int) int {
	sc := bits.Len(uint(size)) - 1
	if sc >= numClasses {
		sc = numClasses - 1
	}
	return sc
}

// insertFree records a free span without coalescing.
func (l *Pool) insertFree(seg *segment, off, size int) {
	fb := &freeBlock{seg: seg, off: off, size: size, sc: sizeClass(size)}
	heap.Push(&l.freeLists[fb.sc], fb)
	l.startIdx[fb.addr()] = fb
	l.endIdx[fb.end()] = fb
	l.stats.FreeBlocks++
	l.stats.FreeBytes += int64(size)
}

// removeFree drops fb from its heap and from both indexes.
func (l *Pool) removeFree(fb *freeBlock) {
	heap.Remove(&l.freeLists[fb.sc], fb.heapIndex)
	delete(l.startIdx, fb.addr())
	delete(l.endIdx, fb.end())
	l.stats.FreeBlocks--
	l.stats.FreeBytes -= int64(fb.size)
}

// release returns a span to the free lists, merging it with free neighbours
// inside the same segment.
func (l *Pool) release(seg *segment, off, size int) {
	addr := seg.base + uintptr(off)

	if next, ok := l.startIdx[addr+uintptr(size)]; ok && next.seg == seg {
		l.stats.CoalesceForward++
		size += next.size
		l.removeFree(next)
	}
	if prev, ok := l.endIdx[addr]; ok && prev.seg == seg {
		l.stats.CoalesceBackward++
		off = prev.off
		size += prev.size
		l.removeFree(prev)
	}

	l.insertFree(seg, off, size)
}

// takeFree removes and returns the best free block of at least need bytes, or
// nil when none exists.
func (l *Pool) takeFree(need int) *freeBlock {
	for sc := sizeClass(need); sc < numClasses; sc++ {
		if fb := l.pickFromClass(sc, need); fb != nil {
			l.removeFree(fb)
			return fb
		}
	}
	return nil
}

// pickFromClass returns the smallest block >= need in class sc without
// removing it.
//
// heap[0] is the smallest block of the class, so if it fits it is the best
// fit. Otherwise the class still may hold larger blocks that fit (a class
// spans [2^sc, 2^(sc+1))) and the heap is scanned.
func (l *Pool) pickFromClass(sc, need int) *freeBlock {
	h := l.freeLists[sc]
	if len(h) == 0 {
		return nil
	}
	if h[0].size >= need {
		return h[0]
	}
	var best *freeBlock
	for _, fb := range h[1:] {
		if fb.size >= need && (best == nil || fb.size < best.size) {
			best = fb
			if fb.size == need {
				break
			}
		}
	}
	return best
}
