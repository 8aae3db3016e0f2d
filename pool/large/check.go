package large

import (
	"fmt"
	"io"
	"sort"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/humanize"
)

// span is one block (live or free) seen while walking a segment.
type span struct {
	off  int
	size int
	free bool
	req  int
}

// Check verifies the allocator's invariants:
//   - live and free blocks tile every segment exactly, without gaps or overlap
//   - no two free blocks are adjacent (free space is always coalesced)
//   - every live block carries a valid head recording its requested size
//   - heap positions, size classes and both coalescing indexes agree
//   - the counters match what the walk observed
//
// It returns an error wrapping ErrCorrupt describing the first violation.
func (l *Pool) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	spans := make(map[*segment][]span, len(l.segments))
	for _, ub := range l.used {
		spans[ub.seg] = append(spans[ub.seg], span{off: ub.off, size: ub.size, req: ub.req})
	}

	freeBytes := int64(0)
	freeBlocks := 0
	for sc := range l.freeLists {
		for i, fb := range l.freeLists[sc] {
			if fb.heapIndex != i || fb.sc != sc || sizeClass(fb.size) != sc {
				return fmt.Errorf("%w: free block %#x misfiled (class %d, index %d)", ErrCorrupt, fb.addr(), sc, i)
			}
			if l.startIdx[fb.addr()] != fb || l.endIdx[fb.end()] != fb {
				return fmt.Errorf("%w: free block %#x missing from coalesce index", ErrCorrupt, fb.addr())
			}
			spans[fb.seg] = append(spans[fb.seg], span{off: fb.off, size: fb.size, free: true})
			freeBytes += int64(fb.size)
			freeBlocks++
		}
	}
	if len(l.startIdx) != freeBlocks || len(l.endIdx) != freeBlocks {
		return fmt.Errorf("%w: %d free blocks but indexes hold %d/%d",
			ErrCorrupt, freeBlocks, len(l.startIdx), len(l.endIdx))
	}

	liveBytes, blockBytes := int64(0), int64(0)
	for _, seg := range l.segments {
		ss := spans[seg]
		delete(spans, seg)
		sort.Slice(ss, func(i, j int) bool { return ss[i].off < ss[j].off })

		cur := 0
		prevFree := false
		for _, s := range ss {
			if s.off != cur {
				return fmt.Errorf("%w: segment %#x: span at %d, expected %d", ErrCorrupt, seg.base, s.off, cur)
			}
			if s.size < minBlockSize || s.size&head.AlignMask != 0 {
				return fmt.Errorf("%w: segment %#x: bad span size %d at %d", ErrCorrupt, seg.base, s.size, s.off)
			}
			if s.free && prevFree {
				return fmt.Errorf("%w: segment %#x: uncoalesced free span at %d", ErrCorrupt, seg.base, s.off)
			}
			if !s.free {
				p := seg.ptr(s.off + head.Size)
				size, ok := head.Validate(p)
				if !ok || size != s.req {
					return fmt.Errorf("%w: segment %#x: bad head at %d", ErrCorrupt, seg.base, s.off)
				}
				liveBytes += int64(s.req)
				blockBytes += int64(s.size)
			}
			prevFree = s.free
			cur += s.size
		}
		if cur != seg.size {
			return fmt.Errorf("%w: segment %#x: spans cover %d of %d bytes", ErrCorrupt, seg.base, cur, seg.size)
		}
	}
	if len(spans) != 0 {
		return fmt.Errorf("%w: %d blocks reference unknown segments", ErrCorrupt, len(spans))
	}

	if l.stats.LiveBlocks != len(l.used) || l.stats.LiveBytes != liveBytes || l.stats.BlockBytes != blockBytes {
		return fmt.Errorf("%w: live counters %d/%d/%d, walk found %d/%d/%d", ErrCorrupt,
			l.stats.LiveBlocks, l.stats.LiveBytes, l.stats.BlockBytes, len(l.used), liveBytes, blockBytes)
	}
	if l.stats.FreeBlocks != freeBlocks || l.stats.FreeBytes != freeBytes {
		return fmt.Errorf("%w: free counters %d/%d, walk found %d/%d", ErrCorrupt,
			l.stats.FreeBlocks, l.stats.FreeBytes, freeBlocks, freeBytes)
	}
	return nil
}

// Dump writes a human-readable report of segments and counters to w.
func (l *Pool) Dump(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stats
	fmt.Fprintf(w, "large pool: %s segments, %s mapped\n",
		humanize.Count(st.Segments), humanize.Bytes(st.SegmentBytes))
	fmt.Fprintf(w, "  live: %s blocks, %s requested, %s in blocks\n",
		humanize.Count(st.LiveBlocks), humanize.Bytes(st.LiveBytes), humanize.Bytes(st.BlockBytes))
	fmt.Fprintf(w, "  free: %s spans, %s\n", humanize.Count(st.FreeBlocks), humanize.Bytes(st.FreeBytes))
	fmt.Fprintf(w, "  calls: malloc=%s free=%s ralloc=%s (in place +%s/-%s, moved %s)\n",
		humanize.Count(st.Mallocs), humanize.Count(st.Frees), humanize.Count(st.Rallocs),
		humanize.Count(st.GrowInPlace), humanize.Count(st.ShrinkInPlace), humanize.Count(st.Moves))

	for i, seg := range l.segments {
		used := int64(0)
		for _, ub := range l.used {
			if ub.seg == seg {
				used += int64(ub.size)
			}
		}
		fmt.Fprintf(w, "  segment[%d]: %#x %s, used %s (%s)\n", i, seg.base,
			humanize.Bytes(seg.size), humanize.Bytes(used), humanize.Percent(used, int64(seg.size)))
	}
}
