package small

import (
	"fmt"
	"io"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/humanize"
)

// Check verifies the allocator's invariants:
//   - slabs are sorted, disjoint and still live in the large allocator
//   - every slot is either on its slab's free stack exactly once or carries a
//     live small head whose size fits the class
//   - availability lists hold exactly the slabs with free slots
//   - the counters match what the walk observed
//
// It returns an error wrapping ErrCorrupt describing the first violation.
func (p *Pool) Check() error {
	liveObjects := 0
	liveBytes, slotB := int64(0), int64(0)
	classSlabs := make([]int, len(p.classes))
	classLive := make([]int, len(p.classes))

	var prevEnd uintptr
	for i, s := range p.slabs {
		if i > 0 && s.addr < prevEnd {
			return fmt.Errorf("%w: slab %#x overlaps its predecessor", ErrCorrupt, s.addr)
		}
		prevEnd = s.end
		if s.class < 0 || s.class >= len(p.classes) {
			return fmt.Errorf("%w: slab %#x has class %d", ErrCorrupt, s.addr, s.class)
		}
		c := &p.classes[s.class]
		if s.stride != head.Size+c.size || s.nslots*s.stride > p.table.config.SlabSize {
			return fmt.Errorf("%w: slab %#x geometry mismatch", ErrCorrupt, s.addr)
		}
		if got := p.large.Size(s.base); got != p.table.config.SlabSize {
			return fmt.Errorf("%w: slab %#x not live in large allocator (size %d)", ErrCorrupt, s.addr, got)
		}
		if s.live+len(s.free) != s.nslots {
			return fmt.Errorf("%w: slab %#x: %d live + %d free != %d slots",
				ErrCorrupt, s.addr, s.live, len(s.free), s.nslots)
		}
		if (len(s.free) > 0) != (s.avail >= 0) {
			return fmt.Errorf("%w: slab %#x availability flag wrong", ErrCorrupt, s.addr)
		}
		if s.avail >= 0 && (s.avail >= len(c.avail) || c.avail[s.avail] != s) {
			return fmt.Errorf("%w: slab %#x missing from class list", ErrCorrupt, s.addr)
		}

		isFree := make([]bool, s.nslots)
		for _, idx := range s.free {
			if int(idx) >= s.nslots || isFree[idx] {
				return fmt.Errorf("%w: slab %#x: bad free index %d", ErrCorrupt, s.addr, idx)
			}
			isFree[idx] = true
		}
		live := 0
		for idx := range s.nslots {
			ptr := s.slot(idx)
			h := head.Of(ptr)
			if isFree[idx] {
				if h.Magic == head.Magic {
					return fmt.Errorf("%w: slab %#x: free slot %d looks live", ErrCorrupt, s.addr, idx)
				}
				continue
			}
			size, ok := head.Validate(ptr)
			if !ok || !head.IsSmall(ptr) || size > c.size {
				return fmt.Errorf("%w: slab %#x: bad head in slot %d", ErrCorrupt, s.addr, idx)
			}
			live++
			liveBytes += int64(size)
			slotB += int64(c.size)
		}
		if live != s.live {
			return fmt.Errorf("%w: slab %#x: %d live slots, counter says %d", ErrCorrupt, s.addr, live, s.live)
		}
		liveObjects += live
		classSlabs[s.class]++
		classLive[s.class] += live
	}

	availTotal := 0
	for i := range p.classes {
		c := &p.classes[i]
		if c.slabs != classSlabs[i] || c.live != classLive[i] {
			return fmt.Errorf("%w: class %d counters %d/%d, walk found %d/%d",
				ErrCorrupt, c.size, c.slabs, c.live, classSlabs[i], classLive[i])
		}
		availTotal += len(c.avail)
	}
	withFree := 0
	for _, s := range p.slabs {
		if len(s.free) > 0 {
			withFree++
		}
	}
	if availTotal != withFree {
		return fmt.Errorf("%w: %d slabs listed available, %d have free slots", ErrCorrupt, availTotal, withFree)
	}

	st := p.stats
	if st.Slabs != len(p.slabs) || st.SlabBytes != int64(len(p.slabs))*int64(p.table.config.SlabSize) {
		return fmt.Errorf("%w: slab counters %d/%d for %d slabs", ErrCorrupt, st.Slabs, st.SlabBytes, len(p.slabs))
	}
	if st.LiveObjects != liveObjects || st.LiveBytes != liveBytes || st.SlotBytes != slotB {
		return fmt.Errorf("%w: live counters %d/%d/%d, walk found %d/%d/%d", ErrCorrupt,
			st.LiveObjects, st.LiveBytes, st.SlotBytes, liveObjects, liveBytes, slotB)
	}
	return nil
}

// Dump writes a human-readable report of classes and counters to w.
func (p *Pool) Dump(w io.Writer) {
	st := p.stats
	fmt.Fprintf(w, "small pool (%s): %s classes, %s slabs, %s held\n",
		p.table, humanize.Count(len(p.classes)), humanize.Count(st.Slabs), humanize.Bytes(st.SlabBytes))
	fmt.Fprintf(w, "  live: %s objects, %s requested, %s in slots\n",
		humanize.Count(st.LiveObjects), humanize.Bytes(st.LiveBytes), humanize.Bytes(st.SlotBytes))
	fmt.Fprintf(w, "  calls: malloc=%s free=%s ralloc=%s (in place %s) slabs +%s/-%s\n",
		humanize.Count(st.Mallocs), humanize.Count(st.Frees), humanize.Count(st.Rallocs),
		humanize.Count(st.ReallocInPlace), humanize.Count(st.SlabsAcquired), humanize.Count(st.SlabsReleased))

	for i := range p.classes {
		c := &p.classes[i]
		if c.slabs == 0 {
			continue
		}
		slots := c.slabs * (p.table.config.SlabSize / (head.Size + c.size))
		fmt.Fprintf(w, "  class[%2d] %6s: slabs=%s live=%s/%s (%s)\n", i, humanize.Bytes(c.size),
			humanize.Count(c.slabs), humanize.Count(c.live), humanize.Count(slots),
			humanize.Percent(int64(c.live), int64(slots)))
	}
}
