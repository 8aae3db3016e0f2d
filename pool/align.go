package pool

import (
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
)

// MaxAlign is the largest alignment accepted by the Align family. The offset
// below an aligned pointer is one byte and may equal align.
const MaxAlign = 128

// validAlign reports whether align is a power of two in [4, MaxAlign].
func validAlign(align int) bool {
	ok := align >= 4 && align <= MaxAlign && align&(align-1) == 0
	debugAssert(ok, "align must be a power of two, a multiple of 4 and at most 128")
	return ok
}

// AlignMalloc allocates size bytes at an address that is a multiple of align.
// The result must be released with AlignFree.
func (p *Pool) AlignMalloc(size, align int) unsafe.Pointer {
	if !validAlign(align) || size <= 0 {
		return nil
	}
	n, ok := addSize(size, align)
	if !ok {
		return nil
	}
	raw := p.Malloc(n)
	if raw == nil {
		return nil
	}
	return alignUp(raw, align)
}

// AlignMalloc0 is AlignMalloc with the returned extent zeroed.
func (p *Pool) AlignMalloc0(size, align int) unsafe.Pointer {
	ptr := p.AlignMalloc(size, align)
	if ptr != nil {
		clear(head.Bytes(ptr, size))
	}
	return ptr
}

// AlignNalloc allocates count items of size bytes each at an aligned address.
func (p *Pool) AlignNalloc(count, size, align int) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.AlignMalloc(n, align)
}

// AlignNalloc0 is AlignNalloc with the whole extent zeroed.
func (p *Pool) AlignNalloc0(count, size, align int) unsafe.Pointer {
	n, ok := mulSize(count, size)
	if !ok {
		return nil
	}
	return p.AlignMalloc0(n, align)
}

// AlignRalloc resizes an aligned block. A nil ptr behaves like AlignMalloc;
// otherwise ptr must be aligned to align. The result is aligned to align and
// keeps the first min(old, size) bytes, even when the raw block moved or its
// offset changed.
func (p *Pool) AlignRalloc(ptr unsafe.Pointer, size, align int) unsafe.Pointer {
	if !validAlign(align) || size <= 0 {
		return nil
	}
	if ptr == nil {
		return p.AlignMalloc(size, align)
	}
	if uintptr(ptr)&uintptr(align-1) != 0 {
		debugAssert(false, "pointer is not aligned to align")
		return nil
	}
	n, ok := addSize(size, align)
	if !ok {
		return nil
	}

	raw, oldDiff := rawOf(ptr)
	avail := size
	if rawSize := p.Size(raw); rawSize > 0 {
		avail = min(rawSize-oldDiff, size)
	}

	nraw := p.Ralloc(raw, n)
	if nraw == nil {
		return nil
	}
	diff := alignOffset(nraw, align)
	nptr := unsafe.Add(nraw, diff)
	if diff != oldDiff {
		// The payload moved with the raw block at its old offset. Shift it
		// before the offset byte is written, which may overlap it.
		copy(head.Bytes(nptr, avail), head.Bytes(unsafe.Add(nraw, oldDiff), avail))
	}
	setOffset(nptr, diff)
	return nptr
}

// AlignFree releases a block returned by the Align family. It reports false
// for nil and for pointers that cannot have come from AlignMalloc.
func (p *Pool) AlignFree(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}
	if uintptr(ptr)&3 != 0 {
		debugAssert(false, "pointer is not aligned to 4")
		return false
	}
	raw, _ := rawOf(ptr)
	return p.Free(raw)
}

// alignUp stores the offset to the next align boundary above raw in the byte
// below it and returns the aligned pointer. The offset is in [1, align], so an
// already aligned raw pointer still moves by align.
func alignUp(raw unsafe.Pointer, align int) unsafe.Pointer {
	diff := alignOffset(raw, align)
	ptr := unsafe.Add(raw, diff)
	setOffset(ptr, diff)
	return ptr
}

func alignOffset(raw unsafe.Pointer, align int) int {
	return int((^uintptr(raw))&uintptr(align-1)) + 1
}

func setOffset(ptr unsafe.Pointer, diff int) {
	*(*byte)(unsafe.Add(ptr, -1)) = byte(diff)
}

// rawOf recovers the raw pointer and offset of an aligned pointer.
func rawOf(ptr unsafe.Pointer) (unsafe.Pointer, int) {
	diff := int(*(*byte)(unsafe.Add(ptr, -1)))
	return unsafe.Add(ptr, -diff), diff
}

func addSize(size, align int) (int, bool) {
	if size > MaxSize-align {
		return 0, false
	}
	return size + align, true
}
