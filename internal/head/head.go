// Package head defines the data head stamped in front of every block handed out
// by the small and large allocators.
//
// Layout (16 bytes, immediately before the payload pointer):
//
//	+0  uint32  magic  (Magic while live, FreedMagic after free)
//	+4  uint32  flags  (FlagSmall when owned by the small allocator)
//	+8  uint64  size   (size originally requested by the caller)
//
// The coordinator reads the head on free and ralloc to decide which allocator
// owns a block. Every allocator must stamp it with the same Magic.
package head

import "unsafe"

const (
	// Size is the number of bytes reserved in front of every payload.
	Size = 16

	// Align is the alignment of every payload pointer and of every block size.
	Align = 16

	// AlignMask is Align - 1.
	AlignMask = Align - 1

	// SmallMax is the largest request served by the small allocator (S_MAX).
	// Requests above it go to the large allocator.
	SmallMax = 3072

	// Magic marks a live block.
	Magic uint32 = 0xdeadbeef

	// FreedMagic overwrites Magic when a block is released, so that a second
	// free or a ralloc of a dangling pointer fails validation.
	FreedMagic uint32 = 0xfeeefeee

	// FlagSmall is set by the small allocator on every slot it hands out.
	FlagSmall uint32 = 1 << 0
)

// Head is the in-memory view of a data head.
type Head struct {
	Magic uint32
	Flags uint32
	Size  uint64
}

// Of returns the head that precedes payload p.
func Of(p unsafe.Pointer) *Head {
	return (*Head)(unsafe.Add(p, -Size))
}

// Stamp writes a live head for a block of the given requested size.
func Stamp(p unsafe.Pointer, size int, flags uint32) {
	h := Of(p)
	h.Magic = Magic
	h.Flags = flags
	h.Size = uint64(size)
}

// Invalidate marks the head of p as freed. The recorded size is kept so a later
// dump of a dangling pointer still shows what the block used to be.
func Invalidate(p unsafe.Pointer) {
	Of(p).Magic = FreedMagic
}

// Validate checks the magic in front of p and returns the recorded size.
// A nil pointer, a wrong magic or a zero size all report ok == false.
func Validate(p unsafe.Pointer) (size int, ok bool) {
	if p == nil {
		return 0, false
	}
	h := Of(p)
	if h.Magic != Magic || h.Size == 0 {
		return 0, false
	}
	return int(h.Size), true
}

// IsSmall reports whether the head of p carries FlagSmall.
func IsSmall(p unsafe.Pointer) bool {
	return Of(p).Flags&FlagSmall != 0
}

// AlignUp rounds n up to the next multiple of Align.
//
// Example:
//
//	AlignUp(1)  = 16
//	AlignUp(16) = 16
//	AlignUp(17) = 32
func AlignUp(n int) int {
	return (n + AlignMask) &^ AlignMask
}

// BlockSize returns the aligned size of a block able to hold a head plus n
// payload bytes.
func BlockSize(n int) int {
	return AlignUp(n + Size)
}

// Bytes views n bytes of raw memory starting at p.
func Bytes(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
