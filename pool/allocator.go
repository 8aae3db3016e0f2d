package pool

import (
	"io"
	"unsafe"
)

// Allocator is an external allocator a Pool can delegate to. Implementations
// must be safe for concurrent use; the pool adds no locking in front of them.
type Allocator interface {
	Malloc(size int) unsafe.Pointer
	Malloc0(size int) unsafe.Pointer
	Nalloc(count, size int) unsafe.Pointer
	Nalloc0(count, size int) unsafe.Pointer
	Ralloc(p unsafe.Pointer, size int) unsafe.Pointer
	Free(p unsafe.Pointer) bool
	Dump(w io.Writer)
}

// sizer is implemented by allocators able to report the recorded size of a
// block.
type sizer interface {
	Size(p unsafe.Pointer) int
}

// checker is implemented by allocators with a consistency pass.
type checker interface {
	Check() error
}
