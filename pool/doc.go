// Package pool provides a thread-safe allocator front end that routes requests
// between a small-object and a large-object allocator.
//
// # Overview
//
// A Pool hands out raw memory addressed through unsafe.Pointer. Every block is
// preceded by a 16-byte data head (see internal/head) recording a magic value
// and the requested size. Requests up to SmallMax bytes are served by a
// pool/small slab allocator; larger ones by a pool/large segment allocator.
// The small allocator draws its slabs from the same large allocator, which may
// be shared between pools.
//
//	p, err := pool.New(nil, nil) // owned mode on large.Default()
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	buf := p.Malloc(64)
//	buf = p.Ralloc(buf, 4096) // migrates small -> large, first 64 bytes kept
//	p.Free(buf)
//
// # Modes
//
// In owned mode the pool creates its small allocator and guards every call,
// including the whole allocate-copy-free sequence of a migrating Ralloc, with
// one spinlock. In delegation mode (New with a non-nil Allocator) every call
// is forwarded verbatim to the external allocator and no lock is taken.
//
// # Aligned Allocation
//
// AlignMalloc and friends over-allocate by align bytes and store the distance
// to the raw block in the byte just below the returned pointer. The distance
// is always in [1, align], so aligned pointers must be released with
// AlignFree, never Free.
//
// # Corruption
//
// Passing a pointer whose data head does not carry the live magic (a double
// free, a dangling or foreign pointer, an overwrite of the head) to Free,
// Ralloc or Size is not reported as a value. The pool logs the event, writes a
// hex dump of the head to the diagnostic writer and panics with a
// *CorruptionError matching ErrCorrupted. The lock is released before the
// panic unwinds.
//
// # Build Tags
//
// Building with -tags pooldebug turns invalid alignment arguments into panics
// and makes Shutdown dump the default pool before closing it.
package pool
