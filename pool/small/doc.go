// Package small provides the small-object allocator behind the pool coordinator.
//
// # Overview
//
// Requests up to head.SmallMax bytes are rounded up to a size class. Each class
// owns slabs: fixed-size blocks obtained from a large.Pool and cut into equal
// slots. A slot is a 16-byte data head followed by the class's payload size:
//
//	slab:  [ slot 0 ][ slot 1 ][ slot 2 ] ... [ slot n-1 ][ tail ]
//	slot:  [ head (16) ][ payload (class size) ]
//
// Free slots of a slab are kept on a LIFO index stack, so the most recently
// freed slot is handed out first while it is still warm in cache.
//
// # Size Classes
//
// The default table steps linearly by 16 bytes up to 256 bytes and then grows
// geometrically (x1.25, rounded to 16) up to SmallMax:
//
//	16, 32, 48, ... 240, 256, 320, 400, 512, 640, 800, 1008, ... 2480, 3072
//
// # Slab Lifetime
//
// A slab that becomes entirely free is returned to the large allocator, unless
// it is the last slab of its class; that one is kept to absorb malloc/free
// churn around an empty class.
//
// # Thread Safety
//
// A Pool is not safe for concurrent use. The pool coordinator serializes
// access with its own lock.
package small
