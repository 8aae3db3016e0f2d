// Package large provides the large-object allocator behind the pool coordinator.
//
// # Overview
//
// Memory is obtained from the operating system in segments (anonymous
// mappings of at least Config.SegmentSize bytes). Each segment is carved into
// blocks; every block starts with a 16-byte data head followed by the payload
// returned to the caller:
//
//	segment: [ block ][ block ][      free      ][ block ] ...
//	block:   [ head (16) ][ payload (size, padded to 16) ]
//
// # Free Space Management
//
// Free blocks are kept in segregated lists, one min-heap per power-of-two size
// class. Allocation takes the best fit from the smallest class that can hold
// the request and splits off the remainder. Two maps index free blocks by
// start and end address so a released block merges with its neighbours in
// O(1):
//
//	startIdx: block start -> free block (forward coalesce)
//	endIdx:   block end   -> free block (backward coalesce)
//
// Blocks never coalesce across segments, even when two mappings happen to be
// adjacent in the address space.
//
// # Growth
//
// When no free block fits, a new segment is mapped. Callers that must not
// trigger growth (for example when probing for space) pass Hint{NoGrow: true}.
//
// # Thread Safety
//
// A Pool is safe for concurrent use. It is typically shared by several pool
// coordinators and by the small allocators they own.
package large
