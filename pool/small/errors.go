package small

import "errors"

var (
	// ErrNoLarge indicates New was called without a backing large allocator.
	ErrNoLarge = errors.New("small: no large allocator")

	// ErrBadConfig indicates an invalid size class configuration.
	ErrBadConfig = errors.New("small: invalid config")

	// ErrSlabLost indicates the large allocator did not recognize a slab.
	ErrSlabLost = errors.New("small: slab not owned by large allocator")

	// ErrCorrupt indicates that Check found inconsistent allocator state.
	ErrCorrupt = errors.New("small: inconsistent state")
)
