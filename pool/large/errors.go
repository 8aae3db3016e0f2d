package large

import "errors"

var (
	// ErrClosed indicates the pool was used after Close.
	ErrClosed = errors.New("large: pool closed")

	// ErrGrowFail indicates that mapping a new segment failed.
	ErrGrowFail = errors.New("large: grow failed")

	// ErrBadConfig indicates an invalid Config value.
	ErrBadConfig = errors.New("large: invalid config")

	// ErrCorrupt indicates that Check found inconsistent allocator state.
	ErrCorrupt = errors.New("large: inconsistent state")
)
