package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupted is matched by every *CorruptionError.
	ErrCorrupted = errors.New("pool: corrupted data head")

	// ErrNoMemory indicates the pool's own storage could not be allocated.
	ErrNoMemory = errors.New("pool: out of memory")

	// ErrDefaultInUse indicates SetAllocator was called while the default
	// pool exists.
	ErrDefaultInUse = errors.New("pool: default pool already created")
)

// CorruptionError is the panic value raised when a block fails validation.
type CorruptionError struct {
	Op     string  // operation that detected the corruption
	Addr   uintptr // payload address passed by the caller
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("pool: %s %#x: %s", e.Op, e.Addr, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}
