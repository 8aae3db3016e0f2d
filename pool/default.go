package pool

import (
	"os"
	"sync"

	"github.com/joshuapare/poolkit/internal/logger"
)

var (
	defaultMu        sync.Mutex
	defaultPool      *Pool
	defaultAllocator Allocator
)

// SetAllocator registers the external allocator the default pool delegates
// to. A nil allocator selects owned mode on large.Default(). It fails with
// ErrDefaultInUse once Default has created the pool.
func SetAllocator(a Allocator) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		return ErrDefaultInUse
	}
	defaultAllocator = a
	return nil
}

// Default returns the process-wide pool, creating it on first use. It returns
// nil when the pool cannot be created.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		p, err := New(defaultAllocator, nil)
		if err != nil {
			logger.L.Error("pool: create default pool", "err", err)
			return nil
		}
		defaultPool = p
	}
	return defaultPool
}

// Shutdown closes the process-wide pool and clears the registered allocator.
// A later Default call creates a fresh pool.
func Shutdown() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		return nil
	}
	if debugPool {
		defaultPool.Dump(os.Stderr)
	}
	err := defaultPool.Close()
	defaultPool = nil
	defaultAllocator = nil
	return err
}
