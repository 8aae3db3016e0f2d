package large

import "sync"

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Default returns the process-wide large allocator, creating it on first use
// with DefaultConfig.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		lp, err := New(nil)
		if err != nil {
			// DefaultConfig always validates.
			panic(err)
		}
		defaultPool = lp
	}
	return defaultPool
}

// CloseDefault unmaps the process-wide allocator. A later Default call creates
// a fresh one. Pool coordinators built on the old instance must be closed
// first.
func CloseDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		return nil
	}
	err := defaultPool.Close()
	defaultPool = nil
	return err
}
