// Package spinlock provides the mutual exclusion primitive guarding a pool.
//
// The lock is not reentrant: acquiring it twice from the same goroutine
// deadlocks.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	unlocked = 0
	locked   = 1

	// spinsBeforeYield is how many failed CAS attempts are made before the
	// goroutine yields its processor.
	spinsBeforeYield = 64
)

// Lock is a test-and-test-and-set spinlock. The zero value is unlocked.
//
// The state word is padded to its own cache line so that pools laid out next
// to each other do not false-share.
type Lock struct {
	_     cpu.CacheLinePad
	state atomic.Int32
	_     cpu.CacheLinePad
}

// Lock acquires the lock, spinning until it is available.
func (l *Lock) Lock() {
	spins := 0
	for {
		if l.state.Load() == unlocked && l.state.CompareAndSwap(unlocked, locked) {
			return
		}
		spins++
		if spins >= spinsBeforeYield {
			spins = 0
			runtime.Gosched()
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	return l.state.Load() == unlocked && l.state.CompareAndSwap(unlocked, locked)
}

// Unlock releases the lock. Unlocking an unlocked Lock panics.
func (l *Lock) Unlock() {
	if !l.state.CompareAndSwap(locked, unlocked) {
		panic("spinlock: unlock of unlocked lock")
	}
}

// Locked reports whether the lock is currently held by anyone.
func (l *Lock) Locked() bool {
	return l.state.Load() == locked
}
