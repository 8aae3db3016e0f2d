package pool

import (
	"unsafe"

	"github.com/joshuapare/poolkit/internal/head"
	"github.com/joshuapare/poolkit/internal/logger"
)

// diagPrefix starts every line of a corruption dump.
const diagPrefix = "[pool]: [error]: "

// validate returns the recorded size of the block at ptr, or raises the
// corruption panic when its head is not live.
func (p *Pool) validate(op string, ptr unsafe.Pointer) int {
	size, ok := head.Validate(ptr)
	if !ok {
		reason := "bad magic"
		if head.Of(ptr).Magic == head.FreedMagic {
			reason = "block already freed"
		}
		p.fatal(op, ptr, reason)
	}
	return size
}

// fatal logs the corruption, dumps the head of ptr and panics. Callers hold
// the lock through a deferred Unlock, which runs while the panic unwinds.
func (p *Pool) fatal(op string, ptr unsafe.Pointer, reason string) {
	err := &CorruptionError{Op: op, Addr: uintptr(ptr), Reason: reason}
	logger.L.Error("pool: corrupted block", "op", op, "ptr", ptr, "reason", reason)
	head.Dump(p.diag, ptr, diagPrefix)
	panic(err)
}

// debugAssert panics with msg in pooldebug builds when cond is false.
func debugAssert(cond bool, msg string) {
	if debugPool && !cond {
		panic("pool: assertion failed: " + msg)
	}
}
