//go:build pooldebug

package pool

// debugPool enables argument assertions and the shutdown dump.
const debugPool = true
