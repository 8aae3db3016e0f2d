//go:build !pooldebug

package pool

const debugPool = false
