//go:build !unix

package mmap

import "fmt"

// fallbackPageSize is used when the platform page size is not queried.
const fallbackPageSize = 4096

// Map allocates n zeroed bytes from the Go heap when anonymous mappings are not
// available. The Go collector never moves heap objects, so the address is
// stable for as long as the caller keeps the slice reachable.
func Map(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap: invalid mapping size %d", n)
	}
	return make([]byte, n), nil
}

// Unmap drops a fallback mapping. The memory is reclaimed by the collector.
func Unmap(data []byte) error {
	return nil
}

// PageSize returns the page size assumed by the fallback.
func PageSize() int {
	return fallbackPageSize
}
