//go:build unix

// Package mmap provides the anonymous memory mappings backing large-allocator
// segments.
package mmap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Map returns n bytes of zeroed, private, anonymous memory. The memory is not
// managed by the Go collector and stays at a fixed address until Unmap.
func Map(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap: invalid mapping size %d", n)
	}
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: map %d bytes: %w", n, err)
	}
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// PageSize returns the system page size.
func PageSize() int {
	return unix.Getpagesize()
}
