//go:build !(linux || darwin || freebsd)

package shm

import (
	"errors"
	"fmt"
)

// Open is unavailable without POSIX shared memory.
func Open(name string, layout Layout) (*Region, error) {
	return nil, fmt.Errorf("shm open %s: %w", name, errors.ErrUnsupported)
}
