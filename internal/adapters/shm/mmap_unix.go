//go:build linux || darwin || freebsd

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Open maps the named region, creating a zero-filled one when it does not
// exist yet.
func Open(name string, layout Layout) (*Region, error) {
	path := filepath.Join(ShmDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shm open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < RegionSize {
		if err := f.Truncate(RegionSize); err != nil {
			return nil, fmt.Errorf("shm size %s: %w", path, err)
		}
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm mmap %s: %w", path, err)
	}
	r, err := NewRegion(name, buf, layout)
	if err != nil {
		unix.Munmap(buf)
		return nil, err
	}
	r.close = func() error { return unix.Munmap(buf) }
	return r, nil
}
