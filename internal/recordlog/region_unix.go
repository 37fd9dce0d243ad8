//go:build unix

package recordlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion is a shared writable mapping; stores land in the page cache
// directly.
type mmapRegion struct {
	data []byte
}

func mapRegion(f *os.File, size int) (region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{data: data}, nil
}

func (r *mmapRegion) bytes() []byte { return r.data }

func (r *mmapRegion) flush(int64, int) error { return nil }

func (r *mmapRegion) sync() error {
	if r.data == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

func (r *mmapRegion) close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
