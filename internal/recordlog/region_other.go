//go:build !unix

package recordlog

import (
	"io"
	"os"
)

// bufferRegion keeps the file contents in memory and writes changes
// through, for platforms without the unix mmap API.
type bufferRegion struct {
	f    *os.File
	data []byte
}

func mapRegion(f *os.File, size int) (region, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return &bufferRegion{f: f, data: data}, nil
}

func (r *bufferRegion) bytes() []byte { return r.data }

func (r *bufferRegion) flush(off int64, n int) error {
	_, err := r.f.WriteAt(r.data[off:off+int64(n)], off)
	return err
}

func (r *bufferRegion) sync() error { return r.f.Sync() }

func (r *bufferRegion) close() error {
	r.data = nil
	return nil
}
