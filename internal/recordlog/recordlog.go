// Package recordlog stores encoded focus records in an append-only,
// memory-mapped file.
//
// The record file is a flat array of record.Size slots. It is grown in
// ChunkSize steps, so the tail past the last written record is zero-filled.
// The logical length lives in a small sidecar file; when the sidecar is
// missing it is recovered by skipping trailing all-zero slots.
package recordlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"focusd/internal/record"
)

// File names inside a data directory.
const (
	FileName       = "record.bin"
	LengthFileName = "record.len"
)

// ChunkSize is the growth step of the record file in bytes.
const ChunkSize = 4096

// Errors
var (
	ErrReadOnly = errors.New("recordlog: log is read-only")
	ErrClosed   = errors.New("recordlog: log is closed")
)

// Log is safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	file     *os.File
	lenFile  *os.File
	region   region
	length   uint64
	readOnly bool
	closed   bool
}

// Open maps the record file at path, creating it if needed. The length
// sidecar is kept next to it.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat record file: %w", err)
	}

	size := info.Size()
	if size == 0 || size%ChunkSize != 0 {
		size = roundUp(max(size, 1))
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("grow record file: %w", err)
		}
	}

	reg, err := mapRegion(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("map record file: %w", err)
	}

	lenPath := filepath.Join(filepath.Dir(path), LengthFileName)
	lenFile, err := os.OpenFile(lenPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		reg.close()
		file.Close()
		return nil, fmt.Errorf("open length file: %w", err)
	}

	l := &Log{file: file, lenFile: lenFile, region: reg}
	l.length = recoverLength(reg.bytes(), readLength(lenPath))
	if err := l.writeLength(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// OpenReadOnly loads a snapshot of the record file at path into memory. A
// missing file yields an empty log.
func OpenReadOnly(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read record file: %w", err)
	}

	lenPath := filepath.Join(filepath.Dir(path), LengthFileName)
	return &Log{
		region:   staticRegion(data),
		length:   recoverLength(data, readLength(lenPath)),
		readOnly: true,
	}, nil
}

// readLength returns the sidecar length, or -1 when it is unavailable.
func readLength(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil || len(data) < 8 {
		return -1
	}
	return int64(binary.LittleEndian.Uint64(data))
}

// recoverLength trusts the sidecar when it fits the data and otherwise
// skips trailing all-zero slots.
func recoverLength(data []byte, stored int64) uint64 {
	slots := uint64(len(data) / record.Size)
	if stored >= 0 && uint64(stored) <= slots {
		return uint64(stored)
	}
	for n := slots; n > 0; n-- {
		off := (n - 1) * record.Size
		if !record.IsZero(data[off : off+record.Size]) {
			return n
		}
	}
	return 0
}

func roundUp(n int64) int64 {
	return (n + ChunkSize - 1) / ChunkSize * ChunkSize
}

// Append writes one encoded record at the end of the log and returns the new
// length in records.
func (l *Log) Append(b [record.Size]byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	if l.readOnly {
		return 0, ErrReadOnly
	}

	off := int64(l.length) * record.Size
	if need := off + record.Size; need > int64(len(l.region.bytes())) {
		if err := l.grow(need); err != nil {
			return 0, err
		}
	}

	copy(l.region.bytes()[off:], b[:])
	if err := l.region.flush(off, record.Size); err != nil {
		return 0, fmt.Errorf("write record: %w", err)
	}

	l.length++
	if err := l.writeLength(); err != nil {
		l.length--
		return 0, err
	}
	return l.length, nil
}

// grow extends the file to hold at least need bytes and remaps it.
func (l *Log) grow(need int64) error {
	size := roundUp(need)
	if err := l.file.Truncate(size); err != nil {
		return fmt.Errorf("grow record file: %w", err)
	}
	if err := l.region.close(); err != nil {
		return fmt.Errorf("unmap record file: %w", err)
	}
	reg, err := mapRegion(l.file, int(size))
	if err != nil {
		return fmt.Errorf("remap record file: %w", err)
	}
	l.region = reg
	return nil
}

func (l *Log) writeLength() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], l.length)
	if _, err := l.lenFile.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write record length: %w", err)
	}
	return nil
}

// Read decodes the records in [start, end). Out-of-range or reversed ranges
// yield an empty result; end is clamped to the current length.
func (l *Log) Read(start, end uint64) []record.FocusRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read(start, end)
}

// ReadToEnd decodes the records from start to the current end of the log.
func (l *Log) ReadToEnd(start uint64) []record.FocusRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.read(start, l.length)
}

func (l *Log) read(start, end uint64) []record.FocusRecord {
	end = min(end, l.length)
	if l.closed || start >= end {
		return []record.FocusRecord{}
	}

	data := l.region.bytes()
	out := make([]record.FocusRecord, 0, end-start)
	for i := start; i < end; i++ {
		off := i * record.Size
		r, ok := record.Decode(data[min(off, uint64(len(data))):])
		if !ok {
			// Short slot: treat as end of valid data.
			break
		}
		out = append(out, r)
	}
	return out
}

// Len returns the number of records in the log.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.length
}

// Sync flushes mapped pages and the length sidecar to disk.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.readOnly {
		return nil
	}
	if err := l.region.sync(); err != nil {
		return fmt.Errorf("sync record file: %w", err)
	}
	if err := l.lenFile.Sync(); err != nil {
		return fmt.Errorf("sync length file: %w", err)
	}
	return nil
}

// Close syncs and unmaps the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.readOnly {
		return nil
	}

	var errs []error
	if err := l.region.sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync record file: %w", err))
	}
	if err := l.region.close(); err != nil {
		errs = append(errs, fmt.Errorf("unmap record file: %w", err))
	}
	if err := l.lenFile.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync length file: %w", err))
	}
	errs = append(errs, l.lenFile.Close(), l.file.Close())
	return errors.Join(errs...)
}
