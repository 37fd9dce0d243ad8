// Package dayindex maps UTC day numbers to record-log offsets.
//
// The backing file is a flat array of little-endian u64 values. Slot 0 holds
// the base day; slot i (i >= 1) holds the offset of the first record whose
// focus time falls on or after day base+i. The offset of the base day itself
// is always 0.
package dayindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the day index file inside a data directory.
const FileName = "index.bin"

const slotSize = 8

// Errors
var (
	ErrReadOnly = errors.New("dayindex: index is read-only")
	ErrClosed   = errors.New("dayindex: index is closed")
)

// Position classifies a day relative to the indexed range.
type Position uint8

const (
	// Before means the day predates all recorded history.
	Before Position = iota
	// At means the day is indexed; Cursor.Offset is meaningful.
	At
	// After means the day postdates all recorded history.
	After
)

func (p Position) String() string {
	switch p {
	case Before:
		return "before"
	case At:
		return "at"
	case After:
		return "after"
	default:
		return "unknown"
	}
}

// Cursor is the result of a day lookup.
type Cursor struct {
	Position Position
	Offset   uint64
}

func (c Cursor) String() string {
	if c.Position == At {
		return fmt.Sprintf("at(%d)", c.Offset)
	}
	return c.Position.String()
}

// Entry is one indexed day.
type Entry struct {
	Day    uint64 `json:"day" yaml:"day"`
	Offset uint64 `json:"offset" yaml:"offset"`
}

// Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	file     *os.File
	baseDay  uint64
	offsets  []uint64
	readOnly bool
	closed   bool
}

// Open loads the index at path. An empty or missing file is bootstrapped
// with today as the base day.
func Open(path string, today uint64) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read index file: %w", err)
	}

	x := &Index{file: file}
	if len(data) < slotSize {
		x.baseDay = today
		x.offsets = []uint64{0}

		var buf [slotSize]byte
		binary.LittleEndian.PutUint64(buf[:], today)
		if _, err := file.WriteAt(buf[:], 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("write base day: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("sync index file: %w", err)
		}
		return x, nil
	}

	x.load(data)
	return x, nil
}

// OpenReadOnly loads a snapshot of the index at path. A missing or empty
// file behaves as a fresh index whose base day is today.
func OpenReadOnly(path string, today uint64) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read index file: %w", err)
	}

	x := &Index{readOnly: true}
	if len(data) < slotSize {
		x.baseDay = today
		x.offsets = []uint64{0}
		return x, nil
	}
	x.load(data)
	return x, nil
}

// load decodes whole slots; a trailing partial slot is ignored.
func (x *Index) load(data []byte) {
	n := len(data) / slotSize
	x.baseDay = binary.LittleEndian.Uint64(data[:slotSize])
	x.offsets = make([]uint64, n)
	for i := 1; i < n; i++ {
		x.offsets[i] = binary.LittleEndian.Uint64(data[i*slotSize:])
	}
}

// Query locates day within the indexed range.
func (x *Index) Query(day uint64) Cursor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if day < x.baseDay {
		return Cursor{Position: Before}
	}
	i := day - x.baseDay
	if i >= uint64(len(x.offsets)) {
		return Cursor{Position: After}
	}
	return Cursor{Position: At, Offset: x.offsets[i]}
}

// Update records that the first record of day sits at offset. Days between
// the last indexed day and day are backfilled with offset. Days at or before
// the last indexed day are left untouched.
func (x *Index) Update(day, offset uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ErrClosed
	}
	if x.readOnly {
		return ErrReadOnly
	}

	last := x.lastDay()
	if day <= last {
		return nil
	}

	n := day - last
	buf := make([]byte, n*slotSize)
	for i := uint64(0); i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*slotSize:], offset)
	}

	at := int64(len(x.offsets)) * slotSize
	if _, err := x.file.WriteAt(buf, at); err != nil {
		return fmt.Errorf("append index entries: %w", err)
	}
	if err := x.file.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}

	for i := uint64(0); i < n; i++ {
		x.offsets = append(x.offsets, offset)
	}
	return nil
}

func (x *Index) lastDay() uint64 {
	return x.baseDay + uint64(len(x.offsets)) - 1
}

// BaseDay returns the first indexed day.
func (x *Index) BaseDay() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.baseDay
}

// LastDay returns the last indexed day.
func (x *Index) LastDay() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.lastDay()
}

// Entries returns every indexed day with its offset.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Entry, len(x.offsets))
	for i, off := range x.offsets {
		out[i] = Entry{Day: x.baseDay + uint64(i), Offset: off}
	}
	return out
}

// Close releases the index file.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	if x.file != nil {
		return x.file.Close()
	}
	return nil
}
