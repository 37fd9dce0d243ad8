package engine

import (
	"math"
	"sort"
	"time"

	"focusd/internal/dayindex"
	"focusd/internal/record"
	"focusd/internal/registry"
)

// ReadByTimestamp returns every record overlapping [start, end), clamped
// to that interval. Times are milliseconds since the Unix epoch. An empty
// or inverted range, or one outside recorded history, yields no records.
func (e *Engine) ReadByTimestamp(start, end int64) []record.FocusRecord {
	if start >= end {
		return []record.FocusRecord{}
	}
	defer e.metrics.Query(time.Now())

	from := e.index.Query(record.Day(start))
	to := e.index.Query(record.Day(end) + 1)

	if to.Position == dayindex.Before || from.Position == dayindex.After {
		return []record.FocusRecord{}
	}

	var lo uint64
	if from.Position == dayindex.At {
		lo = from.Offset
	}

	var rough []record.FocusRecord
	if to.Position == dayindex.After {
		rough = e.log.ReadToEnd(lo)
	} else {
		rough = e.log.Read(lo, to.Offset)
	}
	return Trim(rough, start, end)
}

// Trim narrows records, sorted by focus time, to those overlapping
// [start, end) and clamps the first and last to the interval. A record
// ending exactly at start or beginning exactly at end is excluded.
func Trim(records []record.FocusRecord, start, end int64) []record.FocusRecord {
	lo := sort.Search(len(records), func(i int) bool { return records[i].BlurAt > start })
	hi := sort.Search(len(records), func(i int) bool { return records[i].FocusAt >= end })
	if lo >= hi {
		return []record.FocusRecord{}
	}

	out := make([]record.FocusRecord, hi-lo)
	copy(out, records[lo:hi])
	out[0].FocusAt = max(out[0].FocusAt, start)
	out[len(out)-1].BlurAt = min(out[len(out)-1].BlurAt, end)
	return out
}

// Direction selects the paging direction of ReadByCursor.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// EndCursor addresses the end of the record log.
const EndCursor = math.MaxUint64

// Page is one page of records returned by ReadByCursor.
type Page struct {
	Records []record.FocusRecord `json:"records" yaml:"records"`
	// Next is the cursor to pass for the following page.
	Next uint64 `json:"next" yaml:"next"`
	// More reports whether records remain past Next in the paging direction.
	More bool `json:"more" yaml:"more"`
}

// ReadByCursor pages through the record log by position. Forward returns
// up to limit records starting at cursor; Backward returns up to limit
// records ending just before cursor, in chronological order.
func (e *Engine) ReadByCursor(cursor uint64, limit int, dir Direction) Page {
	n := e.log.Len()
	cursor = min(cursor, n)
	if limit <= 0 {
		return Page{Records: []record.FocusRecord{}, Next: cursor, More: (dir == Forward && cursor < n) || (dir == Backward && cursor > 0)}
	}

	if dir == Backward {
		from := cursor - min(cursor, uint64(limit))
		return Page{Records: e.log.Read(from, cursor), Next: from, More: from > 0}
	}

	to := min(n, cursor+uint64(limit))
	return Page{Records: e.log.Read(cursor, to), Next: to, More: to < n}
}

// AppPath returns the path registered under id.
func (e *Engine) AppPath(id record.AppID) (string, error) {
	return e.apps.PathByID(id)
}

// AppID returns the id for path, registering it if the engine is writable.
func (e *Engine) AppID(path string) (record.AppID, error) {
	return e.apps.IDByPath(path)
}

// Apps lists every registered application.
func (e *Engine) Apps() []registry.App {
	return e.apps.Apps()
}

// StartTimestamp returns the first millisecond of the earliest indexed day.
func (e *Engine) StartTimestamp() int64 {
	return record.StartOfDay(e.index.BaseDay())
}

// DayEntry is one day of the day index.
type DayEntry struct {
	Day         uint64 `json:"day" yaml:"day"`
	StartMillis int64  `json:"start_millis" yaml:"start_millis"`
	Offset      uint64 `json:"offset" yaml:"offset"`
}

// Days lists every indexed day with the log offset of its first record.
func (e *Engine) Days() []DayEntry {
	entries := e.index.Entries()
	out := make([]DayEntry, len(entries))
	for i, en := range entries {
		out[i] = DayEntry{Day: en.Day, StartMillis: record.StartOfDay(en.Day), Offset: en.Offset}
	}
	return out
}
