// Package engine is the focus storage engine: it owns the application
// registry, the record log and the day index of one data directory, and
// exposes the write path used by the tracker and the range queries used by
// the command layer.
//
// One Engine opened with Open is the only writer for a data directory; the
// directory is locked for as long as it stays open. Any number of read-only
// engines may be opened with OpenReadOnly, each seeing a snapshot taken at
// open time.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"focusd/internal/dayindex"
	"focusd/internal/metrics"
	"focusd/internal/record"
	"focusd/internal/recordlog"
	"focusd/internal/registry"
)

// Errors
var (
	ErrReadOnly         = errors.New("engine: engine is read-only")
	ErrNotSupported     = errors.New("engine: operation not supported")
	ErrLocked           = errors.New("engine: data directory is in use by another process")
	ErrIncompatibleData = errors.New("engine: data directory was written by a newer engine")
)

// State is the engine's write state.
type State int32

const (
	// Running accepts writes.
	Running State = iota
	// Suspended drops incoming spans; queries keep working.
	Suspended
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.FocusMetrics
}

// WithClock sets the clock used to bootstrap the day index and metadata.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.FocusMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine is safe for concurrent use. Writes are serialized; reads take the
// per-component locks for the duration of a single call.
type Engine struct {
	dir      string
	readOnly bool

	apps  *registry.Registry
	index *dayindex.Index
	log   *recordlog.Log
	meta  Meta
	lock  *dirLock

	// writeMu makes appending a span's records and updating the index
	// one step with respect to other writers.
	writeMu     sync.Mutex
	lastFocusAt int64
	// indexStale is set when records were appended but the day index
	// update failed; the next write repairs the index first.
	indexStale bool

	state   atomic.Int32
	logger  *slog.Logger
	metrics *metrics.FocusMetrics
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "engine")
	}
	return o
}

// Open opens the data directory dir for writing, creating it if needed.
func Open(dir string, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{dir: dir, lock: lock, logger: o.logger, metrics: o.metrics}
	if err := e.open(o); err != nil {
		e.Close()
		return nil, err
	}

	e.logger.Info("engine opened",
		"dir", dir,
		"records", e.log.Len(),
		"apps", e.apps.Len(),
		"base_day", e.index.BaseDay(),
		"version", e.meta.EngineVersion,
	)
	return e, nil
}

func (e *Engine) open(o options) error {
	now := o.now()

	meta, err := loadMeta(e.dir, now, true)
	if err != nil {
		return err
	}
	e.meta = meta

	if e.apps, err = registry.Open(filepath.Join(e.dir, registry.FileName)); err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if e.index, err = dayindex.Open(filepath.Join(e.dir, dayindex.FileName), record.Day(now.UnixMilli())); err != nil {
		return fmt.Errorf("open day index: %w", err)
	}
	if e.log, err = recordlog.Open(filepath.Join(e.dir, recordlog.FileName)); err != nil {
		return fmt.Errorf("open record log: %w", err)
	}

	if n := e.log.Len(); n > 0 {
		last := e.log.Read(n-1, n)
		if len(last) == 1 {
			e.lastFocusAt = last[0].FocusAt
		}
	}
	if err := e.repairIndex(); err != nil {
		return fmt.Errorf("repair day index: %w", err)
	}
	e.metrics.SetSizes(e.log.Len(), e.apps.Len())
	return nil
}

// repairIndex indexes records that sit past the last indexed day. They are
// left behind when an append succeeded and the index update did not.
func (e *Engine) repairIndex() error {
	n := e.log.Len()
	if n == 0 {
		return nil
	}
	lastDay := e.index.LastDay()
	tail := e.log.Read(n-1, n)
	if len(tail) == 0 || record.Day(tail[0].FocusAt) <= lastDay {
		return nil
	}

	first := n - 1
	for first > 0 {
		prev := e.log.Read(first-1, first)
		if len(prev) == 0 || record.Day(prev[0].FocusAt) <= lastDay {
			break
		}
		first--
	}

	e.logger.Warn("day index behind record log; repairing", "last_indexed_day", lastDay, "from_offset", first)
	for i, r := range e.log.Read(first, n) {
		if err := e.index.Update(record.Day(r.FocusAt), first+uint64(i)); err != nil {
			return err
		}
	}
	return nil
}

// OpenReadOnly opens a snapshot of the data directory dir. It neither locks
// the directory nor writes to it.
func OpenReadOnly(dir string, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	now := o.now()

	meta, err := loadMeta(dir, now, false)
	if err != nil {
		return nil, err
	}

	e := &Engine{dir: dir, readOnly: true, meta: meta, logger: o.logger, metrics: o.metrics}
	if e.apps, err = registry.OpenReadOnly(filepath.Join(dir, registry.FileName)); err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if e.index, err = dayindex.OpenReadOnly(filepath.Join(dir, dayindex.FileName), record.Day(now.UnixMilli())); err != nil {
		return nil, fmt.Errorf("open day index: %w", err)
	}
	if e.log, err = recordlog.OpenReadOnly(filepath.Join(dir, recordlog.FileName)); err != nil {
		return nil, fmt.Errorf("open record log: %w", err)
	}
	return e, nil
}

// Dir returns the data directory.
func (e *Engine) Dir() string { return e.dir }

// ReadOnly reports whether the engine was opened with OpenReadOnly.
func (e *Engine) ReadOnly() bool { return e.readOnly }

// Meta returns the data directory metadata.
func (e *Engine) Meta() Meta { return e.meta }

// State returns the current write state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Suspend makes WriteSpan drop spans until Resume is called.
func (e *Engine) Suspend() {
	if e.state.Swap(int32(Suspended)) != int32(Suspended) {
		e.logger.Info("engine suspended")
	}
}

// Resume re-enables writes after Suspend.
func (e *Engine) Resume() {
	if e.state.Swap(int32(Running)) != int32(Running) {
		e.logger.Info("engine resumed")
	}
}

// Optimize would compact storage. The on-disk format has nothing to
// compact yet.
func (e *Engine) Optimize() error {
	return ErrNotSupported
}

// Sync flushes the record log to disk.
func (e *Engine) Sync() error {
	if e.log == nil {
		return nil
	}
	return e.log.Sync()
}

// Close flushes and releases every component and the directory lock.
func (e *Engine) Close() error {
	var errs []error
	if e.log != nil {
		errs = append(errs, e.log.Close())
	}
	if e.index != nil {
		errs = append(errs, e.index.Close())
	}
	if e.apps != nil {
		errs = append(errs, e.apps.Close())
	}
	if e.lock != nil {
		errs = append(errs, e.lock.release())
		e.lock = nil
	}
	return errors.Join(errs...)
}

// Stats summarizes the engine contents.
type Stats struct {
	Records        uint64 `json:"records" yaml:"records"`
	Apps           int    `json:"apps" yaml:"apps"`
	BaseDay        uint64 `json:"base_day" yaml:"base_day"`
	LastDay        uint64 `json:"last_day" yaml:"last_day"`
	StartTimestamp int64  `json:"start_timestamp" yaml:"start_timestamp"`
	State          string `json:"state" yaml:"state"`
	ReadOnly       bool   `json:"read_only" yaml:"read_only"`
	EngineVersion  string `json:"engine_version" yaml:"engine_version"`
}

// Stats returns a summary of the engine contents.
func (e *Engine) Stats() Stats {
	return Stats{
		Records:        e.log.Len(),
		Apps:           e.apps.Len(),
		BaseDay:        e.index.BaseDay(),
		LastDay:        e.index.LastDay(),
		StartTimestamp: e.StartTimestamp(),
		State:          e.State().String(),
		ReadOnly:       e.readOnly,
		EngineVersion:  e.meta.EngineVersion,
	}
}
