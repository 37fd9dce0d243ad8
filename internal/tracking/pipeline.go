// Package tracking turns raw window-focus signals into finished focus spans.
//
// A Pipeline folds a stream of (path, time) events into spans; the Service
// feeds it from a platform Source, a periodic re-sample of the active window
// and the system sleep signal, and hands each finished span to a SpanWriter.
package tracking

import (
	"time"

	"focusd/internal/record"
)

// DefaultInvalidInterval is the silence after which the machine is assumed
// to have been asleep.
const DefaultInvalidInterval = 3 * time.Minute

// Event is one raw focus signal. At is in milliseconds since the Unix epoch.
type Event struct {
	Path string
	At   int64
}

// EventAt builds an Event from a wall-clock time.
func EventAt(path string, at time.Time) Event {
	return Event{Path: path, At: at.UnixMilli()}
}

// Transition describes what an event did to the pipeline.
type Transition uint8

const (
	// Started began the first span.
	Started Transition = iota
	// Extended refreshed the open span without closing it.
	Extended
	// Switched closed the open span at the event time and opened a new one.
	Switched
	// GapClosed closed the open span at the last receive time after a
	// silence longer than the invalid interval, and opened a new one.
	GapClosed
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Extended:
		return "extended"
	case Switched:
		return "switched"
	case GapClosed:
		return "gap_closed"
	default:
		return "unknown"
	}
}

// Emits reports whether the transition produced a finished span.
func (t Transition) Emits() bool {
	return t == Switched || t == GapClosed
}

// Pipeline is the debounce state machine. It is not safe for concurrent
// use; the Service owns it from a single goroutine.
type Pipeline struct {
	invalid int64

	open        bool
	path        string
	focusAt     int64
	lastReceive int64
}

// NewPipeline returns a pipeline that treats a silence longer than invalid
// as a sleep gap. A non-positive invalid uses DefaultInvalidInterval.
func NewPipeline(invalid time.Duration) *Pipeline {
	if invalid <= 0 {
		invalid = DefaultInvalidInterval
	}
	return &Pipeline{invalid: invalid.Milliseconds()}
}

// Observe feeds one event. When the transition emits, the returned span is
// the one that just closed.
//
// Events older than the last receive time are treated as arriving at the
// last receive time, so a closed span never ends before it starts.
func (p *Pipeline) Observe(ev Event) (Transition, record.Span) {
	if !p.open {
		p.start(ev.Path, ev.At)
		return Started, record.Span{}
	}

	at := max(ev.At, p.lastReceive)

	if at-p.lastReceive > p.invalid {
		closed := record.Span{Path: p.path, FocusAt: p.focusAt, BlurAt: p.lastReceive}
		p.start(ev.Path, at)
		return GapClosed, closed
	}

	if ev.Path == p.path {
		p.lastReceive = at
		return Extended, record.Span{}
	}

	closed := record.Span{Path: p.path, FocusAt: p.focusAt, BlurAt: at}
	p.start(ev.Path, at)
	return Switched, closed
}

// Flush closes the open span at the last receive time. The next event
// starts a fresh span. It reports false when no span was open.
func (p *Pipeline) Flush() (record.Span, bool) {
	if !p.open {
		return record.Span{}, false
	}
	closed := record.Span{Path: p.path, FocusAt: p.focusAt, BlurAt: p.lastReceive}
	p.open = false
	p.path = ""
	return closed, true
}

// Current returns the open span's path and focus time.
func (p *Pipeline) Current() (path string, focusAt int64, ok bool) {
	return p.path, p.focusAt, p.open
}

// LastReceive returns the time of the most recent event.
func (p *Pipeline) LastReceive() int64 {
	return p.lastReceive
}

func (p *Pipeline) start(path string, at int64) {
	p.open = true
	p.path = path
	p.focusAt = at
	p.lastReceive = at
}
