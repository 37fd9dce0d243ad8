package engine

import (
	"fmt"
	"time"

	"focusd/internal/record"
)

// WriteSpan persists a finished focus span. Spans that are not
// persistable (no path, or shorter than record.MinSpanMillis) and spans
// arriving while the engine is suspended are dropped without error.
//
// The span is resolved to an app id, split at day boundaries and at the
// record duration cap, and each piece is appended to the record log with
// the day index updated for the piece's focus day.
func (e *Engine) WriteSpan(span record.Span) error {
	if !span.Persistable() {
		e.logger.Debug("span rejected", "path", span.Path, "focus_at", span.FocusAt, "blur_at", span.BlurAt)
		e.metrics.SpanRejected()
		return nil
	}
	if e.readOnly {
		return ErrReadOnly
	}
	if e.State() == Suspended {
		e.logger.Debug("span dropped while suspended", "path", span.Path)
		e.metrics.SpanDropped()
		return nil
	}

	start := time.Now()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.indexStale {
		if err := e.repairIndex(); err != nil {
			e.metrics.WriteError()
			return fmt.Errorf("repair day index: %w", err)
		}
		e.indexStale = false
	}

	id, err := e.apps.IDByPath(span.Path)
	if err != nil {
		e.metrics.WriteError()
		return fmt.Errorf("resolve app id: %w", err)
	}

	if span.FocusAt < e.lastFocusAt {
		e.logger.Warn("span starts before the last record",
			"path", span.Path, "focus_at", span.FocusAt, "last_focus_at", e.lastFocusAt)
	}

	pieces := record.Split(id, span.FocusAt, span.BlurAt)
	written := 0
	for _, r := range pieces {
		// A piece under a second would encode with zero duration.
		if r.Duration() < record.MinSpanMillis {
			e.logger.Debug("span piece rejected", "path", span.Path, "focus_at", r.FocusAt, "blur_at", r.BlurAt)
			continue
		}
		n, err := e.log.Append(record.Encode(r))
		if err != nil {
			e.metrics.WriteError()
			return fmt.Errorf("append record: %w", err)
		}
		if err := e.index.Update(record.Day(r.FocusAt), n-1); err != nil {
			e.indexStale = true
			e.metrics.WriteError()
			return fmt.Errorf("update day index: %w", err)
		}
		e.lastFocusAt = r.FocusAt
		written++
	}

	if err := e.log.Sync(); err != nil {
		e.metrics.WriteError()
		return err
	}

	e.metrics.SpanWritten(written, start)
	e.metrics.SetSizes(e.log.Len(), e.apps.Len())
	e.logger.Debug("span written", "path", span.Path, "app_id", id, "records", written)
	return nil
}
