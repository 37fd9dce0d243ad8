package metrics

import "time"

// FocusMetrics groups the metrics recorded by the storage engine and the
// tracking service. A nil *FocusMetrics records nothing.
type FocusMetrics struct {
	registry *Registry

	SpansWritten    *Counter
	SpansRejected   *Counter
	SpansDropped    *Counter
	RecordsAppended *Counter
	WriteErrors     *Counter
	FocusEvents     *Counter
	SleepGaps       *Counter

	Records *Gauge
	Apps    *Gauge

	WriteDuration *Histogram
	QueryDuration *Histogram
}

// NewFocusMetrics registers the focus metrics in registry.
func NewFocusMetrics(registry *Registry) *FocusMetrics {
	return &FocusMetrics{
		registry: registry,

		SpansWritten:    registry.Counter("spans_written_total", "Focus spans persisted", nil),
		SpansRejected:   registry.Counter("spans_rejected_total", "Focus spans rejected as noise", nil),
		SpansDropped:    registry.Counter("spans_dropped_total", "Focus spans dropped while suspended", nil),
		RecordsAppended: registry.Counter("records_appended_total", "Records appended to the record log", nil),
		WriteErrors:     registry.Counter("write_errors_total", "Failed span writes", nil),
		FocusEvents:     registry.Counter("focus_events_total", "Raw focus events received", nil),
		SleepGaps:       registry.Counter("sleep_gaps_total", "Spans closed because of a sleep gap", nil),

		Records: registry.Gauge("records", "Records in the record log", nil),
		Apps:    registry.Gauge("apps", "Registered application paths", nil),

		WriteDuration: registry.Histogram("write_duration_seconds", "Time to persist one span", nil, nil),
		QueryDuration: registry.Histogram("query_duration_seconds", "Time to answer one range query", nil, nil),
	}
}

// Registry returns the registry the metrics live in.
func (m *FocusMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SpanWritten records a persisted span split into n records.
func (m *FocusMetrics) SpanWritten(n int, start time.Time) {
	if m == nil {
		return
	}
	m.SpansWritten.Inc()
	m.RecordsAppended.Add(uint64(n))
	m.WriteDuration.ObserveSince(start)
}

// SpanRejected records a span rejected as noise.
func (m *FocusMetrics) SpanRejected() {
	if m != nil {
		m.SpansRejected.Inc()
	}
}

// SpanDropped records a span dropped while writes are suspended.
func (m *FocusMetrics) SpanDropped() {
	if m != nil {
		m.SpansDropped.Inc()
	}
}

// WriteError records a failed write.
func (m *FocusMetrics) WriteError() {
	if m != nil {
		m.WriteErrors.Inc()
	}
}

// FocusEvent records a raw focus event.
func (m *FocusMetrics) FocusEvent() {
	if m != nil {
		m.FocusEvents.Inc()
	}
}

// SleepGap records a span closed by the sleep-gap rule.
func (m *FocusMetrics) SleepGap() {
	if m != nil {
		m.SleepGaps.Inc()
	}
}

// Query records a range query that started at start.
func (m *FocusMetrics) Query(start time.Time) {
	if m != nil {
		m.QueryDuration.ObserveSince(start)
	}
}

// SetSizes updates the record and app gauges.
func (m *FocusMetrics) SetSizes(records uint64, apps int) {
	if m == nil {
		return
	}
	m.Records.Set(int64(records))
	m.Apps.Set(int64(apps))
}
