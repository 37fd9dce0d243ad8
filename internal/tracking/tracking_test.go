package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/metrics"
	"focusd/internal/record"
)

const (
	sec    = int64(1000)
	minute = 60 * sec
)

// =============================================================================
// Pipeline Tests
// =============================================================================

func TestPipelineFirstEventOnlyStarts(t *testing.T) {
	p := NewPipeline(0)

	tr, _ := p.Observe(Event{Path: "/a", At: 10 * sec})
	assert.Equal(t, Started, tr)
	assert.False(t, tr.Emits())

	path, focusAt, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "/a", path)
	assert.Equal(t, 10*sec, focusAt)
}

func TestPipelineTransitions(t *testing.T) {
	type step struct {
		ev   Event
		want Transition
		span record.Span
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "same path coalesces",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"/a", 1 * minute}, Extended, record.Span{}},
				{Event{"/a", 2 * minute}, Extended, record.Span{}},
				{Event{"/b", 3 * minute}, Switched, record.Span{Path: "/a", FocusAt: 0, BlurAt: 3 * minute}},
			},
		},
		{
			name: "switch closes at event time",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"/b", 30 * sec}, Switched, record.Span{Path: "/a", FocusAt: 0, BlurAt: 30 * sec}},
				{Event{"/a", 45 * sec}, Switched, record.Span{Path: "/b", FocusAt: 30 * sec, BlurAt: 45 * sec}},
			},
		},
		{
			name: "gap closes at last receive",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"/a", 1 * minute}, Extended, record.Span{}},
				{Event{"/b", 10 * minute}, GapClosed, record.Span{Path: "/a", FocusAt: 0, BlurAt: 1 * minute}},
				{Event{"/c", 11 * minute}, Switched, record.Span{Path: "/b", FocusAt: 10 * minute, BlurAt: 11 * minute}},
			},
		},
		{
			name: "gap on same path restarts span",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"/a", 4 * minute}, GapClosed, record.Span{Path: "/a", FocusAt: 0, BlurAt: 0}},
				{Event{"/b", 5 * minute}, Switched, record.Span{Path: "/a", FocusAt: 4 * minute, BlurAt: 5 * minute}},
			},
		},
		{
			name: "exactly the invalid interval is not a gap",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"/b", 3 * minute}, Switched, record.Span{Path: "/a", FocusAt: 0, BlurAt: 3 * minute}},
			},
		},
		{
			name: "late event is clamped",
			steps: []step{
				{Event{"/a", 10 * sec}, Started, record.Span{}},
				{Event{"/b", 5 * sec}, Switched, record.Span{Path: "/a", FocusAt: 10 * sec, BlurAt: 10 * sec}},
			},
		},
		{
			name: "filtered path closes previous span",
			steps: []step{
				{Event{"/a", 0}, Started, record.Span{}},
				{Event{"", 20 * sec}, Switched, record.Span{Path: "/a", FocusAt: 0, BlurAt: 20 * sec}},
				{Event{"/a", 50 * sec}, Switched, record.Span{Path: "", FocusAt: 20 * sec, BlurAt: 50 * sec}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(DefaultInvalidInterval)
			for i, s := range tt.steps {
				tr, span := p.Observe(s.ev)
				assert.Equal(t, s.want, tr, "step %d", i)
				if tr.Emits() {
					assert.Equal(t, s.span, span, "step %d", i)
				}
			}
		})
	}
}

func TestPipelineFlush(t *testing.T) {
	p := NewPipeline(DefaultInvalidInterval)

	_, ok := p.Flush()
	assert.False(t, ok)

	p.Observe(Event{"/a", 0})
	p.Observe(Event{"/a", 1 * minute})

	span, ok := p.Flush()
	require.True(t, ok)
	assert.Equal(t, record.Span{Path: "/a", FocusAt: 0, BlurAt: 1 * minute}, span)

	_, _, open := p.Current()
	assert.False(t, open)

	tr, _ := p.Observe(Event{"/b", 2 * minute})
	assert.Equal(t, Started, tr)
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "gap_closed", GapClosed.String())
	assert.Equal(t, "unknown", Transition(99).String())
}

// =============================================================================
// Service Tests
// =============================================================================

type memWriter struct {
	mu    sync.Mutex
	spans []record.Span
	err   error
}

func (w *memWriter) WriteSpan(s record.Span) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.spans = append(w.spans, s)
	return nil
}

func (w *memWriter) Spans() []record.Span {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]record.Span(nil), w.spans...)
}

type fakeSource struct {
	*baseSource
	mu     sync.Mutex
	active *WindowInfo
}

func newFakeSource() *fakeSource {
	return &fakeSource{baseSource: newBaseSource(DefaultSourceConfig())}
}

func (f *fakeSource) Start(ctx context.Context) error { return nil }
func (f *fakeSource) Stop() error                     { f.close(); return nil }
func (f *fakeSource) Available() (bool, string)       { return true, "fake" }

func (f *fakeSource) ActiveWindow() *WindowInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	info := *f.active
	return &info
}

func (f *fakeSource) setActive(info *WindowInfo) {
	f.mu.Lock()
	f.active = info
	f.mu.Unlock()
}

type chanSleepWatcher struct{ ch chan bool }

func (w chanSleepWatcher) Watch(ctx context.Context) (<-chan bool, error) { return w.ch, nil }

type prefixFilter struct{ drop string }

func (f prefixFilter) Filter(path string) string {
	if path == f.drop {
		return ""
	}
	return path
}

func runService(t *testing.T, s *Service) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().Running }, 2*time.Second, 5*time.Millisecond)
	return func() {
		stop()
		require.NoError(t, <-done)
	}
}

func waitReceived(t *testing.T, s *Service, at int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status().LastReceive == at }, 2*time.Second, 5*time.Millisecond)
}

func TestServiceWritesSwitchesAndFlushesOnShutdown(t *testing.T) {
	w := &memWriter{}
	m := metrics.NewFocusMetrics(metrics.NewRegistry("test"))
	s := NewService(DefaultConfig(), newFakeSource(), w, WithMetrics(m))
	stop := runService(t, s)

	require.True(t, s.Submit(Event{"/a", 0}))
	require.True(t, s.Submit(Event{"/a", 30 * sec}))
	require.True(t, s.Submit(Event{"/b", 1 * minute}))
	require.True(t, s.Submit(Event{"/b", 2 * minute}))
	waitReceived(t, s, 2*minute)

	st := s.Status()
	assert.Equal(t, "/b", st.CurrentPath)
	assert.Equal(t, 1*minute, st.CurrentSince)

	stop()

	assert.Equal(t, []record.Span{
		{Path: "/a", FocusAt: 0, BlurAt: 1 * minute},
		{Path: "/b", FocusAt: 1 * minute, BlurAt: 2 * minute},
	}, w.Spans())
	assert.Equal(t, uint64(4), m.FocusEvents.Value())
	assert.False(t, s.Status().Running)
}

func TestServiceGapCountsSleep(t *testing.T) {
	w := &memWriter{}
	m := metrics.NewFocusMetrics(metrics.NewRegistry("test"))
	s := NewService(DefaultConfig(), nil, w, WithMetrics(m))
	stop := runService(t, s)

	s.Submit(Event{"/a", 0})
	s.Submit(Event{"/a", 1 * minute})
	s.Submit(Event{"/a", 30 * minute})
	waitReceived(t, s, 30*minute)
	stop()

	assert.Equal(t, []record.Span{
		{Path: "/a", FocusAt: 0, BlurAt: 1 * minute},
		{Path: "/a", FocusAt: 30 * minute, BlurAt: 30 * minute},
	}, w.Spans())
	assert.Equal(t, uint64(1), m.SleepGaps.Value())
}

func TestServiceFilterDropsPath(t *testing.T) {
	w := &memWriter{}
	s := NewService(DefaultConfig(), nil, w, WithFilter(prefixFilter{drop: "/secret"}))
	stop := runService(t, s)

	s.Submit(Event{"/a", 0})
	s.Submit(Event{"/secret", 10 * sec})
	s.Submit(Event{"/b", 40 * sec})
	waitReceived(t, s, 40*sec)
	stop()

	spans := w.Spans()
	require.Len(t, spans, 4)
	assert.Equal(t, record.Span{Path: "/a", FocusAt: 0, BlurAt: 10 * sec}, spans[0])
	assert.Equal(t, record.Span{Path: "", FocusAt: 10 * sec, BlurAt: 40 * sec}, spans[1])
	assert.False(t, spans[1].Persistable())
	// The shutdown flush closes /b with no elapsed time.
	assert.Equal(t, record.Span{Path: "/b", FocusAt: 40 * sec, BlurAt: 40 * sec}, spans[3])
	assert.Equal(t, uint64(2), s.Status().Spans)
}

func TestServiceSourceChangesAndResample(t *testing.T) {
	src := newFakeSource()
	src.setActive(&WindowInfo{AppPath: "/a", Timestamp: time.UnixMilli(0)})

	w := &memWriter{}
	s := NewService(Config{PollInterval: 10 * time.Millisecond}, src, w)
	stop := runService(t, s)

	// The initial resample opened /a at 0.
	require.Eventually(t, func() bool { return s.Status().CurrentPath == "/a" }, 2*time.Second, 5*time.Millisecond)

	src.setActive(nil)
	src.emit(WindowInfo{AppPath: "/b", PID: 7, Timestamp: time.UnixMilli(20 * sec)})
	waitReceived(t, s, 20*sec)

	src.setActive(&WindowInfo{AppPath: "/b", Timestamp: time.UnixMilli(50 * sec)})
	waitReceived(t, s, 50*sec)
	stop()

	assert.Equal(t, []record.Span{
		{Path: "/a", FocusAt: 0, BlurAt: 20 * sec},
		{Path: "/b", FocusAt: 20 * sec, BlurAt: 50 * sec},
	}, w.Spans())
}

func TestServiceFlushesOnSleep(t *testing.T) {
	sleeps := make(chan bool, 1)
	w := &memWriter{}
	s := NewService(DefaultConfig(), nil, w, WithSleepWatcher(chanSleepWatcher{ch: sleeps}))
	stop := runService(t, s)
	defer stop()

	s.Submit(Event{"/a", 0})
	s.Submit(Event{"/a", 50 * sec})
	waitReceived(t, s, 50*sec)

	sleeps <- true
	require.Eventually(t, func() bool { return len(w.Spans()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, record.Span{Path: "/a", FocusAt: 0, BlurAt: 50 * sec}, w.Spans()[0])
	assert.Empty(t, s.Status().CurrentPath)
}

func TestServiceRecordsWriteErrors(t *testing.T) {
	w := &memWriter{err: errors.New("disk full")}
	s := NewService(DefaultConfig(), nil, w)
	stop := runService(t, s)

	s.Submit(Event{"/a", 0})
	s.Submit(Event{"/b", 10 * sec})
	waitReceived(t, s, 10*sec)
	stop()

	st := s.Status()
	assert.Equal(t, uint64(2), st.WriteErrors)
	assert.Equal(t, "disk full", st.LastError)
}

func TestServiceRunTwice(t *testing.T) {
	s := NewService(DefaultConfig(), nil, &memWriter{})
	stop := runService(t, s)
	defer stop()

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRunning)
}

func TestSubmitQueueFull(t *testing.T) {
	s := NewService(Config{QueueSize: 1}, nil, &memWriter{})
	assert.True(t, s.Submit(Event{"/a", 0}))
	assert.False(t, s.Submit(Event{"/a", 1}))
}

func TestSetPollInterval(t *testing.T) {
	s := NewService(DefaultConfig(), nil, &memWriter{})
	s.SetPollInterval(5 * time.Second)
	assert.Equal(t, 5*time.Second, s.Status().PollInterval)

	s.SetPollInterval(0)
	assert.Equal(t, 5*time.Second, s.Status().PollInterval)
}

func TestBaseSourceEmitsOnlyChanges(t *testing.T) {
	b := newBaseSource(DefaultSourceConfig())

	assert.True(t, b.emit(WindowInfo{AppPath: "/a", PID: 1}))
	assert.False(t, b.emit(WindowInfo{AppPath: "/a", PID: 1, Title: "other"}))
	assert.True(t, b.emit(WindowInfo{AppPath: "/a", PID: 2}))
	assert.Len(t, b.FocusChanges(), 2)

	b.close()
	b.close()
}
