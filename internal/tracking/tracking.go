package tracking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"focusd/internal/metrics"
	"focusd/internal/record"
)

// DefaultPollInterval is how often the service re-samples the active window.
const DefaultPollInterval = 60 * time.Second

// SpanWriter persists finished spans.
type SpanWriter interface {
	WriteSpan(span record.Span) error
}

// PathFilter rewrites an application path before it enters the pipeline.
// An empty result marks the path as not tracked.
type PathFilter interface {
	Filter(path string) string
}

// Config configures a Service.
type Config struct {
	// PollInterval is how often the focused window is re-sampled and fed
	// to the pipeline as a synthetic event.
	PollInterval time.Duration

	// InvalidInterval is the silence treated as a sleep gap.
	InvalidInterval time.Duration

	// QueueSize bounds the submitted event queue.
	QueueSize int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		InvalidInterval: DefaultInvalidInterval,
		QueueSize:       64,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithFilter sets the path filter applied to every event.
func WithFilter(f PathFilter) Option {
	return func(s *Service) { s.filter = f }
}

// WithSleepWatcher sets the sleep watcher.
func WithSleepWatcher(w SleepWatcher) Option {
	return func(s *Service) { s.sleep = w }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.FocusMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used for synthetic events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the single writer that drives the pipeline. Events reach it
// from the source's change channel, from Submit, and from the periodic
// re-sample; all of them are processed on the Run goroutine.
type Service struct {
	source   Source
	writer   SpanWriter
	filter   PathFilter
	sleep    SleepWatcher
	metrics  *metrics.FocusMetrics
	logger   *slog.Logger
	now      func() time.Time
	pipeline *Pipeline

	events       chan Event
	pollInterval atomic.Int64
	running      atomic.Bool

	mu          sync.RWMutex
	current     string
	since       int64
	lastReceive int64
	startedAt   time.Time
	spans       uint64
	writeErrors uint64
	lastError   string
}

// NewService returns a service reading from source and writing to writer.
func NewService(cfg Config, source Source, writer SpanWriter, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	s := &Service{
		source:   source,
		writer:   writer,
		now:      time.Now,
		pipeline: NewPipeline(cfg.InvalidInterval),
		events:   make(chan Event, cfg.QueueSize),
	}
	s.pollInterval.Store(int64(cfg.PollInterval))
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "tracking")
	}
	return s
}

// SetPollInterval changes the re-sample interval of a running service. It
// takes effect at the next tick.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval.Store(int64(d))
	}
}

// Submit queues a raw focus event. It reports false when the queue is full.
func (s *Service) Submit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Run processes events until ctx is cancelled, then flushes the open span.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	var changes <-chan WindowInfo
	if s.source != nil {
		if ok, reason := s.source.Available(); !ok {
			s.logger.Warn("focus source unavailable; only submitted events are tracked", "reason", reason)
		} else if err := s.source.Start(ctx); err != nil {
			s.logger.Warn("focus source failed to start", "error", err)
		} else {
			changes = s.source.FocusChanges()
			defer s.source.Stop()
		}
	}

	var sleeps <-chan bool
	if s.sleep != nil {
		ch, err := s.sleep.Watch(ctx)
		if err != nil {
			s.logger.Info("sleep notifications unavailable", "error", err)
		} else {
			sleeps = ch
		}
	}

	interval := time.Duration(s.pollInterval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("tracking started", "poll_interval", interval)
	s.resample()

	for {
		select {
		case <-ctx.Done():
			s.flush("shutdown")
			s.logger.Info("tracking stopped")
			return nil

		case ev := <-s.events:
			s.handle(ev)

		case info, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.handle(EventAt(info.AppPath, info.Timestamp))

		case <-ticker.C:
			if d := time.Duration(s.pollInterval.Load()); d != interval {
				interval = d
				ticker.Reset(d)
				s.logger.Info("poll interval changed", "poll_interval", d)
			}
			s.resample()

		case sleeping, ok := <-sleeps:
			if !ok {
				sleeps = nil
				continue
			}
			if sleeping {
				s.flush("sleep")
			} else {
				s.logger.Info("system resumed")
				s.resample()
			}
		}
	}
}

// resample injects the currently focused window as a synthetic event.
func (s *Service) resample() {
	if s.source == nil {
		return
	}
	info := s.source.ActiveWindow()
	if info == nil {
		return
	}
	at := info.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	s.handle(EventAt(info.AppPath, at))
}

func (s *Service) handle(ev Event) {
	s.metrics.FocusEvent()

	if s.filter != nil {
		if p := s.filter.Filter(ev.Path); p != ev.Path {
			if p == "" {
				s.logger.Debug("path filtered", "path", ev.Path)
			}
			ev.Path = p
		}
	}

	tr, closed := s.pipeline.Observe(ev)
	if tr == GapClosed {
		s.metrics.SleepGap()
		s.logger.Info("focus gap detected; span closed at last receive time",
			"path", closed.Path, "blur_at", closed.BlurAt, "resumed_at", ev.At)
	}
	if tr.Emits() {
		s.write(closed)
	}
	s.snapshot()
}

func (s *Service) flush(reason string) {
	closed, ok := s.pipeline.Flush()
	if !ok {
		return
	}
	s.logger.Info("flushing open span", "reason", reason, "path", closed.Path, "duration_ms", closed.Duration())
	s.write(closed)
	s.snapshot()
}

func (s *Service) write(span record.Span) {
	err := s.writer.WriteSpan(span)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.writeErrors++
		s.lastError = err.Error()
		s.logger.Error("write span failed", "span", span.String(), "error", err)
		return
	}
	if span.Persistable() {
		s.spans++
	}
}

func (s *Service) snapshot() {
	path, since, open := s.pipeline.Current()
	if !open {
		path, since = "", 0
	}

	s.mu.Lock()
	s.current = path
	s.since = since
	s.lastReceive = s.pipeline.LastReceive()
	s.mu.Unlock()
}

// Status is a point-in-time view of the service.
type Status struct {
	Running      bool          `json:"running" yaml:"running"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Uptime       time.Duration `json:"uptime" yaml:"uptime"`
	CurrentPath  string        `json:"current_path,omitempty" yaml:"current_path,omitempty"`
	CurrentSince int64         `json:"current_since,omitempty" yaml:"current_since,omitempty"`
	LastReceive  int64         `json:"last_receive" yaml:"last_receive"`
	Spans        uint64        `json:"spans" yaml:"spans"`
	WriteErrors  uint64        `json:"write_errors" yaml:"write_errors"`
	LastError    string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	Source       string        `json:"source" yaml:"source"`
	SourceReady  bool          `json:"source_ready" yaml:"source_ready"`
}

// Status returns the current service status.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:      s.running.Load(),
		StartedAt:    s.startedAt,
		CurrentPath:  s.current,
		CurrentSince: s.since,
		LastReceive:  s.lastReceive,
		Spans:        s.spans,
		WriteErrors:  s.writeErrors,
		LastError:    s.lastError,
		PollInterval: time.Duration(s.pollInterval.Load()),
	}
	if st.Running && !s.startedAt.IsZero() {
		st.Uptime = s.now().Sub(s.startedAt)
	}
	if s.source != nil {
		st.SourceReady, st.Source = s.source.Available()
	}
	return st
}
