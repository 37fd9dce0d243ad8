package tracking

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("tracking: already running")
	ErrUnavailable    = errors.New("tracking: not available on this platform")
)

// WindowInfo describes the focused window.
type WindowInfo struct {
	// AppPath is the executable path of the owning process.
	AppPath string `json:"app_path" yaml:"app_path"`

	// Title is the window title.
	Title string `json:"title" yaml:"title"`

	// PID is the owning process id.
	PID int `json:"pid" yaml:"pid"`

	// Timestamp is when the window was sampled.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Source reports which application owns the focused window.
type Source interface {
	// Start begins watching for focus changes.
	Start(ctx context.Context) error

	// Stop stops watching. The FocusChanges channel is closed.
	Stop() error

	// ActiveWindow samples the focused window now. It returns nil when no
	// window is focused or the window cannot be resolved.
	ActiveWindow() *WindowInfo

	// FocusChanges delivers a WindowInfo each time the focused application
	// changes.
	FocusChanges() <-chan WindowInfo

	// Available reports whether the source works here, with a description.
	Available() (bool, string)
}

// SourceConfig configures a platform source.
type SourceConfig struct {
	// SampleInterval is how often a polling source checks the focused
	// window for changes.
	SampleInterval time.Duration
}

// DefaultSourceConfig returns the default source configuration.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{SampleInterval: time.Second}
}

// NewSource returns the source for the current platform.
func NewSource(cfg SourceConfig) Source {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSourceConfig().SampleInterval
	}
	return newPlatformSource(cfg)
}

// baseSource holds the change channel shared by source implementations.
type baseSource struct {
	config    SourceConfig
	changes   chan WindowInfo
	closeOnce sync.Once

	mu       sync.Mutex
	lastPath string
	lastPID  int
}

func newBaseSource(cfg SourceConfig) *baseSource {
	return &baseSource{
		config:  cfg,
		changes: make(chan WindowInfo, 50),
	}
}

func (b *baseSource) FocusChanges() <-chan WindowInfo {
	return b.changes
}

// emit forwards info when the focused application changed. A full channel
// drops the change; the periodic re-sample recovers it.
func (b *baseSource) emit(info WindowInfo) bool {
	b.mu.Lock()
	if info.AppPath == b.lastPath && info.PID == b.lastPID {
		b.mu.Unlock()
		return false
	}
	b.lastPath, b.lastPID = info.AppPath, info.PID
	b.mu.Unlock()

	select {
	case b.changes <- info:
		return true
	default:
		return false
	}
}

func (b *baseSource) close() {
	b.closeOnce.Do(func() { close(b.changes) })
}
