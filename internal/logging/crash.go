package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// ErrPanicked is returned by Guard when the guarded function panicked.
var ErrPanicked = errors.New("logging: recovered panic")

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandler writes crash reports for recovered panics.
type CrashHandler struct {
	mu       sync.Mutex
	crashDir string
	version  string
	logger   *slog.Logger
	onCrash  func(CrashReport)
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory to write crash reports to.
	CrashDir string

	// Version is the application version.
	Version string

	// Logger receives a summary of every crash.
	Logger *slog.Logger

	// OnCrash is called after a crash report is written.
	OnCrash func(CrashReport)
}

// DefaultCrashDir returns the platform-specific default crash directory.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// NewCrashHandler creates a new CrashHandler.
func NewCrashHandler(cfg CrashHandlerConfig) *CrashHandler {
	if cfg.CrashDir == "" {
		cfg.CrashDir = DefaultCrashDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CrashHandler{
		crashDir: cfg.CrashDir,
		version:  cfg.Version,
		logger:   cfg.Logger,
		onCrash:  cfg.OnCrash,
	}
}

// Guard runs fn and turns a panic into a crash report and an error
// wrapping ErrPanicked.
func (h *CrashHandler) Guard(component string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report := h.HandlePanic(component, r, nil)
			err = fmt.Errorf("%w in %s: %s", ErrPanicked, component, report.PanicValue)
		}
	}()
	return fn()
}

// HandlePanic records a panic value and returns the report written.
func (h *CrashHandler) HandlePanic(component string, panicValue any, contextInfo map[string]any) CrashReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    component,
		Context:      contextInfo,
	}

	path, err := h.writeCrashReport(report)
	if err != nil {
		h.logger.Error("write crash report failed", "error", err)
	}
	h.logger.Error("recovered panic", "component", component, "panic", report.PanicValue, "report", path)

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return report
}

func (h *CrashHandler) writeCrashReport(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.crashDir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}

	name := fmt.Sprintf("crash-%s-%s.json", report.Component, report.Timestamp.Format("20060102-150405.000000000"))
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// CrashReports returns the stored crash reports, oldest first.
func (h *CrashHandler) CrashReports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// CleanupOldCrashReports removes crash reports older than maxAge and
// returns how many were removed.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(file) == nil {
			removed++
		}
	}
	return removed, nil
}
