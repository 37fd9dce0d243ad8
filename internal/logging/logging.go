// Package logging sets up the slog loggers used across focusd.
//
// Every entry carries the component that wrote it. Window titles and
// process command lines never reach the log, and paths under the user's
// home directory are written relative to "~". Output goes to stderr, a
// size-rotated file, or both.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Component names the part of focusd an entry comes from.
type Component string

const (
	ComponentDaemon   Component = "focusd"
	ComponentEngine   Component = "engine"
	ComponentTracking Component = "tracking"
	ComponentRules    Component = "rules"
	ComponentIPC      Component = "ipc"
	ComponentConfig   Component = "config"
	ComponentCrash    Component = "crash"
)

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output is "stdout", "stderr", "file" or "both" (stderr and file).
	Output string

	// FilePath is the log file used by the "file" and "both" outputs.
	FilePath string

	// MaxSize is the size in megabytes at which the file rotates.
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool

	AddSource bool
	Component Component

	// Home is replaced by "~" in path attributes. Empty disables it.
	Home string

	// Writer overrides Output when set.
	Writer io.Writer
}

// DefaultConfig returns the configuration used before the config file
// has been read.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   DefaultLogPath(),
		MaxSize:    20,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  ComponentDaemon,
		Home:       home,
	}
}

// DefaultLogPath returns the platform log file location.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", "focusd", "focusd.log")
	case "windows":
		dir := os.Getenv("LOCALAPPDATA")
		if dir == "" {
			dir = os.Getenv("APPDATA")
		}
		return filepath.Join(dir, "focusd", "logs", "focusd.log")
	}
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "focusd", "focusd.log")
}

// Logger is a slog.Logger whose level can change at runtime. Loggers
// derived with WithComponent share the level and the log file.
type Logger struct {
	*slog.Logger
	base    *slog.Logger
	config  *Config
	level   *slog.LevelVar
	rotator *FileRotator
	mu      sync.Mutex
}

// SetDefault makes l the slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// New builds a Logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	w, rotator, err := openOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}

	l := &Logger{config: cfg, level: new(slog.LevelVar), rotator: rotator}
	l.level.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     l.level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return scrub(a, cfg.Home)
		},
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	l.base = slog.New(h)
	l.Logger = l.base
	if cfg.Component != "" {
		l.Logger = l.base.With(slog.String("component", string(cfg.Component)))
	}
	return l, nil
}

func openOutput(cfg *Config) (io.Writer, *FileRotator, error) {
	if cfg.Writer != nil {
		return cfg.Writer, nil, nil
	}

	switch out := strings.ToLower(cfg.Output); out {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr", "":
		return os.Stderr, nil, nil
	case "file", "both":
		rotator, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		if out == "both" {
			return io.MultiWriter(os.Stderr, rotator), rotator, nil
		}
		return rotator, rotator, nil
	default:
		return nil, nil, fmt.Errorf("unknown log output: %s", cfg.Output)
	}
}

// privateKeys match attribute keys, by substring, whose values are dropped.
var privateKeys = []string{"title", "cmdline", "argv", "environ", "token"}

const redacted = "[REDACTED]"

// scrub drops private values and shortens home-relative paths.
func scrub(a slog.Attr, home string) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, k := range privateKeys {
		if strings.Contains(key, k) {
			return slog.String(a.Key, redacted)
		}
	}

	if home == "" || a.Value.Kind() != slog.KindString {
		return a
	}
	if key != "path" && !strings.HasSuffix(key, "_path") && !strings.HasSuffix(key, "_dir") {
		return a
	}
	return slog.String(a.Key, ShortenHome(a.Value.String(), home))
}

// ShortenHome rewrites p relative to "~" when it lies under home.
func ShortenHome(p, home string) string {
	home = strings.TrimRight(home, `/\`)
	if home == "" {
		return p
	}
	if p == home {
		return "~"
	}
	if strings.HasPrefix(p, home) && len(p) > len(home) && (p[len(home)] == '/' || p[len(home)] == '\\') {
		return "~" + p[len(home):]
	}
	return p
}

// WithComponent returns a logger that tags entries with c instead of the
// parent's component.
func (l *Logger) WithComponent(c Component) *Logger {
	return &Logger{
		Logger:  l.base.With(slog.String("component", string(c))),
		base:    l.base,
		config:  l.config,
		level:   l.level,
		rotator: l.rotator,
	}
}

// SetLevel changes the level of l and every logger sharing it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Sync()
}

// ParseLevel accepts debug, info, warn (or warning) and error. Empty
// means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// ParseFormat accepts text or json. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %s", s)
}
