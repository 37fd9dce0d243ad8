package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader holds the current configuration and reloads it when the file
// changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	onChange []func(old, new *Config)
	logger   *slog.Logger
	debounce time.Duration
	errChan  chan error
}

// NewLoader creates a new configuration loader.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path:     path,
		logger:   slog.Default().With("component", "config"),
		debounce: 100 * time.Millisecond,
		errChan:  make(chan error, 1),
	}
}

// SetLogger replaces the logger used for reload messages. Call it before Watch.
func (l *Loader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked with the previous and the new
// configuration after every successful reload. Callbacks must be
// registered before Watch.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving reload failures.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch reloads the configuration whenever the file is written, until ctx
// is cancelled. A file that fails to parse or validate is reported on
// Errors and the previous configuration stays in effect.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory rather than the file.
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.debounce, l.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.report(fmt.Errorf("watch config: %w", err))
		}
	}
}

// Reload re-reads the file immediately.
func (l *Loader) Reload() error {
	cfg, err := Load(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	old := l.config
	l.config = cfg
	l.mu.Unlock()

	l.logger.Info("configuration reloaded", "path", l.path)
	for _, cb := range l.onChange {
		cb(old, cfg)
	}
	return nil
}

func (l *Loader) reload() {
	if err := l.Reload(); err != nil {
		l.logger.Warn("configuration reload failed; keeping previous configuration", "path", l.path, "error", err)
		l.report(err)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
// Each attempt decodes into a fresh copy so a failed one leaves no trace.
func autoDetectAndParse(data []byte, cfg *Config) error {
	try := func(decode func(*Config) error) bool {
		c := cfg.Clone()
		if decode(c) != nil {
			return false
		}
		*cfg = *c
		return true
	}

	if try(func(c *Config) error { _, err := toml.Decode(string(data), c); return err }) {
		return nil
	}
	if try(func(c *Config) error { return json.Unmarshal(data, c) }) {
		return nil
	}
	if try(func(c *Config) error { return yaml.Unmarshal(data, c) }) {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// LoadOrCreate loads the configuration at path, first writing the
// defaults there if the file does not exist. It reports whether the file
// was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(DefaultConfig(), path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg, err := Load(path)
		return cfg, true, err
	}

	cfg, err := Load(path)
	return cfg, false, err
}
