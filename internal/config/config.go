// Package config handles configuration loading, validation, and management for focusd.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FOCUSD_"

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configures the data directory of the engine.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Tracking configures the focus tracking service.
	Tracking TrackingConfig `toml:"tracking" json:"tracking" yaml:"tracking"`

	// Rules configures path exclusion and merging.
	Rules RulesConfig `toml:"rules" json:"rules" yaml:"rules"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the daemon socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Export configures the SQLite export.
	Export ExportConfig `toml:"export" json:"export" yaml:"export"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DataDir holds app.txt, index.bin, record.bin and the engine metadata.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
}

// TrackingConfig holds focus tracking configuration.
type TrackingConfig struct {
	// Enabled starts the tracking service with the daemon.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often the focused window is re-sampled.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`

	// SampleIntervalMs is how often the platform source polls for focus changes.
	SampleIntervalMs int `toml:"sample_interval_ms" json:"sample_interval_ms" yaml:"sample_interval_ms"`

	// InvalidIntervalSec is the silence treated as a sleep gap.
	InvalidIntervalSec int `toml:"invalid_interval_sec" json:"invalid_interval_sec" yaml:"invalid_interval_sec"`

	// QueueSize bounds the event queue of the tracking service.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`

	// SleepWatch flushes the open span when the system goes to sleep.
	SleepWatch bool `toml:"sleep_watch" json:"sleep_watch" yaml:"sleep_watch"`
}

// PollInterval returns PollIntervalSec as a duration.
func (t TrackingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSec) * time.Second
}

// SampleInterval returns SampleIntervalMs as a duration.
func (t TrackingConfig) SampleInterval() time.Duration {
	return time.Duration(t.SampleIntervalMs) * time.Millisecond
}

// InvalidInterval returns InvalidIntervalSec as a duration.
func (t TrackingConfig) InvalidInterval() time.Duration {
	return time.Duration(t.InvalidIntervalSec) * time.Second
}

// RulesConfig holds the rules file configuration.
type RulesConfig struct {
	// Path is the rules.json file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the rules when the file changes.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum size of a log file before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds inter-process communication configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is started.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// IdleTimeoutSec closes connections without requests for this long.
	IdleTimeoutSec int `toml:"idle_timeout_sec" json:"idle_timeout_sec" yaml:"idle_timeout_sec"`

	// RequestsPerSecond limits each client; 0 disables limiting.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of requests a client may send at once.
	Burst int `toml:"burst" json:"burst" yaml:"burst"`
}

// ExportConfig holds SQLite export configuration.
type ExportConfig struct {
	// DatabasePath is the SQLite file written by `focusctl export`.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`

	// BatchSize is the number of records written per transaction.
	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Storage: StorageConfig{
			DataDir: paths.DataDir,
		},
		Tracking: TrackingConfig{
			Enabled:            true,
			PollIntervalSec:    60,
			SampleIntervalMs:   1000,
			InvalidIntervalSec: 180,
			QueueSize:          64,
			SleepWatch:         true,
		},
		Rules: RulesConfig{
			Path:  paths.RulesFile,
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(paths.LogDir, "focusd.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:           true,
			SocketPath:        paths.SocketPath,
			MaxConnections:    32,
			IdleTimeoutSec:    300,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Export: ExportConfig{
			DatabasePath: paths.ExportFile,
			BatchSize:    4096,
		},
	}
}

// ConfigPath returns the configuration file to use when none is given:
// $FOCUSD_CONFIG, then an existing config.<ext> found by FindConfigFile,
// then config.toml in the platform config directory.
func ConfigPath() string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	if found := FindConfigFile(); found != "" {
		return found
	}
	return GetDefaultPaths().ConfigFile
}

// Load reads configuration from the specified path, applies environment
// overrides and validates the result. A missing file yields the defaults.
// TOML, JSON and YAML are chosen by extension; other extensions are
// auto-detected.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.IPC.SocketPath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies FOCUSD_* environment variables to the
// configuration. FOCUSD_POLL_INTERVAL accepts a Go duration ("90s") or a
// number of seconds.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv(EnvPrefix + "SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv(EnvPrefix + "RULES"); v != "" {
		c.Rules.Path = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DB"); v != "" {
		c.Export.DatabasePath = v
	}
	if v := os.Getenv(EnvPrefix + "POLL_INTERVAL"); v != "" {
		secs, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.Tracking.PollIntervalSec = secs
	}
	return nil
}

func parseSeconds(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return int(d / time.Second), nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Save writes the configuration to path. The format follows the
// extension; anything other than .json, .yaml or .yml is written as TOML.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = encodeTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func encodeTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# focusd configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
