package config

import (
	"errors"
	"fmt"
	"strings"

	"focusd/internal/logging"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i := range e {
		out[i] = e[i].Field
	}
	return out
}

// ValidateConfig validates every section and returns ValidationErrors.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateTracking(&c.Tracking)...)
	errs = append(errs, validateRules(&c.Rules)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateExport(&c.Export)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.DataDir == "" {
		errs = append(errs, *RequiredFieldError("storage.data_dir"))
	}
	return errs
}

func validateTracking(t *TrackingConfig) ValidationErrors {
	var errs ValidationErrors

	if t.PollIntervalSec < 1 || t.PollIntervalSec > 3600 {
		errs = append(errs, *RangeError("tracking.poll_interval_sec", 1, 3600))
	}
	if t.SampleIntervalMs < 100 || t.SampleIntervalMs > 60000 {
		errs = append(errs, *RangeError("tracking.sample_interval_ms", 100, 60000))
	}
	if t.InvalidIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "tracking.invalid_interval_sec",
			Message: "must be at least 1 second",
		})
	} else if t.PollIntervalSec >= t.InvalidIntervalSec {
		// A poll slower than the gap threshold would split every span.
		errs = append(errs, ValidationError{
			Field:   "tracking.poll_interval_sec",
			Message: fmt.Sprintf("must be shorter than tracking.invalid_interval_sec (%d)", t.InvalidIntervalSec),
		})
	}
	if t.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "tracking.queue_size",
			Message: "must be at least 1",
		})
	}
	return errs
}

func validateRules(r *RulesConfig) ValidationErrors {
	var errs ValidationErrors
	if r.Watch && r.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "rules.path",
			Message: "path is required when watch is enabled",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}
	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	} else if len(i.SocketPath) > 104 {
		// sun_path is 104 bytes on darwin and 108 on linux.
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is too long for a unix socket",
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}
	if i.IdleTimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.idle_timeout_sec",
			Message: "idle timeout must be at least 1 second",
		})
	}
	if i.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "ipc.requests_per_second",
			Message: "cannot be negative",
		})
	}
	if i.RequestsPerSecond > 0 && i.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.burst",
			Message: "must be at least 1 when rate limiting is enabled",
		})
	}
	return errs
}

func validateExport(e *ExportConfig) ValidationErrors {
	var errs ValidationErrors
	if e.BatchSize < 1 || e.BatchSize > 1_000_000 {
		errs = append(errs, *RangeError("export.batch_size", 1, 1_000_000))
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
