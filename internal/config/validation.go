package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"zwsentry/internal/host"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

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
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateScan(&c.Scan)...)
	errs = append(errs, validateAutoDetect(&c.AutoDetect)...)
	errs = append(errs, validateSelection(&c.Selection)...)
	errs = append(errs, validateVerification(&c.Verification)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateScan(s *ScanConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := host.ParseMode(s.DefaultMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "scan.default_mode",
			Message: fmt.Sprintf("invalid mode: %s (valid: off, auto, selection)", s.DefaultMode),
		})
	}
	if s.MaxTextBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "scan.max_text_bytes",
			Message: "max text size must be positive",
		})
	}

	return errs
}

func validateAutoDetect(a *AutoDetectConfig) ValidationErrors {
	var errs ValidationErrors

	if a.IdleDelayMs < 0 || a.IdleDelayMs > 60000 {
		errs = append(errs, *RangeError("auto_detect.idle_delay_ms", 0, 60000))
	}
	for i, pattern := range a.IncludePatterns {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("auto_detect.include_patterns[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %s", pattern),
			})
		}
	}
	for i, pattern := range a.ExcludePatterns {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("auto_detect.exclude_patterns[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %s", pattern),
			})
		}
	}
	if a.MaxFileSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "auto_detect.max_file_size",
			Message: "max file size must be positive",
		})
	}

	return errs
}

func validateSelection(s *SelectionConfig) ValidationErrors {
	var errs ValidationErrors

	if s.FrameIntervalMs < 1 || s.FrameIntervalMs > 1000 {
		errs = append(errs, *RangeError("selection.frame_interval_ms", 1, 1000))
	}
	if s.PointerOffset < 0 {
		errs = append(errs, ValidationError{
			Field:   "selection.pointer_offset",
			Message: "pointer offset cannot be negative",
		})
	}
	if s.ViewportMargin < 0 {
		errs = append(errs, ValidationError{
			Field:   "selection.viewport_margin",
			Message: "viewport margin cannot be negative",
		})
	}
	if s.SummaryWidth < 1 || s.SummaryHeight < 1 {
		errs = append(errs, ValidationError{
			Field:   "selection.summary_width",
			Message: "summary size must be positive",
		})
	}

	return errs
}

func validateVerification(v *VerificationConfig) ValidationErrors {
	var errs ValidationErrors

	if !v.Enabled {
		return errs
	}
	if !isValidURL(v.Endpoint) {
		errs = append(errs, ValidationError{
			Field:   "verification.endpoint",
			Message: fmt.Sprintf("invalid URL: %s", v.Endpoint),
		})
	}
	if v.TimeoutSec < 1 || v.TimeoutSec > 300 {
		errs = append(errs, *RangeError("verification.timeout_sec", 1, 300))
	}
	if v.RetryAttempts < 0 || v.RetryAttempts > 10 {
		errs = append(errs, *RangeError("verification.retry_attempts", 0, 10))
	}
	if v.RetryDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "verification.retry_delay_ms",
			Message: "retry delay cannot be negative",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case "sqlite":
		if s.Path == "" {
			errs = append(errs, *RequiredFieldError("storage.path"))
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, memory)", s.Type),
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	if s.HistoryLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.history_limit",
			Message: "history limit cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
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
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address: %s", m.ListenAddr),
		})
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "path must start with /",
		})
	}

	return errs
}

func isValidGlobPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := filepath.Match(pattern, "test")
	return err == nil
}

func isValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
