// Package config handles configuration loading, validation, and management for zwsentry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"zwsentry/internal/logging"
	"zwsentry/internal/verification"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Scan configuration shared by every entry point.
	Scan ScanConfig `toml:"scan" json:"scan" yaml:"scan"`

	// AutoDetect configuration for page sweeps and re-sweeps.
	AutoDetect AutoDetectConfig `toml:"auto_detect" json:"auto_detect" yaml:"auto_detect"`

	// Selection configuration for on-demand scans and the floating summary.
	Selection SelectionConfig `toml:"selection" json:"selection" yaml:"selection"`

	// Verification configuration for the registry bridge.
	Verification VerificationConfig `toml:"verification" json:"verification" yaml:"verification"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// ScanConfig holds settings shared by all scans.
type ScanConfig struct {
	// DefaultMode is the mode used when none has been persisted yet:
	// "off", "auto" or "selection".
	DefaultMode string `toml:"default_mode" json:"default_mode" yaml:"default_mode"`

	// MaxTextBytes caps how much of a file or stdin is read for one scan.
	MaxTextBytes int64 `toml:"max_text_bytes" json:"max_text_bytes" yaml:"max_text_bytes"`

	// RecordHistory stores a summary of every CLI scan.
	RecordHistory bool `toml:"record_history" json:"record_history" yaml:"record_history"`
}

// AutoDetectConfig holds settings for the page sweep.
type AutoDetectConfig struct {
	// IdleDelayMs is how long a re-sweep waits after the first mutation of
	// a batch.
	IdleDelayMs int `toml:"idle_delay_ms" json:"idle_delay_ms" yaml:"idle_delay_ms"`

	// IncludePatterns are glob patterns for files treated as text regions.
	// If empty, all files are candidates.
	IncludePatterns []string `toml:"include_patterns" json:"include_patterns" yaml:"include_patterns"`

	// ExcludePatterns are glob patterns for files never read.
	ExcludePatterns []string `toml:"exclude_patterns" json:"exclude_patterns" yaml:"exclude_patterns"`

	// MaxFileSize is the largest file read as a region, in bytes.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`

	// Recursive descends into subdirectories.
	Recursive bool `toml:"recursive" json:"recursive" yaml:"recursive"`
}

// SelectionConfig holds settings for SelectionScan.
type SelectionConfig struct {
	// FrameIntervalMs is the hover scan cadence.
	FrameIntervalMs int `toml:"frame_interval_ms" json:"frame_interval_ms" yaml:"frame_interval_ms"`

	// PointerOffset is the summary offset from the pointer.
	PointerOffset int `toml:"pointer_offset" json:"pointer_offset" yaml:"pointer_offset"`

	// ViewportMargin keeps the summary this far from the viewport edges.
	ViewportMargin int `toml:"viewport_margin" json:"viewport_margin" yaml:"viewport_margin"`

	SummaryWidth  int `toml:"summary_width" json:"summary_width" yaml:"summary_width"`
	SummaryHeight int `toml:"summary_height" json:"summary_height" yaml:"summary_height"`
}

// VerificationConfig holds registry client settings.
type VerificationConfig struct {
	// Enabled offers the verify action. Disabled means every request
	// completes as unavailable.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint is the registry verify URL.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	TimeoutSec    int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
	RetryAttempts int    `toml:"retry_attempts" json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs  int    `toml:"retry_delay_ms" json:"retry_delay_ms" yaml:"retry_delay_ms"`
	UserAgent     string `toml:"user_agent" json:"user_agent" yaml:"user_agent"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// HistoryLimit is the number of history rows kept per table. Zero keeps
	// everything.
	HistoryLimit int `toml:"history_limit" json:"history_limit" yaml:"history_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output is "file" or "both".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AddSource adds source file and line to log entries.
	AddSource bool `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	Path       string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Scan: ScanConfig{
			DefaultMode:   "off",
			MaxTextBytes:  10 * 1024 * 1024,
			RecordHistory: true,
		},
		AutoDetect: AutoDetectConfig{
			IdleDelayMs:     250,
			IncludePatterns: nil,
			ExcludePatterns: DefaultExcludePatterns(),
			MaxFileSize:     1024 * 1024,
			Recursive:       true,
		},
		Selection: SelectionConfig{
			FrameIntervalMs: 16,
			PointerOffset:   12,
			ViewportMargin:  8,
			SummaryWidth:    320,
			SummaryHeight:   180,
		},
		Verification: VerificationConfig{
			Enabled:       true,
			Endpoint:      verification.DefaultEndpoint,
			TimeoutSec:    10,
			RetryAttempts: 2,
			RetryDelayMs:  500,
			UserAgent:     "zwsentry",
		},
		Storage: StorageConfig{
			Type:          "sqlite",
			Path:          filepath.Join(dir, "zwsentry.db"),
			BusyTimeoutMs: 5000,
			HistoryLimit:  1000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "zwsentry.log"),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Path:       "/metrics",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories holding the database and log
// file.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Storage.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
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

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with ZWSENTRY_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ZWSENTRY_MODE"); v != "" {
		c.Scan.DefaultMode = v
	}

	// Storage overrides
	if v := os.Getenv("ZWSENTRY_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("ZWSENTRY_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}

	// Logging overrides
	if v := os.Getenv("ZWSENTRY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ZWSENTRY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ZWSENTRY_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Verification overrides
	if v := os.Getenv("ZWSENTRY_VERIFY_ENDPOINT"); v != "" {
		c.Verification.Endpoint = v
	}
	if v := os.Getenv("ZWSENTRY_VERIFY_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Verification.TimeoutSec = n
		}
	}

	// Metrics overrides
	if v := os.Getenv("ZWSENTRY_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
		c.Metrics.Enabled = true
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.AutoDetect.IncludePatterns = append([]string(nil), c.AutoDetect.IncludePatterns...)
	clone.AutoDetect.ExcludePatterns = append([]string(nil), c.AutoDetect.ExcludePatterns...)
	return &clone
}

// IdleDelay returns the AutoDetect re-sweep delay.
func (c *Config) IdleDelay() time.Duration {
	return time.Duration(c.AutoDetect.IdleDelayMs) * time.Millisecond
}

// FrameInterval returns the hover scan cadence.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Selection.FrameIntervalMs) * time.Millisecond
}

// VerificationClientConfig converts the verification section for the
// registry client.
func (c *Config) VerificationClientConfig() verification.Config {
	return verification.Config{
		Endpoint:      c.Verification.Endpoint,
		Timeout:       time.Duration(c.Verification.TimeoutSec) * time.Second,
		RetryAttempts: c.Verification.RetryAttempts,
		RetryDelay:    time.Duration(c.Verification.RetryDelayMs) * time.Millisecond,
		UserAgent:     c.Verification.UserAgent,
	}
}

// LoggerConfig converts the logging section for package logging.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:     level,
		Format:    format,
		Output:    c.Logging.Output,
		FilePath:  c.Logging.FilePath,
		AddSource: c.Logging.AddSource,
		Component: "zwsentry",
	}, nil
}
