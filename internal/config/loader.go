package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"zwsentry/internal/logging"
)

// DefaultDebounce is how long the loader waits after the last write before
// reloading.
const DefaultDebounce = 100 * time.Millisecond

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	debounce time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	config   *Config
	onChange []func(old, new *Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	errChan chan error
	wg      sync.WaitGroup
}

// NewLoader creates a new configuration loader.
func NewLoader(path string, logger *logging.Logger) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logging.OrDefault(logger).WithComponent("config"),
		errChan:  make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetDebounce changes the reload debounce. Call before Watch.
func (l *Loader) SetDebounce(d time.Duration) {
	l.debounce = d
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides from the environment and validates the
// configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := readValidated(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func readValidated(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns a copy of the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return nil
	}
	return l.config.Clone()
}

// Watch starts watching the configuration file for changes.
// When changes are detected, the configuration is reloaded and
// registered callbacks are invoked.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	l.wg.Add(1)
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer l.wg.Done()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(l.debounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	l.logger.Error("config reload failed", "path", l.path, "error", err)
	select {
	case l.errChan <- err:
	default:
	}
}

// reload swaps in the new configuration when it parses and validates. An
// invalid file keeps the previous configuration.
func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	newCfg, err := readValidated(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	oldCfg := l.config
	l.config = newCfg
	callbacks := append([]func(old, new *Config){}, l.onChange...)
	l.mu.Unlock()

	l.logger.Info("config reloaded", "path", l.path)
	for _, cb := range callbacks {
		cb(oldCfg, newCfg.Clone())
	}
}

// OnChange registers a callback invoked with the previous and the new
// configuration after each successful reload.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	var err error
	if l.watcher != nil {
		err = l.watcher.Close()
	}
	l.wg.Wait()
	return err
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()

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
// Each attempt decodes into a fresh default so a failed format leaves no
// partial values behind.
func autoDetectAndParse(data []byte, cfg *Config) error {
	try := func(decode func(*Config) error) bool {
		c := DefaultConfig()
		if err := decode(c); err != nil {
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

// LoadOrCreate loads the configuration from the specified path,
// creating a default configuration file if it doesn't exist.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := readValidated(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// SaveConfig writes cfg in the format chosen by the file extension,
// defaulting to TOML.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# zwsentry configuration\n\n")
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
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
