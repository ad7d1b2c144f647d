package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var (
	ConfigFile    string
	Verbose       bool
	DefaultConfig = &Config{
		ListenAddr:    "127.0.0.1:8080",
		MaxWorkers:    1000,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		MaxLineLength: 80_000,
		MaxBodyBytes:  10 << 20,
		LogLevel:      "info",
	}
)

type Config struct {
	// The address to accept connections on (host:port).
	ListenAddr string `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
	// The maximum number of connections handled at once. Connections
	// accepted above it are closed without a response.
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
	// How long a connection may stay silent while its request is read.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	// How long a single response write may block.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	// The longest request or header line accepted.
	MaxLineLength int `yaml:"max_line_length,omitempty" json:"max_line_length,omitempty"`
	// The largest Content-Length accepted.
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty"`
	// Address to serve Prometheus metrics on. Disabled when empty.
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	// Access log file, "-" for stdout. Disabled when empty.
	AccessLog string `yaml:"access_log,omitempty" json:"access_log,omitempty"`
	// Whether to enable verbose logging.
	Verbose bool `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	// Log level name: debug, info, warn or error.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	// Whether to log JSON records instead of text.
	JSONLogs bool `yaml:"json_logs,omitempty" json:"json_logs,omitempty"`
	// Sentry DSN for crash reports. Disabled when empty.
	SentryDSN string `yaml:"sentry_dsn,omitempty" json:"sentry_dsn,omitempty"`
}

// HowdyDir returns the path to the configuration directory.
func HowdyDir() string {
	return filepath.Join(os.Getenv("HOME"), ".howdy")
}

func getDefaultConfigPath() string {
	return filepath.Join(HowdyDir(), "config.yaml")
}

// Load reads ConfigFile, or the default path when it is unset. A missing
// file yields the defaults.
func Load() (*Config, error) {
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	cfg, err := LoadFile(ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg := *DefaultConfig
		cfg.Verbose = Verbose
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if Verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// LoadFile reads the YAML file at path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	cfg := *DefaultConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that limits and timeouts are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must be set"))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read_timeout must not be negative, got %s", c.ReadTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must not be negative, got %s", c.WriteTimeout))
	}
	if c.MaxLineLength <= 0 {
		errs = append(errs, fmt.Errorf("max_line_length must be positive, got %d", c.MaxLineLength))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn or error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, or info if LogLevel is not valid.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func ensureDirExists(filePath string) error {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Create the directory if it doesn't exist
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}
	return nil
}

// Store writes cfg to ConfigFile, or the default path when it is unset.
func Store(cfg *Config) error {
	yamlFile, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %v", err)
	}
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	if err := ensureDirExists(ConfigFile); err != nil {
		return fmt.Errorf("failed to ensure directory exists: %v", err)
	}
	if err := os.WriteFile(ConfigFile, yamlFile, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %v", err)
	}
	return nil
}

// Watch calls fn with the reloaded configuration every time the file at
// path is written, until ctx is done. Files that fail to load or validate
// are logged and skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Watch the directory so that editors replacing the file are noticed.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFile(path)
			if err != nil {
				slog.Warn("Ignoring config change", slog.String("path", path), slog.Any("error", err))
				continue
			}
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
