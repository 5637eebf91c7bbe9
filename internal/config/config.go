// Package config handles configuration loading, validation, and management
// for lessonsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Environment variables recognized by ApplyEnvOverrides.
const (
	EnvDataDir         = "LESSONSYNC_DATA_DIR"
	EnvAutomationURL   = "LESSONSYNC_AUTOMATION_URL"
	EnvAutomationToken = "LESSONSYNC_AUTOMATION_TOKEN"
	EnvDebounceMs      = "LESSONSYNC_DEBOUNCE_MS"
	EnvStoragePath     = "LESSONSYNC_STORAGE_PATH"
	EnvLogLevel        = "LESSONSYNC_LOG_LEVEL"
	EnvServerAddr      = "LESSONSYNC_SERVER_ADDR"
	EnvContentRoot     = "LESSONSYNC_CONTENT_ROOT"
)

// Config holds the complete configuration shared by contentctl and contentd.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Automation configures the client side of the content automation service.
	Automation AutomationConfig `toml:"automation" json:"automation" yaml:"automation"`

	// Session configures editor sessions.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Storage configures the local SQLite store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Server configures contentd.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// AutomationConfig holds the content automation endpoint settings.
type AutomationConfig struct {
	// BaseURL is the service root. Empty disables the service.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Token is sent as X-Teacher-Token when set.
	Token string `toml:"token" json:"token" yaml:"token"`

	// RequestTimeoutMs bounds each request. Zero means no timeout.
	RequestTimeoutMs int `toml:"request_timeout_ms" json:"request_timeout_ms" yaml:"request_timeout_ms"`
}

// SessionConfig holds editor session settings.
type SessionConfig struct {
	// DebounceMs is the quiet period before a pending edit is saved.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the SQLite database holding preferences and save history.
	Path string `toml:"path" json:"path" yaml:"path"`

	// HistoryLimit is the default number of rows listed by history queries.
	HistoryLimit int `toml:"history_limit" json:"history_limit" yaml:"history_limit"`
}

// ServerConfig holds contentd settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// ContentRoot is the directory holding the JSON documents.
	ContentRoot string `toml:"content_root" json:"content_root" yaml:"content_root"`

	// SchemaPath is an optional JSON Schema applied to saved content.
	SchemaPath string `toml:"schema_path" json:"schema_path" yaml:"schema_path"`

	// Token, when set, must match the X-Teacher-Token header.
	Token string `toml:"token" json:"token" yaml:"token"`

	// SaveRate is the sustained number of saves per second allowed per
	// client. Zero disables the limit.
	SaveRate float64 `toml:"save_rate" json:"save_rate" yaml:"save_rate"`

	// SaveBurst is the number of saves a client may send at once.
	SaveBurst int `toml:"save_burst" json:"save_burst" yaml:"save_burst"`

	// MaxTokenFailures locks a client out after this many wrong tokens.
	MaxTokenFailures int `toml:"max_token_failures" json:"max_token_failures" yaml:"max_token_failures"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stderr", "stdout" or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is used when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Session: SessionConfig{
			DebounceMs: 800,
		},
		Storage: StorageConfig{
			Path:         filepath.Join(dir, "lessonsync.db"),
			HistoryLimit: 20,
		},
		Server: ServerConfig{
			Addr:             "127.0.0.1:4310",
			ContentRoot:      "content",
			SaveRate:         5,
			SaveBurst:        10,
			MaxTokenFailures: 5,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "logs", "lessonsync.log"),
		},
	}
}

// DataDir returns the base lessonsync directory.
// LESSONSYNC_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv(EnvDataDir); envDir != "" {
		return envDir
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "lessonsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lessonsync")
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

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Storage.Path)}
	if c.Logging.Output == "file" {
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

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with LESSONSYNC_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv(EnvAutomationURL); v != "" {
		c.Automation.BaseURL = v
	}
	// Tokens are read from the environment so they stay out of config files.
	if v := os.Getenv(EnvAutomationToken); v != "" {
		c.Automation.Token = v
	}
	if v := os.Getenv(EnvDebounceMs); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Session.DebounceMs = ms
		}
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvContentRoot); v != "" {
		c.Server.ContentRoot = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:    c.Version,
		Automation: c.Automation,
		Session:    c.Session,
		Storage:    c.Storage,
		Server:     c.Server,
		Logging:    c.Logging,
	}
}

// Debounce returns the session debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Session.DebounceMs) * time.Millisecond
}

// RequestTimeout returns the automation request timeout, zero for none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Automation.RequestTimeoutMs) * time.Millisecond
}

// SaveConfig writes cfg as TOML to path.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg.Clone()); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}
	return nil
}
