// Package config loads driverlink configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreFile     = "file"
)

// Config is the root configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Store    StoreConfig    `yaml:"store"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig points at the marketplace backend.
type APIConfig struct {
	BaseURL string `yaml:"base_url"` // REST root, e.g. https://api.example.com/api
	Timeout string `yaml:"timeout"`
	Role    string `yaml:"role"` // the only account type this client accepts
}

// StoreConfig selects the credential store.
type StoreConfig struct {
	Driver        string `yaml:"driver"` // memory, sqlite, postgres, redis, file
	Path          string `yaml:"path"`   // sqlite database or encrypted file
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix"`
	Passphrase    string `yaml:"passphrase"`
}

// RealtimeConfig tunes the Socket.IO connection.
type RealtimeConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Timeout              string `yaml:"timeout"`
	ReconnectionAttempts int    `yaml:"reconnection_attempts"`
	ReconnectionDelay    string `yaml:"reconnection_delay"`
	ReconnectionDelayMax string `yaml:"reconnection_delay_max"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultDir is where config and local state live unless overridden.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "driverlink")
	}
	return ".driverlink"
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: "30s",
			Role:    "driver",
		},
		Store: StoreConfig{
			Driver:      StoreSQLite,
			Path:        filepath.Join(DefaultDir(), "driverlink.db"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "driverlink:",
		},
		Realtime: RealtimeConfig{
			Enabled:              true,
			Timeout:              "20s",
			ReconnectionAttempts: 3,
			ReconnectionDelay:    "1s",
			ReconnectionDelayMax: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// may hold a passphrase or redis password
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIVERLINK_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("DRIVERLINK_STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DRIVERLINK_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DRIVERLINK_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("DRIVERLINK_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("DRIVERLINK_REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv("DRIVERLINK_STORE_PASSPHRASE"); v != "" {
		c.Store.Passphrase = v
	}
	if v := os.Getenv("DRIVERLINK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetAPITimeout returns the REST request timeout.
func (c *Config) GetAPITimeout() time.Duration {
	return parseDuration(c.API.Timeout, 30*time.Second)
}

// GetRealtimeTimeout returns the Socket.IO dial and handshake timeout.
func (c *Config) GetRealtimeTimeout() time.Duration {
	return parseDuration(c.Realtime.Timeout, 20*time.Second)
}

// GetReconnectionDelay returns the first reconnection delay.
func (c *Config) GetReconnectionDelay() time.Duration {
	return parseDuration(c.Realtime.ReconnectionDelay, time.Second)
}

// GetReconnectionDelayMax returns the reconnection delay cap.
func (c *Config) GetReconnectionDelayMax() time.Duration {
	return parseDuration(c.Realtime.ReconnectionDelayMax, 5*time.Second)
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if strings.TrimSpace(c.API.Role) == "" {
		errs = append(errs, errors.New("api.role is required"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	case StoreFile:
		if c.Store.Path == "" || c.Store.Passphrase == "" {
			errs = append(errs, errors.New("store.path and store.passphrase are required for file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Realtime.ReconnectionAttempts < 0 {
		errs = append(errs, errors.New("realtime.reconnection_attempts must not be negative"))
	}
	return errors.Join(errs...)
}
