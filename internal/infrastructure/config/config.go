package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the auth core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Notify   NotifyConfig   `yaml:"notify"`
	Auth     AuthConfig     `yaml:"auth"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects the backend that holds persisted auth documents.
type StorageConfig struct {
	// Backend is "sqlite" (default, uses the database section) or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the redis storage backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
	// MaxAge is how many days of rotated files are kept.
	MaxAge int `yaml:"max_age"`
	// RotationHours is the rotation interval in hours.
	RotationHours int `yaml:"rotation_hours"`
}

// MetricsConfig controls the Prometheus/health listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// NotifyConfig lists the notification services one-time codes can be
// sent through. Each service is delivered over MQTT; with MQTT disabled
// messages are only logged.
type NotifyConfig struct {
	Services []string `yaml:"services"`
}

// AuthConfig contains the auth manager settings and the plugin lists.
type AuthConfig struct {
	// AccessTokenTTL is the default access token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`

	// SaveDelay is the debounce window for identity store writes in milliseconds.
	SaveDelay int `yaml:"save_delay"`

	Providers  []PluginConfig `yaml:"providers"`
	MFAModules []PluginConfig `yaml:"mfa_modules"`

	Owner OwnerConfig `yaml:"owner"`
}

// OwnerConfig configures first-boot owner provisioning.
// Provisioning is skipped when Username is empty.
type OwnerConfig struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
}

// PluginConfig is one entry of auth.providers or auth.mfa_modules.
// Type, ID and Name are common to all plugins; everything else is kept
// in Options and decoded by the plugin itself.
type PluginConfig struct {
	Type    string         `yaml:"type"`
	ID      string         `yaml:"id,omitempty"`
	Name    string         `yaml:"name,omitempty"`
	Options map[string]any `yaml:",inline"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. .env file next to the working directory (if present)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: RXHOME_SECTION_KEY
// For example: RXHOME_DATABASE_PATH, RXHOME_REDIS_ADDR
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv reads .env into the process environment. Variables that are
// already set win; a missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Home",
		},
		Database: DatabaseConfig{
			Path:        "./data/auth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "rxhome:storage",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rxhome-auth",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:          "./data/logs/auth.log",
				MaxAge:        7,
				RotationHours: 24,
			},
		},
		Metrics: MetricsConfig{
			Host: "127.0.0.1",
			Port: 9102,
		},
		Auth: AuthConfig{
			AccessTokenTTL: 30,
			SaveDelay:      1000,
			Providers: []PluginConfig{
				{Type: "password"},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RXHOME_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("RXHOME_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("RXHOME_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("RXHOME_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}

	if v := os.Getenv("RXHOME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RXHOME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RXHOME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("RXHOME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("RXHOME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected so a single run reports every mistake.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite storage backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for the redis storage backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (sqlite, redis)", c.Storage.Backend))
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	for i, svc := range c.Notify.Services {
		if svc == "" || strings.ContainsAny(svc, "/+#") {
			errs = append(errs, fmt.Sprintf("notify.services[%d] %q is not a valid service name", i, svc))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, "auth.access_token_ttl must be positive")
	}
	if c.Auth.SaveDelay < 0 {
		errs = append(errs, "auth.save_delay must not be negative")
	}
	if len(c.Auth.Providers) == 0 {
		errs = append(errs, "auth.providers must list at least one provider")
	}
	for i, p := range c.Auth.Providers {
		if p.Type == "" {
			errs = append(errs, fmt.Sprintf("auth.providers[%d].type is required", i))
		}
	}
	for i, m := range c.Auth.MFAModules {
		if m.Type == "" {
			errs = append(errs, fmt.Sprintf("auth.mfa_modules[%d].type is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AccessTokenTTL returns the default access token lifetime as a Duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTL) * time.Minute
}

// SaveDelay returns the identity store debounce window as a Duration.
func (c *Config) SaveDelay() time.Duration {
	return time.Duration(c.Auth.SaveDelay) * time.Millisecond
}
