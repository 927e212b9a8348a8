// Package config loads the license service configuration from environment
// variables and an optional YAML file. Environment variables win over file
// values; everything is validated once at startup and threaded explicitly
// through the components (no ambient singleton).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for all environment variables, e.g.
// VIDTTOOL_SERVER_PORT.
const EnvPrefix = "VIDTTOOL"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Policy   PolicyConfig   `yaml:"policy" envconfig:"POLICY"`
	Client   ClientConfig   `yaml:"client" envconfig:"CLIENT"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains the Postgres connection settings. When URL is empty
// the server falls back to the in-memory store (single-process mode, used by
// tests and local development).
type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS" default:"10"`
}

// SecurityConfig contains the admin credential and rate limiting settings.
type SecurityConfig struct {
	AdminKey  string          `yaml:"admin_key" envconfig:"ADMIN_KEY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains token-bucket rate limiting configuration for the
// public validation endpoints.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"50"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"25"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/license.log"`
}

// PolicyConfig contains the failed-attempt escalation thresholds. Escalation
// flags a device as suspicious/hacking for admin review; it never bans
// automatically. A threshold of 0 disables that escalation step.
type PolicyConfig struct {
	SuspiciousThreshold int64 `yaml:"suspicious_threshold" envconfig:"SUSPICIOUS_THRESHOLD" default:"3"`
	HackingThreshold    int64 `yaml:"hacking_threshold" envconfig:"HACKING_THRESHOLD" default:"10"`
	BulkGenerateCap     int   `yaml:"bulk_generate_cap" envconfig:"BULK_GENERATE_CAP" default:"100"`
}

// ClientConfig contains the settings used by the client SDK and poller.
type ClientConfig struct {
	ServerURL       string        `yaml:"server_url" envconfig:"SERVER_URL" default:"http://localhost:8080"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" default:"10s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxOfflineHours int           `yaml:"max_offline_hours" envconfig:"MAX_OFFLINE_HOURS" default:"24"`
	CacheDir        string        `yaml:"cache_dir" envconfig:"CACHE_DIR"`
}

// Load reads configuration in three layers with precedence
// defaults < file < environment. envconfig fills defaults and environment
// values first; file values are then overlaid only where the environment did
// not explicitly set the variable.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := os.Getenv(EnvPrefix + "_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if data, err := os.ReadFile(configFile); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
		overlayFile(&cfg, fileCfg)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envSet reports whether the prefixed environment variable was set, which
// distinguishes an explicit env value from an envconfig default.
func envSet(name string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + name)
	return ok
}

// overlayFile copies file values over cfg for every field the environment did
// not set. Zero file values mean "not present in the file" and are skipped.
func overlayFile(cfg *Config, file Config) {
	if file.Server.Port != 0 && !envSet("SERVER_PORT") {
		cfg.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 && !envSet("SERVER_READ_TIMEOUT") {
		cfg.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 && !envSet("SERVER_WRITE_TIMEOUT") {
		cfg.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 && !envSet("SERVER_IDLE_TIMEOUT") {
		cfg.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.ShutdownTimeout != 0 && !envSet("SERVER_SHUTDOWN_TIMEOUT") {
		cfg.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if file.Database.URL != "" && !envSet("DATABASE_URL") {
		cfg.Database.URL = file.Database.URL
	}
	if file.Database.MaxConns != 0 && !envSet("DATABASE_MAX_CONNS") {
		cfg.Database.MaxConns = file.Database.MaxConns
	}
	if file.Security.AdminKey != "" && !envSet("SECURITY_ADMIN_KEY") {
		cfg.Security.AdminKey = file.Security.AdminKey
	}
	if file.Security.RateLimit.RPS != 0 && !envSet("SECURITY_RATE_LIMIT_RPS") {
		cfg.Security.RateLimit.RPS = file.Security.RateLimit.RPS
	}
	if file.Security.RateLimit.Burst != 0 && !envSet("SECURITY_RATE_LIMIT_BURST") {
		cfg.Security.RateLimit.Burst = file.Security.RateLimit.Burst
	}
	if file.Logging.Level != "" && !envSet("LOGGING_LEVEL") {
		cfg.Logging.Level = file.Logging.Level
	}
	if file.Logging.Format != "" && !envSet("LOGGING_FORMAT") {
		cfg.Logging.Format = file.Logging.Format
	}
	if file.Logging.Output != "" && !envSet("LOGGING_OUTPUT") {
		cfg.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" && !envSet("LOGGING_FILE_PATH") {
		cfg.Logging.FilePath = file.Logging.FilePath
	}
	if file.Policy.SuspiciousThreshold != 0 && !envSet("POLICY_SUSPICIOUS_THRESHOLD") {
		cfg.Policy.SuspiciousThreshold = file.Policy.SuspiciousThreshold
	}
	if file.Policy.HackingThreshold != 0 && !envSet("POLICY_HACKING_THRESHOLD") {
		cfg.Policy.HackingThreshold = file.Policy.HackingThreshold
	}
	if file.Policy.BulkGenerateCap != 0 && !envSet("POLICY_BULK_GENERATE_CAP") {
		cfg.Policy.BulkGenerateCap = file.Policy.BulkGenerateCap
	}
	if file.Client.ServerURL != "" && !envSet("CLIENT_SERVER_URL") {
		cfg.Client.ServerURL = file.Client.ServerURL
	}
	if file.Client.PollInterval != 0 && !envSet("CLIENT_POLL_INTERVAL") {
		cfg.Client.PollInterval = file.Client.PollInterval
	}
	if file.Client.RequestTimeout != 0 && !envSet("CLIENT_REQUEST_TIMEOUT") {
		cfg.Client.RequestTimeout = file.Client.RequestTimeout
	}
	if file.Client.MaxOfflineHours != 0 && !envSet("CLIENT_MAX_OFFLINE_HOURS") {
		cfg.Client.MaxOfflineHours = file.Client.MaxOfflineHours
	}
	if file.Client.CacheDir != "" && !envSet("CLIENT_CACHE_DIR") {
		cfg.Client.CacheDir = file.Client.CacheDir
	}
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Client.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %s", c.Client.PollInterval)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.Client.RequestTimeout)
	}
	if c.Policy.BulkGenerateCap < 1 {
		return fmt.Errorf("bulk generate cap must be at least 1, got %d", c.Policy.BulkGenerateCap)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %q", c.Logging.Format)
	}
	return nil
}
