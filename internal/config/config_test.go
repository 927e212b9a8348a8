package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VIDTTOOL_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, 24, cfg.Client.MaxOfflineHours)
	assert.Equal(t, int64(3), cfg.Policy.SuspiciousThreshold)
	assert.Equal(t, int64(10), cfg.Policy.HackingThreshold)
	assert.Equal(t, 100, cfg.Policy.BulkGenerateCap)
	assert.True(t, cfg.Security.RateLimit.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9001
security:
  admin_key: from-file
logging:
  level: debug
`), 0o644))

	t.Setenv("VIDTTOOL_CONFIG_FILE", path)
	t.Setenv("VIDTTOOL_SERVER_PORT", "9002")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9002, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "from-file", cfg.Security.AdminKey, "file fills what env left unset")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"poll interval below 1s", func(c *Config) { c.Client.PollInterval = 200 * time.Millisecond }},
		{"non-positive request timeout", func(c *Config) { c.Client.RequestTimeout = 0 }},
		{"bulk cap below 1", func(c *Config) { c.Policy.BulkGenerateCap = 0 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Server: ServerConfig{Port: 8080},
				Client: ClientConfig{
					PollInterval:   10 * time.Second,
					RequestTimeout: 10 * time.Second,
				},
				Policy:  PolicyConfig{BulkGenerateCap: 100},
				Logging: LoggingConfig{Format: "json"},
			}
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
