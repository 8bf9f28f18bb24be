package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/outreach"
  max_open_conns: 40

redis:
  url: "redis://localhost:6379/0"

sweep:
  interval_seconds: 15

queue:
  keep_completed: 200
  claim_timeout_seconds: 60

webhooks:
  enabled: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/outreach", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval())
	assert.Equal(t, 200, cfg.Queue.KeepCompleted)
	assert.Equal(t, time.Minute, cfg.ClaimTimeout())
	assert.True(t, cfg.Webhooks.Enabled)

	// Unset fields still get defaults.
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 5000, cfg.Queue.KeepFailed)
	assert.Equal(t, 5*time.Minute, cfg.MaintenanceInterval())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
	assert.Equal(t, 2*time.Minute, cfg.RecoveryInterval())
	assert.False(t, cfg.Webhooks.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
database:
  url: "postgres://file/value"
`), 0644))

	t.Setenv("DATABASE_URL", "postgres://env/override")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/override", cfg.Database.URL)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
