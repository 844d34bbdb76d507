package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqshield/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8443
  host: "127.0.0.1"
  read_timeout: 10s
  upstream_url: "http://app:5000"
  principal_header: "X-User-ID"

defense:
  enabled: true
  api_prefix: "/api"
  auth:
    window: 10m
    max_requests: 3
    penalty_base: 5m
  allowlist:
    - "10.0.0.0/8"
  routes:
    - prefix: "/api/session"
      class: "auth"

storage:
  type: "json"
  path: "./data/defense.json"
  snapshot_interval: 1m

logging:
  level: "debug"
  format: "text"
  output: "stderr"

admin:
  enabled: true
  token: "s3cret"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8443, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout, "unset keys keep their defaults")
	assert.Equal(t, "http://app:5000", config.Server.UpstreamURL)
	assert.Equal(t, "X-User-ID", config.Server.PrincipalHeader)

	assert.Equal(t, 10*time.Minute, config.Defense.Auth.Window)
	assert.Equal(t, 3, config.Defense.Auth.MaxRequests)
	assert.Equal(t, 5*time.Minute, config.Defense.Auth.PenaltyBase)
	assert.Equal(t, 100, config.Defense.General.MaxRequests)
	assert.Equal(t, []string{"10.0.0.0/8"}, config.Defense.Allowlist)
	require.Len(t, config.Defense.Routes, 1)
	assert.Equal(t, "/api/session", config.Defense.Routes[0].Prefix)

	assert.Equal(t, models.StorageTypeJSON, config.Storage.Type)
	assert.Equal(t, time.Minute, config.Storage.SnapshotInterval)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.True(t, config.Admin.Enabled)
	assert.Equal(t, "s3cret", config.Admin.Token)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, models.NewDefaultConfig(), config)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeConfig(t, "server: [unterminated")

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_InvalidConfig(t *testing.T) {
	configFile := writeConfig(t, `
defense:
  auth:
    window: 0s
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_UnknownSectionIsIgnored(t *testing.T) {
	configFile := writeConfig(t, `
cache:
  enabled: true
server:
  port: 9000
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Server.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8000
`)

	t.Setenv("REQSHIELD_PORT", "9100")
	t.Setenv("REQSHIELD_UPSTREAM_URL", "http://backend:8000")
	t.Setenv("REQSHIELD_AUTH_MAX_REQUESTS", "10")
	t.Setenv("REQSHIELD_AUTH_WINDOW", "5m")
	t.Setenv("REQSHIELD_UPLOAD_REFILL_RATE", "2.5")
	t.Setenv("REQSHIELD_ALLOWLIST", "127.0.0.1, 10.0.0.0/8,")
	t.Setenv("REQSHIELD_QUARANTINE_DURATION", "12h")
	t.Setenv("REQSHIELD_STORAGE_TYPE", "redis")
	t.Setenv("REQSHIELD_REDIS_ADDR", "localhost:6379")
	t.Setenv("REQSHIELD_REDIS_DB", "2")
	t.Setenv("REQSHIELD_LOG_LEVEL", "warn")
	t.Setenv("REQSHIELD_METRICS_ENABLED", "false")
	t.Setenv("REQSHIELD_ADMIN_ENABLED", "true")
	t.Setenv("REQSHIELD_ADMIN_TOKEN", "from-env")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "http://backend:8000", config.Server.UpstreamURL)
	assert.Equal(t, 10, config.Defense.Auth.MaxRequests)
	assert.Equal(t, 5*time.Minute, config.Defense.Auth.Window)
	assert.Equal(t, 2.5, config.Defense.Upload.RefillRate)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, config.Defense.Allowlist)
	assert.Equal(t, 12*time.Hour, config.Defense.QuarantineDuration)
	assert.Equal(t, models.StorageTypeRedis, config.Storage.Type)
	assert.Equal(t, "localhost:6379", config.Storage.Redis.Addr)
	assert.Equal(t, 2, config.Storage.Redis.DB)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.False(t, config.Metrics.Enabled)
	assert.True(t, config.Admin.Enabled)
	assert.Equal(t, "from-env", config.Admin.Token)
}

func TestLoad_InvalidEnvironmentValuesAreIgnored(t *testing.T) {
	t.Setenv("REQSHIELD_PORT", "not-a-port")
	t.Setenv("REQSHIELD_AUTH_WINDOW", "forever")
	t.Setenv("REQSHIELD_UPLOAD_REFILL_RATE", "fast")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 15*time.Minute, config.Defense.Auth.Window)
	assert.Equal(t, 5.0, config.Defense.Upload.RefillRate)
}

func TestLoad_EnvironmentCanBreakValidation(t *testing.T) {
	t.Setenv("REQSHIELD_ALLOWLIST", "not-an-ip")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid allowlist")
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.example.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "# reqshield configuration."), "file should start with a header comment")
	assert.Contains(t, content, "# Per-class limits, progressive penalties and quarantine")
	assert.Contains(t, content, "window: 15m0s")
	assert.Contains(t, content, "10.0.0.0/8")

	// The example must load back into a valid configuration
	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, config.Defense.Auth.MaxRequests)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, config.Defense.Allowlist)
	assert.Equal(t, "change-me", config.Admin.Token)
}
