package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestYamlConfig_ParsesServerFields(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
  name: "test-server"
  version: "1.2.3"
  log_level: "debug"
  session_storage: "postgres"
  task_storage: "sqlite"
  session_ttl: "45m"
  postgres_dsn: "postgres://example"
  sqlite_dsn: "file:test.db"
`)
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	addr, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, ":9090", addr)

	name, err := cfg.ServerName()
	require.NoError(t, err)
	assert.Equal(t, "test-server", name)

	version, err := cfg.ServerVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", version)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "debug", level)

	sessDriver, err := cfg.SessionStorageDriver()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverPostgres, sessDriver)

	taskDriver, err := cfg.TaskStorageDriver()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverSQLite, taskDriver)

	ttl, err := cfg.SessionTTL()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, ttl)
}

func TestYamlConfig_StrictLifecycleDefaultsToTrueWhenAbsent(t *testing.T) {
	path := writeConfigFile(t, "server:\n  name: defaults-test\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	strict, err := cfg.StrictLifecycle()
	require.NoError(t, err)
	assert.True(t, strict)
}

func TestYamlConfig_StrictLifecycleCanBeDisabled(t *testing.T) {
	path := writeConfigFile(t, "server:\n  strict_lifecycle: false\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	strict, err := cfg.StrictLifecycle()
	require.NoError(t, err)
	assert.False(t, strict)
}

func TestYamlConfig_UnknownStorageDriverFallsBackToMemory(t *testing.T) {
	path := writeConfigFile(t, "server:\n  session_storage: \"not-a-real-driver\"\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	driver, err := cfg.SessionStorageDriver()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, driver)
}

func TestYamlConfig_SessionTTLDefaultsWhenAbsent(t *testing.T) {
	path := writeConfigFile(t, "server:\n  name: no-ttl\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	ttl, err := cfg.SessionTTL()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)
}

func TestYamlConfig_InvalidSessionTTLRejectedAtLoad(t *testing.T) {
	path := writeConfigFile(t, "server:\n  session_ttl: \"not-a-duration\"\n")
	_, err := NewYamlConfig(path, zap.NewNop())
	assert.Error(t, err)
}

func TestYamlConfig_SSLModeNormalizesToManualUnlessAcme(t *testing.T) {
	path := writeConfigFile(t, "server:\n  ssl:\n    enabled: true\n    mode: \"bogus\"\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	mode, err := cfg.SSLMode()
	require.NoError(t, err)
	assert.Equal(t, "manual", mode)

	enabled, err := cfg.SSLEnabled()
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestYamlConfig_SSLModeAcmeIsPreserved(t *testing.T) {
	path := writeConfigFile(t, "server:\n  ssl:\n    mode: \"ACME\"\n    acme_domains: [\"example.com\", \"www.example.com\"]\n    acme_email: \"ops@example.com\"\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	mode, err := cfg.SSLMode()
	require.NoError(t, err)
	assert.Equal(t, "acme", mode)

	domains, err := cfg.SSLAcmeDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "www.example.com"}, domains)

	email, err := cfg.SSLAcmeEmail()
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email)
}

func TestYamlConfig_UserKeysAndParamsLoaded(t *testing.T) {
	path := writeConfigFile(t, `
users:
  alice:
    keys:
      - "deadbeef"
    params:
      plan: "pro"
  bob:
    keys:
      - "cafebabe"
`)
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	userID, err := cfg.GetUserIDByKeyHash("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	params, err := cfg.GetUserParams("alice")
	require.NoError(t, err)
	assert.Equal(t, "pro", params["plan"])

	_, err = cfg.GetUserIDByKeyHash("not-a-real-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestYamlConfig_ReloadPicksUpChangedValues(t *testing.T) {
	path := writeConfigFile(t, "server:\n  name: before\n")
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	name, err := cfg.ServerName()
	require.NoError(t, err)
	assert.Equal(t, "before", name)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: after\n"), 0o644))
	require.NoError(t, cfg.reload())

	name, err = cfg.ServerName()
	require.NoError(t, err)
	assert.Equal(t, "after", name)
}

func TestHashAPIKey_EmptyStringHashesToEmpty(t *testing.T) {
	assert.Equal(t, "", HashAPIKey(""))
}

func TestHashAPIKey_IsDeterministic(t *testing.T) {
	assert.Equal(t, HashAPIKey("secret"), HashAPIKey("secret"))
	assert.NotEqual(t, HashAPIKey("secret"), HashAPIKey("other"))
}
