package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Engine.MaxConflictRetries)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[server]
addr = ":9090"

[engine]
acquire_timeout = "500ms"
max_conflict_retries = 5

[storage]
backend = "postgres"

[postgres]
dsn = "postgres://u:p@db:5432/auctions"
`), 0o600))

	t.Setenv(EnvConfigPath, "")
	t.Setenv("BIDENGINE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BIDENGINE_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.AcquireTimeout.Duration)
	assert.Equal(t, 5, cfg.Engine.MaxConflictRetries)
	assert.Equal(t, time.Minute, cfg.Engine.IdleTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Addr, cfg.Server.Addr)
}

func TestLoadSecretFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "signing")
	require.NoError(t, os.WriteFile(secret, []byte("s3cr3t\n"), 0o600))
	t.Setenv(EnvConfigPath, "")
	t.Setenv("BIDENGINE_COLLABORATORS_SIGNING_SECRET", "from-env")
	t.Setenv("BIDENGINE_COLLABORATORS_SIGNING_SECRET_FILE", secret)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Collaborators.SigningSecret)

	t.Setenv("BIDENGINE_COLLABORATORS_SIGNING_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Backend = "sqlite"
	cfg.Engine.QueueSize = 0
	cfg.Engine.UseDistributedLock = true
	cfg.Archive.Enabled = true
	cfg.Archive.Schedule = "every day"
	cfg.Notify.TelegramToken = "tok"
	cfg.Collaborators.OrdersURL = "orders.internal"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`storage: unknown backend "sqlite"`,
		"engine: queue_size",
		"use_distributed_lock requires redis.enabled",
		"archive: requires s3.enabled",
		"archive: invalid schedule",
		"telegram_token and telegram_chat_id",
		"orders_url must be an absolute URL",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "key"
	cfg.Collaborators.SigningSecret = "secret"
	cfg.Postgres.DSN = "postgres://u:p@db/x"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Collaborators.SigningSecret)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "key", cfg.Server.APIKey, "original untouched")

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
