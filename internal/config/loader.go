package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable that overrides the -config flag.
const EnvConfigPath = "BIDENGINE_CONFIG"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDENGINE_* environment variable overrides and
// resolves *_FILE secrets. A missing file leaves the defaults in place. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if v := os.Getenv(EnvConfigPath); v != "" {
		path = v
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := resolveSecretFiles(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.Addr, "BIDENGINE_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "BIDENGINE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDENGINE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitRPS, "BIDENGINE_SERVER_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "BIDENGINE_SERVER_RATE_LIMIT_BURST")
	setDuration(&cfg.Server.ReadTimeout, "BIDENGINE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "BIDENGINE_SERVER_WRITE_TIMEOUT")

	// ── Engine ──
	setDuration(&cfg.Engine.AcquireTimeout, "BIDENGINE_ENGINE_ACQUIRE_TIMEOUT")
	setDuration(&cfg.Engine.CommandTimeout, "BIDENGINE_ENGINE_COMMAND_TIMEOUT")
	setDuration(&cfg.Engine.IdleTimeout, "BIDENGINE_ENGINE_IDLE_TIMEOUT")
	setInt(&cfg.Engine.QueueSize, "BIDENGINE_ENGINE_QUEUE_SIZE")
	setInt(&cfg.Engine.MaxConflictRetries, "BIDENGINE_ENGINE_MAX_CONFLICT_RETRIES")
	setDuration(&cfg.Engine.DedupTTL, "BIDENGINE_ENGINE_DEDUP_TTL")
	setBool(&cfg.Engine.UseDistributedLock, "BIDENGINE_ENGINE_USE_DISTRIBUTED_LOCK")
	setDuration(&cfg.Engine.LockTTL, "BIDENGINE_ENGINE_LOCK_TTL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.ScanInterval, "BIDENGINE_SCHEDULER_SCAN_INTERVAL")
	setDuration(&cfg.Scheduler.RetryDelay, "BIDENGINE_SCHEDULER_RETRY_DELAY")
	setInt(&cfg.Scheduler.BatchSize, "BIDENGINE_SCHEDULER_BATCH_SIZE")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "BIDENGINE_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BIDENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BIDENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.MaxConns, "BIDENGINE_POSTGRES_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "BIDENGINE_POSTGRES_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "BIDENGINE_POSTGRES_MAX_CONN_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "BIDENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BIDENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BIDENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BIDENGINE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "BIDENGINE_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "BIDENGINE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BIDENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BIDENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UsePathStyle, "BIDENGINE_S3_USE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "BIDENGINE_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BIDENGINE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "BIDENGINE_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.RetainDays, "BIDENGINE_ARCHIVE_RETAIN_DAYS")
	setInt(&cfg.Archive.BatchSize, "BIDENGINE_ARCHIVE_BATCH_SIZE")

	// ── Collaborators ──
	setStr(&cfg.Collaborators.DepositURL, "BIDENGINE_COLLABORATORS_DEPOSIT_URL")
	setStr(&cfg.Collaborators.OrdersURL, "BIDENGINE_COLLABORATORS_ORDERS_URL")
	setStr(&cfg.Collaborators.SigningKeyID, "BIDENGINE_COLLABORATORS_SIGNING_KEY_ID")
	setStr(&cfg.Collaborators.SigningSecret, "BIDENGINE_COLLABORATORS_SIGNING_SECRET")
	setDuration(&cfg.Collaborators.Timeout, "BIDENGINE_COLLABORATORS_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhook, "BIDENGINE_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "BIDENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "BIDENGINE_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDENGINE_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "BIDENGINE_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.OTLPEndpoint, "BIDENGINE_TELEMETRY_OTLP_ENDPOINT")
	setStr(&cfg.Telemetry.ServiceName, "BIDENGINE_TELEMETRY_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRatio, "BIDENGINE_TELEMETRY_SAMPLE_RATIO")

	// ── Top-level ──
	setStr(&cfg.Log.Level, "BIDENGINE_LOG_LEVEL")
	setStr(&cfg.Mode, "BIDENGINE_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
