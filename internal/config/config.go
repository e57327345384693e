// Package config defines the top-level configuration for the auction engine
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDENGINE_* environment variables.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Engine        EngineConfig        `toml:"engine"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Storage       StorageConfig       `toml:"storage"`
	Postgres      PostgresConfig      `toml:"postgres"`
	Redis         RedisConfig         `toml:"redis"`
	S3            S3Config            `toml:"s3"`
	Archive       ArchiveConfig       `toml:"archive"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
	Notify        NotifyConfig        `toml:"notify"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Log           LogConfig           `toml:"log"`
	Mode          string              `toml:"mode"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	APIKey         string   `toml:"api_key"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimitRPS   int      `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
	ReadTimeout    duration `toml:"read_timeout"`
	WriteTimeout   duration `toml:"write_timeout"`
}

// EngineConfig tunes the per-auction command workers.
type EngineConfig struct {
	AcquireTimeout     duration `toml:"acquire_timeout"`
	CommandTimeout     duration `toml:"command_timeout"`
	IdleTimeout        duration `toml:"idle_timeout"`
	QueueSize          int      `toml:"queue_size"`
	MaxConflictRetries int      `toml:"max_conflict_retries"`
	DedupTTL           duration `toml:"dedup_ttl"`
	// UseDistributedLock serialises commands across instances through a
	// Redis lock. Requires redis.enabled.
	UseDistributedLock bool     `toml:"use_distributed_lock"`
	LockTTL            duration `toml:"lock_ttl"`
}

// SchedulerConfig tunes the deadline scheduler.
type SchedulerConfig struct {
	ScanInterval duration `toml:"scan_interval"`
	RetryDelay   duration `toml:"retry_delay"`
	BatchSize    int      `toml:"batch_size"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	MaxConns        int      `toml:"max_conns"`
	MinConns        int      `toml:"min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
	// StreamMaxLen caps the replayable event stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled      bool   `toml:"enabled"`
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
	Prefix       string `toml:"prefix"`
}

// ArchiveConfig controls the cold-storage sweep of closed auctions.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Schedule is a five-field cron expression.
	Schedule   string `toml:"schedule"`
	RetainDays int    `toml:"retain_days"`
	BatchSize  int    `toml:"batch_size"`
}

// CollaboratorsConfig points at the deposit and order services.
type CollaboratorsConfig struct {
	DepositURL    string   `toml:"deposit_url"`
	OrdersURL     string   `toml:"orders_url"`
	SigningKeyID  string   `toml:"signing_key_id"`
	SigningSecret string   `toml:"signing_secret"`
	Timeout       duration `toml:"timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	DiscordWebhook string   `toml:"discord_webhook"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	WebhookURL     string   `toml:"webhook_url"`
	Events         []string `toml:"events"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	ServiceName  string  `toml:"service_name"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string `toml:"level"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			ReadTimeout:    duration{10 * time.Second},
			WriteTimeout:   duration{15 * time.Second},
		},
		Engine: EngineConfig{
			AcquireTimeout:     duration{2 * time.Second},
			CommandTimeout:     duration{10 * time.Second},
			IdleTimeout:        duration{time.Minute},
			QueueSize:          64,
			MaxConflictRetries: 3,
			DedupTTL:           duration{24 * time.Hour},
			LockTTL:            duration{15 * time.Second},
		},
		Scheduler: SchedulerConfig{
			ScanInterval: duration{5 * time.Second},
			RetryDelay:   duration{2 * time.Second},
			BatchSize:    100,
		},
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bidengine",
			User:            "postgres",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "bidengine:",
			CacheTTL:     duration{30 * time.Second},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:     "http://localhost:9000",
			Region:       "us-east-1",
			Bucket:       "bidengine-archive",
			UsePathStyle: true,
		},
		Archive: ArchiveConfig{
			Schedule:   "0 3 * * *",
			RetainDays: 90,
			BatchSize:  200,
		},
		Collaborators: CollaboratorsConfig{
			SigningKeyID: "bidengine",
			Timeout:      duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"auction_sold", "auction_unsold", "auction_cancelled"},
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4318",
			ServiceName:  "bidengine",
			SampleRatio:  0.1,
		},
		Log:  LogConfig{Level: "info"},
		Mode: "all",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"all":       true,
}

// validLogLevels enumerates the accepted values for Config.Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	// Server
	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server: rate_limit_rps must be >= 0")
	}
	if c.Server.RateLimitBurst < 0 {
		errs = append(errs, "server: rate_limit_burst must be >= 0")
	}

	// Engine
	if c.Engine.AcquireTimeout.Duration <= 0 {
		errs = append(errs, "engine: acquire_timeout must be > 0")
	}
	if c.Engine.IdleTimeout.Duration <= 0 {
		errs = append(errs, "engine: idle_timeout must be > 0")
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, "engine: queue_size must be >= 1")
	}
	if c.Engine.MaxConflictRetries < 0 {
		errs = append(errs, "engine: max_conflict_retries must be >= 0")
	}
	if c.Engine.UseDistributedLock {
		if !c.Redis.Enabled {
			errs = append(errs, "engine: use_distributed_lock requires redis.enabled")
		}
		if c.Engine.LockTTL.Duration <= 0 {
			errs = append(errs, "engine: lock_ttl must be > 0 when use_distributed_lock is set")
		}
	}

	// Scheduler
	if c.Scheduler.ScanInterval.Duration <= 0 {
		errs = append(errs, "scheduler: scan_interval must be > 0")
	}
	if c.Scheduler.BatchSize < 1 {
		errs = append(errs, "scheduler: batch_size must be >= 1")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.MaxConns < 1 {
			errs = append(errs, "postgres: max_conns must be >= 1")
		}
		if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
			errs = append(errs, "postgres: min_conns must be between 0 and max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Storage.Backend == "memory" {
			errs = append(errs, "archive: requires the postgres storage backend")
		}
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid schedule %q: %v", c.Archive.Schedule, err))
		}
		if c.Archive.RetainDays < 1 {
			errs = append(errs, "archive: retain_days must be >= 1")
		}
	}

	// Collaborators
	for name, raw := range map[string]string{
		"deposit_url": c.Collaborators.DepositURL,
		"orders_url":  c.Collaborators.OrdersURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("collaborators: %s must be an absolute URL, got %q", name, raw))
		}
	}
	if c.Collaborators.Timeout.Duration <= 0 {
		errs = append(errs, "collaborators: timeout must be > 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Telemetry
	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, "telemetry: otlp_endpoint must not be empty")
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			errs = append(errs, "telemetry: sample_ratio must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
