package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/bidengine/internal/blob/s3"
	"github.com/alanyoungcy/bidengine/internal/cache/memory"
	"github.com/alanyoungcy/bidengine/internal/cache/redis"
	"github.com/alanyoungcy/bidengine/internal/clients"
	"github.com/alanyoungcy/bidengine/internal/config"
	cronrunner "github.com/alanyoungcy/bidengine/internal/cron"
	"github.com/alanyoungcy/bidengine/internal/crypto"
	"github.com/alanyoungcy/bidengine/internal/domain"
	"github.com/alanyoungcy/bidengine/internal/notify"
	"github.com/alanyoungcy/bidengine/internal/server/handler"
	memstore "github.com/alanyoungcy/bidengine/internal/store/memory"
	"github.com/alanyoungcy/bidengine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional dependencies are left nil when not configured.
type Dependencies struct {
	// Stores
	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Audit    domain.AuditStore

	// Caches and coordination
	AuctionCache domain.AuctionCache
	Submissions  domain.SubmissionCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus
	// EventBus publishes engine events to Redis when it is enabled.
	EventBus *redis.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Collaborators
	Deposits domain.DepositVerifier
	Orders   domain.OrderCreator

	// Notifications
	Notifier *notify.Notifier

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
	// Cleaners hold in-process state swept by the maintenance job.
	Cleaners []cronrunner.Cleaner
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- Stores ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Auctions = postgres.NewAuctionStore(pool)
		deps.Bids = postgres.NewBidStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	default:
		st := memstore.New()
		deps.Auctions = st.Auctions()
		deps.Bids = st.Bids()
		deps.Audit = st.Audit()
		logger.Warn("using in-memory storage; state is lost on restart")
	}

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: 5 * time.Second,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			KeyPrefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.AuctionCache = redis.NewAuctionCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Submissions = redis.NewSubmissionCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = bus
		deps.EventBus = bus
		if cfg.Engine.UseDistributedLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.Pingers["redis"] = redisClient
	} else {
		auctionCache := memory.NewAuctionCache(cfg.Redis.CacheTTL.Duration)
		submissions := memory.NewSubmissions()
		deps.AuctionCache = auctionCache
		deps.Submissions = submissions
		deps.RateLimiter = memory.NewRateLimiter()
		deps.Cleaners = append(deps.Cleaners, auctionCache, submissions)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
			Prefix:       cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobReader = s3Client
		deps.Pingers["s3"] = handler.PingFunc(s3Client.Health)
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(
				s3Client,
				deps.Auctions,
				deps.Bids,
				deps.Audit,
				cfg.Archive.BatchSize,
				logger,
			)
		}
	}

	// --- Collaborators ---
	var auth *crypto.HMACAuth
	if cfg.Collaborators.SigningSecret != "" {
		auth = &crypto.HMACAuth{
			KeyID:  cfg.Collaborators.SigningKeyID,
			Secret: cfg.Collaborators.SigningSecret,
		}
	}
	if cfg.Collaborators.DepositURL != "" {
		deps.Deposits = clients.NewDepositClient(cfg.Collaborators.DepositURL, auth, cfg.Collaborators.Timeout.Duration)
	}
	if cfg.Collaborators.OrdersURL != "" {
		deps.Orders = clients.NewOrderClient(cfg.Collaborators.OrdersURL, auth, cfg.Collaborators.Timeout.Duration)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, auth, cfg.Collaborators.Timeout.Duration))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
