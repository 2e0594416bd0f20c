package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tradedesk/internal/blob/s3"
	"github.com/alanyoungcy/tradedesk/internal/cache/memory"
	"github.com/alanyoungcy/tradedesk/internal/cache/redis"
	"github.com/alanyoungcy/tradedesk/internal/config"
	"github.com/alanyoungcy/tradedesk/internal/crypto"
	"github.com/alanyoungcy/tradedesk/internal/domain"
	"github.com/alanyoungcy/tradedesk/internal/notify"
	"github.com/alanyoungcy/tradedesk/internal/platform/midtrans"
	"github.com/alanyoungcy/tradedesk/internal/server/handler"
	"github.com/alanyoungcy/tradedesk/internal/store/postgres"
	"github.com/alanyoungcy/tradedesk/internal/store/sqlite"
)

// notifyQueueSize bounds alerts waiting for a slow chat API.
const notifyQueueSize = 256

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Ledger       domain.PositionLedger
	Portfolios   domain.PortfolioStore
	Trades       domain.TradeStore
	Transactions domain.TransactionStore
	AuditStore   domain.AuditStore
	Profiles     domain.ProfileStore
	Predictions  domain.PredictionStore

	// Caches. MarkCache is nil without Redis; the rest fall back to
	// in-process implementations.
	MarkCache   domain.MarkCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Shared      bool               // true when caches are backed by Redis
	leaseTable  *memory.LeaseTable // set when leases are in-process

	// Blob storage. Archiver is nil unless archive.enabled.
	Archiver domain.Archiver

	// Payments. Gateway is nil when no server key is configured.
	Gateway *midtrans.Client

	// Notifications. Alerts is nil when no sender is configured.
	Alerts *notify.Queue

	// Health checks reported by /api/health.
	Health map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

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

	deps, closeStore, err := OpenStore(ctx, cfg, cfg.Supabase.RunMigrations, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeStore)

	// ---- Caches ----
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarkCache = redis.NewMarkCache(redisClient, markTTL(cfg))
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLeaseManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Shared = true
		deps.Health["redis"] = redisClient
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		leases := memory.NewLeaseTable()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = leases
		deps.SignalBus = memory.NewBus()
		deps.leaseTable = leases
		logger.InfoContext(ctx, "redis disabled, using in-process caches")
	}

	// ---- Blob storage ----
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Trades,
			deps.AuditStore,
			logger,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
		logger.InfoContext(ctx, "archive storage configured", slog.String("bucket", s3Client.Bucket()))
	}

	// ---- Payments ----
	serverKey, err := crypto.LoadSecret(crypto.SecretSource{
		Plain:      cfg.Midtrans.ServerKey,
		SealedPath: cfg.Midtrans.EncryptedServerKeyPath,
		Password:   cfg.Midtrans.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: midtrans server key: %w", err)
	}
	if serverKey != "" {
		deps.Gateway = midtrans.NewClient(serverKey, cfg.Midtrans.ClientKey, cfg.Midtrans.SnapURL, "")
		logger.InfoContext(ctx, "payment gateway configured",
			slog.Bool("production", midtrans.IsProduction(serverKey)),
		)
	} else {
		logger.WarnContext(ctx, "midtrans server key not set, real deposits disabled")
	}

	// ---- Notifications ----
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if n := notify.NewNotifier(senders, cfg.Notify.Events, logger); n.Enabled() {
		deps.Alerts = notify.NewQueue(n, notifyQueueSize)
	}

	return deps, cleanup, nil
}

// OpenStore connects the configured ledger store and fills the store fields of
// a new Dependencies. SQLite applies its schema on open; PostgreSQL runs the
// embedded migrations only when migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if migrate {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: migrations: %w", err)
			}
			logger.InfoContext(ctx, "database migrations applied")
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedger(pool)
		deps.Portfolios = postgres.NewPortfolioStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Profiles = postgres.NewProfileStore(pool)
		deps.Predictions = postgres.NewPredictionStore(pool)
		deps.Health["postgres"] = pgClient

	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		deps.Ledger = sqlite.NewLedger(db)
		deps.Portfolios = sqlite.NewPortfolioStore(db)
		deps.Trades = sqlite.NewTradeStore(db)
		deps.Transactions = sqlite.NewTransactionStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.Profiles = sqlite.NewProfileStore(db)
		deps.Predictions = sqlite.NewPredictionStore(db)
		deps.Health["sqlite"] = db

	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}
	logger.InfoContext(ctx, "store connected", slog.String("driver", cfg.Store.Driver))

	return deps, cleanup, nil
}

// markTTL lets marks of a dead feed expire from Redis well after they would
// already be reported stale.
func markTTL(cfg *config.Config) time.Duration {
	return 10 * cfg.Feed.StaleAfter.Duration
}
