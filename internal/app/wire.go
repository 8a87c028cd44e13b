package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/updownhft/updownbot/internal/blob/s3"
	"github.com/updownhft/updownbot/internal/cache/redis"
	"github.com/updownhft/updownbot/internal/config"
	"github.com/updownhft/updownbot/internal/domain"
	"github.com/updownhft/updownbot/internal/notify"
	"github.com/updownhft/updownbot/internal/store/postgres"
)

// Dependencies bundles every external-backed dependency the modes need. Wire
// constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	InstrumentStore  domain.InstrumentStore
	PositionStore    domain.PositionStore
	OpportunityStore domain.OpportunityStore
	FillStore        domain.FillStore
	AuditStore       domain.AuditStore

	InstrumentCache domain.InstrumentCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Raw clients kept for readiness probes.
	Postgres *postgres.Client
	Redis    *redis.Client
}

// needsPostgres reports whether the mode persists or serves stored history.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "server", "full":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency set for the configured mode.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Concrete store handles kept for the archiver's cold-storage queries.
	var (
		pgPositions     *postgres.PositionStore
		pgOpportunities *postgres.OpportunityStore
		pgFills         *postgres.FillStore
	)

	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
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
		deps.Postgres = pgClient
		pgPositions = postgres.NewPositionStore(pool)
		pgOpportunities = postgres.NewOpportunityStore(pool)
		pgFills = postgres.NewFillStore(pool)
		deps.InstrumentStore = postgres.NewInstrumentStore(pool)
		deps.PositionStore = pgPositions
		deps.OpportunityStore = pgOpportunities
		deps.FillStore = pgFills
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

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

	deps.Redis = redisClient
	deps.InstrumentCache = redis.NewInstrumentCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	if cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// Archival needs the history stores behind it.
		if pgPositions != nil && pgOpportunities != nil && pgFills != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				pgPositions,
				pgOpportunities,
				pgFills,
				deps.AuditStore,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
