package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"

	"visitorpass/internal/platform/config"
	"visitorpass/internal/platform/db"
	"visitorpass/internal/platform/keylock"
	"visitorpass/internal/platform/redis"
	"visitorpass/internal/ratelimit"
	"visitorpass/internal/recordstore"
	"visitorpass/internal/visitor/service"
	"visitorpass/internal/visitor/store"
)

// backend is the selected visitor store plus whatever must be closed with it.
// redis is nil unless REDIS_URL is set.
type backend struct {
	store   service.Store
	redis   *redis.Client
	closers []func()
	health  func(ctx context.Context) error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.Server, logger *slog.Logger, reg prometheus.Registerer) (*backend, error) {
	b := &backend{health: func(context.Context) error { return nil }}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		b.redis = client
		client.RegisterPoolMetrics(reg)
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.health = client.Health
	}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		b.store = store.NewInMemory()

	case config.StoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = conn.Close() })
		if err := db.Migrate(ctx, conn, store.SQLiteMigrations(), db.SQLite); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		writer := db.NewWorker(conn)
		b.closers = append(b.closers, writer.Close)
		b.store = store.NewSQLite(conn, writer)
		b.health = b.withStoreHealth(conn.PingContext)

	case config.StorePostgres:
		conn, err := db.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = conn.Close() })
		if err := db.Migrate(ctx, conn, store.PostgresMigrations(), db.Postgres); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.store = store.NewPostgres(conn)
		b.health = b.withStoreHealth(conn.PingContext)

	case config.StoreSheets:
		var opts []option.ClientOption
		if cfg.Store.SheetsCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Store.SheetsCredentialsFile))
		}
		table, err := recordstore.NewSheetsTable(ctx, cfg.Store.SheetsSpreadsheetID, cfg.Store.SheetsSheetName, opts...)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = store.NewTabular(table, b.locker(ctx, cfg, logger))

	default:
		b.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	logger.InfoContext(ctx, "visitor store ready", "backend", cfg.Store.Backend)
	return b, nil
}

// locker returns a Redis lock when REDIS_URL is set, so several replicas
// can share one spreadsheet; otherwise an in-process lock.
func (b *backend) locker(ctx context.Context, cfg config.Server, logger *slog.Logger) keylock.Locker {
	if b.redis == nil {
		logger.WarnContext(ctx, "no REDIS_URL, sheets store locked in-process only")
		return keylock.NewLocal()
	}
	return keylock.NewRedis(b.redis.Client, cfg.Redis.LockTTL, keylock.WithLogger(logger))
}

// rateLimitStore shares budgets through Redis when it is configured.
func (b *backend) rateLimitStore() ratelimit.Store {
	if b.redis == nil {
		return ratelimit.NewInMemoryStore()
	}
	return ratelimit.NewRedisStore(b.redis.Client)
}

func (b *backend) withStoreHealth(ping func(context.Context) error) func(context.Context) error {
	prev := b.health
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return err
		}
		return prev(ctx)
	}
}
