package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"playtokens/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// OpenStore returns the in-memory store when databaseURL is empty, otherwise
// a migrated Postgres store. The returned close func is never nil.
func OpenStore(ctx context.Context, databaseURL string, logger *slog.Logger) (store.Store, func(), error) {
	if databaseURL == "" {
		logger.Info("using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	applied, err := store.Migrate(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres store", "migrations_applied", applied)
	return store.NewPostgres(pool), pool.Close, nil
}
