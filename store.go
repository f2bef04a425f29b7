package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dmorn/m4d-chatter/internal/agent"
	"github.com/dmorn/m4d-chatter/internal/history"
)

// openStore opens the configured history backend.
func openStore(ctx context.Context, cfg agent.StoreConfig, zl *zap.Logger) (*history.Store, error) {
	var backend history.Backend
	switch cfg.Backend {
	case agent.BackendFile:
		b, err := history.NewFileBackend(cfg.ContextDir)
		if err != nil {
			return nil, err
		}
		backend = b
	case agent.BackendSQLite:
		b, err := history.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend = b
	case agent.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := ensureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("schema: %w", err)
		}
		backend = history.NewPostgresBackend(pool)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}

	zl.Info("history store ready", zap.String("backend", cfg.Backend), zap.Int("retention", cfg.Retention))
	return history.NewStore(backend, history.WithRetention(cfg.Retention), history.WithLogger(zl)), nil
}
