package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStmts create the history table used by the postgres backend.
var schemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS chat_turns (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		message         TEXT NOT NULL,
		speaker         TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// Window reads are "last N turns of one conversation"
	`CREATE INDEX IF NOT EXISTS chat_turns_conversation_idx
		ON chat_turns (conversation_id, id DESC)`,
}

// ensureSchema applies schemaStmts. Idempotent; runs on every start.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schemaStmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema stmt %d: %w", i, err)
		}
	}
	return nil
}
