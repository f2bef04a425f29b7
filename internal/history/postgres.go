package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores turns in the chat_turns table. The table is created by
// the binary at startup, not by the backend.
//
//	CREATE TABLE IF NOT EXISTS chat_turns (
//	    id              BIGSERIAL PRIMARY KEY,
//	    conversation_id TEXT NOT NULL,
//	    message         TEXT NOT NULL,
//	    speaker         TEXT NOT NULL DEFAULT '',
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Append(ctx context.Context, conversationID string, turn Turn) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO chat_turns (conversation_id, message, speaker, created_at)
		 VALUES ($1, $2, $3, $4)`,
		conversationID, turn.Text, turn.Speaker, turn.When,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Last(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT message, speaker, created_at FROM chat_turns
		 WHERE conversation_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Text, &t.Speaker, &t.When); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(turns)
	return turns, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
