package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps all conversations in one SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at dsn.
func OpenSQLite(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT    NOT NULL,
			message         TEXT    NOT NULL,
			speaker         TEXT    NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_conversation ON chat_turns(conversation_id, id)`,
	}
	for _, m := range migrations {
		if _, err := b.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLiteBackend) Append(ctx context.Context, conversationID string, turn Turn) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO chat_turns (conversation_id, message, speaker, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, turn.Text, turn.Speaker, turn.When.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Last(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT message, speaker, created_at FROM chat_turns
		 WHERE conversation_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ms int64
		if err := rows.Scan(&t.Text, &t.Speaker, &ms); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.When = time.UnixMilli(ms)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(turns)
	return turns, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
