package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists messages in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id TEXT NOT NULL,
			id BIGINT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			has_text BOOLEAN NOT NULL DEFAULT FALSE,
			is_media BOOLEAN NOT NULL DEFAULT FALSE,
			media_type TEXT NOT NULL DEFAULT '',
			is_forwarded BOOLEAN NOT NULL DEFAULT FALSE,
			original_id BIGINT NOT NULL DEFAULT 0,
			source_lang TEXT NOT NULL DEFAULT '',
			target_lang TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (chat_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages (ts);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) SaveMessage(ctx context.Context, msg StoredMessage) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO messages (chat_id, id, sender_id, sender_name, ts, body, has_text,
			is_media, media_type, is_forwarded, original_id, source_lang, target_lang)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		msg.ChatID,
		int64(msg.ID),
		msg.SenderID,
		msg.SenderName,
		msg.Timestamp,
		msg.Text,
		msg.HasText,
		msg.IsMedia,
		msg.MediaType,
		msg.IsForwarded,
		int64(msg.OriginalID),
		msg.SourceLang,
		msg.TargetLang,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (b *PostgresBackend) LoadMessages(ctx context.Context) ([]StoredMessage, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT chat_id, id, sender_id, sender_name, ts, body, has_text,
			is_media, media_type, is_forwarded, original_id, source_lang, target_lang
		 FROM messages ORDER BY chat_id, id`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var id, originalID int64
		if err := rows.Scan(&m.ChatID, &id, &m.SenderID, &m.SenderName, &m.Timestamp,
			&m.Text, &m.HasText, &m.IsMedia, &m.MediaType, &m.IsForwarded,
			&originalID, &m.SourceLang, &m.TargetLang); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.ID = uint64(id)
		m.OriginalID = uint64(originalID)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM messages WHERE (chat_id, id) IN (
			SELECT chat_id, id FROM messages WHERE ts < $1 ORDER BY ts LIMIT $2
		)`,
		cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) DeleteAll(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, `TRUNCATE messages`); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
