package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplane/chat-pipeline/internal/model"
)

const messagesTable = "chat_messages"

// PostgresStore implements MessageStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the messages table when missing. Rows have a serial
// primary key assigned at insert time; the pipeline assigns none earlier.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+messagesTable+` (
		    id              BIGSERIAL PRIMARY KEY,
		    conversation_id TEXT        NOT NULL,
		    sender_id       TEXT        NOT NULL,
		    sender_type     TEXT        NOT NULL,
		    content         TEXT        NOT NULL,
		    created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_messages_conversation_idx
		    ON `+messagesTable+` (conversation_id, id);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertMessages bulk-writes the batch inside one transaction, preserving
// slice order so read-back by insertion order matches publish order.
func (s *PostgresStore) InsertMessages(ctx context.Context, msgs []model.ChatMessage) error {
	if s == nil || s.pool == nil {
		return errors.New("store: nil pool")
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			`INSERT INTO `+messagesTable+` (conversation_id, sender_id, sender_type, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			m.ConversationID, m.SenderID, string(m.SenderType), m.Content, m.CreatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range msgs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks the pool for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
