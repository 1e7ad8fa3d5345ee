package store

// Integration tests are enabled when CHAT_DATABASE_URL is set.
// This keeps local "go test ./..." fast without requiring Postgres.

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shoplane/chat-pipeline/internal/model"
)

func mustOpenTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("CHAT_DATABASE_URL"))
	if dsn == "" {
		t.Skip("integration test skipped: CHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func TestPostgresStore_InsertMessages(t *testing.T) {
	t.Parallel()

	st := mustOpenTestStore(t)
	t.Cleanup(st.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conversation := "conv-it-" + uuid.NewString()
	t.Cleanup(func() {
		st.pool.Exec(context.Background(),
			`DELETE FROM `+messagesTable+` WHERE conversation_id = $1`, conversation)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	batch := make([]model.ChatMessage, 0, 10)
	for i := 0; i < 10; i++ {
		sender, role := "7", model.SenderUser
		if i%2 == 1 {
			sender, role = "42", model.SenderSeller
		}
		batch = append(batch, model.ChatMessage{
			ConversationID: conversation,
			SenderID:       sender,
			SenderType:     role,
			Content:        fmt.Sprintf("m-%d", i),
			CreatedAt:      now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	if err := st.InsertMessages(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Read back by serial id: insertion order is publish order.
	rows, err := st.pool.Query(ctx,
		`SELECT sender_id, sender_type, content, created_at
		   FROM `+messagesTable+`
		  WHERE conversation_id = $1
		  ORDER BY id`, conversation)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var got []model.ChatMessage
	for rows.Next() {
		m := model.ChatMessage{ConversationID: conversation}
		var senderType string
		if err := rows.Scan(&m.SenderID, &senderType, &m.Content, &m.CreatedAt); err != nil {
			t.Fatalf("scan: %v", err)
		}
		m.SenderType = model.SenderType(senderType)
		got = append(got, m)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	if len(got) != len(batch) {
		t.Fatalf("read back %d rows, want %d", len(got), len(batch))
	}
	for i := range batch {
		if got[i].Content != batch[i].Content || got[i].SenderID != batch[i].SenderID || got[i].SenderType != batch[i].SenderType {
			t.Fatalf("row %d = %+v, want %+v", i, got[i], batch[i])
		}
	}
}

func TestPostgresStore_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	st := mustOpenTestStore(t)
	t.Cleanup(st.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.InsertMessages(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}
