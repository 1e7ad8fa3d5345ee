// Package store holds the relational-store contract for persisted chat
// messages. The store is an external collaborator: the pipeline only needs a
// bulk insert that preserves slice order, and tolerance of duplicate rows on
// at-least-once replay.
package store

import (
	"context"

	"github.com/shoplane/chat-pipeline/internal/model"
)

// MessageStore accepts ordered bulk writes of chat messages.
type MessageStore interface {
	// InsertMessages writes the messages in slice order as one bulk
	// operation. Either all rows land or the call errors; partial writes
	// must not be visible.
	InsertMessages(ctx context.Context, msgs []model.ChatMessage) error
}
