// Package unseen maintains per (recipient identity, conversation) unread
// counters in the shared cache. The cache is the single source of truth for
// unseen counts; counters are not derived from the persisted message rows.
package unseen

import (
	"context"
)

// Ledger is the unread-counter contract. Increment must be atomic per key so
// concurrent routed messages never lose a count.
type Ledger interface {
	// Increment bumps the counter and returns the new value.
	Increment(ctx context.Context, identityKey, conversationID string) (int64, error)

	// Clear resets the counter to zero in response to a seen signal.
	Clear(ctx context.Context, identityKey, conversationID string) error

	// Get returns the current counter value, zero when absent.
	Get(ctx context.Context, identityKey, conversationID string) (int64, error)
}

func key(identityKey, conversationID string) string {
	return "unseen:" + identityKey + ":" + conversationID
}
