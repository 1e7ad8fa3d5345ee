// Package presence records which identities are currently reachable.
//
// Presence is advisory only: a missing entry means "skip the synchronous
// delivery attempt", never "the message cannot be delivered". Entries carry a
// fixed TTL set on identify and are deleted on clean close; there is no
// refresh while a connection stays open.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// Ledger stores liveness entries in the shared cache.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a presence ledger with a fixed entry TTL.
func New(client *redis.Client, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Ledger{client: client, ttl: ttl}
}

func key(identity string) string {
	return keyPrefix + identity
}

// MarkOnline writes a liveness entry for the role-qualified identity.
func (l *Ledger) MarkOnline(ctx context.Context, identity string) error {
	if err := l.client.Set(ctx, key(identity), "1", l.ttl).Err(); err != nil {
		return fmt.Errorf("mark online %q: %w", identity, err)
	}
	return nil
}

// MarkOffline deletes the liveness entry for the identity.
func (l *Ledger) MarkOffline(ctx context.Context, identity string) error {
	if err := l.client.Del(ctx, key(identity)).Err(); err != nil {
		return fmt.Errorf("mark offline %q: %w", identity, err)
	}
	return nil
}

// IsOnline reports whether a liveness entry currently exists.
func (l *Ledger) IsOnline(ctx context.Context, identity string) (bool, error) {
	n, err := l.client.Exists(ctx, key(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup %q: %w", identity, err)
	}
	return n > 0, nil
}
