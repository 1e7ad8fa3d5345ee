package unseen

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements Ledger on the shared redis cache using its atomic
// INCR primitive.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a redis-backed unseen ledger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// Increment bumps the counter atomically and returns the new value.
func (l *RedisLedger) Increment(ctx context.Context, identityKey, conversationID string) (int64, error) {
	n, err := l.client.Incr(ctx, key(identityKey, conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment unseen %s/%s: %w", identityKey, conversationID, err)
	}
	return n, nil
}

// Clear deletes the counter.
func (l *RedisLedger) Clear(ctx context.Context, identityKey, conversationID string) error {
	if err := l.client.Del(ctx, key(identityKey, conversationID)).Err(); err != nil {
		return fmt.Errorf("clear unseen %s/%s: %w", identityKey, conversationID, err)
	}
	return nil
}

// Get returns the current counter, zero when the key is absent.
func (l *RedisLedger) Get(ctx context.Context, identityKey, conversationID string) (int64, error) {
	n, err := l.client.Get(ctx, key(identityKey, conversationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get unseen %s/%s: %w", identityKey, conversationID, err)
	}
	return n, nil
}
