package presence

// Integration tests are enabled when CHAT_REDIS_ADDR is set.

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func mustOpenTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("CHAT_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: CHAT_REDIS_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}

func TestLedger_OnlineOffline(t *testing.T) {
	t.Parallel()

	client := mustOpenTestRedis(t)
	t.Cleanup(func() { client.Close() })

	ledger := New(client, 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity := "user_it-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key(identity)) })

	if ok, err := ledger.IsOnline(ctx, identity); err != nil || ok {
		t.Fatalf("unknown identity online = %v, %v", ok, err)
	}

	if err := ledger.MarkOnline(ctx, identity); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if ok, err := ledger.IsOnline(ctx, identity); err != nil || !ok {
		t.Fatalf("identity online = %v, %v after MarkOnline", ok, err)
	}

	// Entries carry a TTL so a crashed gateway cannot leave them forever.
	ttl, err := client.TTL(ctx, key(identity)).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("presence entry TTL = %v", ttl)
	}

	if err := ledger.MarkOffline(ctx, identity); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if ok, err := ledger.IsOnline(ctx, identity); err != nil || ok {
		t.Fatalf("identity online = %v, %v after MarkOffline", ok, err)
	}
}
