package unseen

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for development and tests.
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryLedger creates an in-process unseen ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counts: make(map[string]int64)}
}

// Increment bumps the counter and returns the new value.
func (l *MemoryLedger) Increment(ctx context.Context, identityKey, conversationID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(identityKey, conversationID)
	l.counts[k]++
	return l.counts[k], nil
}

// Clear resets the counter.
func (l *MemoryLedger) Clear(ctx context.Context, identityKey, conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key(identityKey, conversationID))
	return nil
}

// Get returns the current counter.
func (l *MemoryLedger) Get(ctx context.Context, identityKey, conversationID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key(identityKey, conversationID)], nil
}
