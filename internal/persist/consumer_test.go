package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoplane/chat-pipeline/internal/model"
	"github.com/shoplane/chat-pipeline/internal/queue"
	"github.com/shoplane/chat-pipeline/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.Nop()
}

// fakeStore is a MessageStore double. It can be primed to fail a number of
// times, or to fail until released.
type fakeStore struct {
	mu        sync.Mutex
	failures  int
	failing   bool
	attempts  []time.Time
	batches   [][]model.ChatMessage
	persisted atomic.Int64
	flushed   chan int
}

func newFakeStore() *fakeStore {
	return &fakeStore{flushed: make(chan int, 64)}
}

func (s *fakeStore) failNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *fakeStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *fakeStore) InsertMessages(ctx context.Context, msgs []model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, time.Now())
	if s.failing || s.failures > 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("store unavailable")
	}

	s.batches = append(s.batches, append([]model.ChatMessage(nil), msgs...))
	s.persisted.Add(int64(len(msgs)))

	select {
	case s.flushed <- len(msgs):
	default:
	}
	return nil
}

func (s *fakeStore) rows() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.ChatMessage
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func (s *fakeStore) attemptTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.attempts...)
}

func (s *fakeStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// recordingSub wraps a subscription and records commits together with how
// many rows the store held at commit time.
type recordingSub struct {
	*queue.MemorySubscription
	store *fakeStore

	mu      sync.Mutex
	commits []commitRecord
}

type commitRecord struct {
	partition       int
	offset          int64
	persistedBefore int64
}

func (r *recordingSub) Commit(ctx context.Context, partition int, offset int64) error {
	r.mu.Lock()
	r.commits = append(r.commits, commitRecord{
		partition:       partition,
		offset:          offset,
		persistedBefore: r.store.persisted.Load(),
	})
	r.mu.Unlock()
	return r.MemorySubscription.Commit(ctx, partition, offset)
}

func (r *recordingSub) committed() []commitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]commitRecord(nil), r.commits...)
}

func publishMsg(t *testing.T, q *queue.Memory, conversationID, senderID string, st model.SenderType, content string) {
	t.Helper()

	data, err := json.Marshal(model.ChatMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     st,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := q.Publish(context.Background(), conversationID, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFlushAfterWindow(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(1)
	publishMsg(t, q, "c1", "7", model.SenderUser, "hi, is this still available?")
	publishMsg(t, q, "c1", "42", model.SenderSeller, "yes it is")
	publishMsg(t, q, "c1", "7", model.SenderUser, "great, I'll take it")

	st := newFakeStore()
	sub := q.Subscribe()
	c := New(sub, st, Config{FlushInterval: 200 * time.Millisecond, HighWaterMark: 100, LowWaterMark: 10, BackoffCeiling: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Nothing is in the store before the flush window elapses.
	time.Sleep(80 * time.Millisecond)
	if n := len(st.rows()); n != 0 {
		t.Fatalf("store has %d rows before flush window", n)
	}

	waitFor(t, 2*time.Second, "flush", func() bool { return len(st.rows()) == 3 })

	rows := st.rows()
	wantContent := []string{"hi, is this still available?", "yes it is", "great, I'll take it"}
	for i, row := range rows {
		if row.ConversationID != "c1" || row.Content != wantContent[i] {
			t.Fatalf("row %d = %+v, want content %q", i, row, wantContent[i])
		}
	}

	cancel()
	<-done
}

func TestRetryPreservesBatchAndBacksOff(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(1)
	for i := 0; i < 5; i++ {
		publishMsg(t, q, "c1", "7", model.SenderUser, fmt.Sprintf("m-%d", i))
	}

	st := newFakeStore()
	st.failNext(2)

	sub := q.Subscribe()
	base := 60 * time.Millisecond
	c := New(sub, st, Config{FlushInterval: base, HighWaterMark: 100, LowWaterMark: 10, BackoffCeiling: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, 3*time.Second, "successful flush", func() bool { return len(st.rows()) == 5 })

	// The batch that finally landed is identical to the one that would have
	// landed on first success: same records, same order, nothing dropped.
	rows := st.rows()
	for i, row := range rows {
		if want := fmt.Sprintf("m-%d", i); row.Content != want {
			t.Fatalf("row %d content = %q, want %q", i, row.Content, want)
		}
	}

	attempts := st.attemptTimes()
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", len(attempts))
	}

	// Retry intervals double: first retry after ~base, second after ~2*base.
	gap1 := attempts[1].Sub(attempts[0])
	gap2 := attempts[2].Sub(attempts[1])
	if gap1 < base/2 {
		t.Fatalf("first retry after %v, want at least %v", gap1, base/2)
	}
	if gap2 < gap1 {
		t.Fatalf("second retry gap %v not longer than first %v", gap2, gap1)
	}

	cancel()
	<-done
}

func TestBackpressurePauseAndResume(t *testing.T) {
	t.Parallel()

	const (
		high  = 8
		low   = 4
		total = 30
	)

	q := queue.NewMemory(1)
	st := newFakeStore()
	st.setFailing(true)

	inner := q.Subscribe()
	sub := &recordingSub{MemorySubscription: inner, store: st}
	c := New(sub, st, Config{FlushInterval: 40 * time.Millisecond, HighWaterMark: high, LowWaterMark: low, BackoffCeiling: 200 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < total; i++ {
		publishMsg(t, q, "c1", "7", model.SenderUser, fmt.Sprintf("m-%d", i))
	}

	// The consumer pauses intake once the buffer reaches the high-water mark.
	waitFor(t, 2*time.Second, "pause", inner.Paused)

	// Downstream recovers; everything drains, intake resumes.
	st.setFailing(false)
	waitFor(t, 5*time.Second, "drain", func() bool { return len(st.rows()) == total })
	waitFor(t, 2*time.Second, "resume", func() bool { return !inner.Paused() })

	// No record was lost or duplicated across the pause/retry cycle, and
	// order held.
	rows := st.rows()
	for i, row := range rows {
		if want := fmt.Sprintf("m-%d", i); row.Content != want {
			t.Fatalf("row %d content = %q, want %q", i, row.Content, want)
		}
	}

	// Each flush snapshot was bounded by the paused buffer, never the whole
	// backlog.
	for _, size := range st.batchSizes() {
		if size > high+1 {
			t.Fatalf("flush of %d records exceeds high-water bound %d", size, high+1)
		}
	}

	cancel()
	<-done
}

func TestOffsetsCommittedAfterDurableWrite(t *testing.T) {
	t.Parallel()

	const total = 12

	q := queue.NewMemory(1)
	st := newFakeStore()
	st.failNext(1)

	inner := q.Subscribe()
	sub := &recordingSub{MemorySubscription: inner, store: st}
	c := New(sub, st, Config{FlushInterval: 50 * time.Millisecond, HighWaterMark: 5, LowWaterMark: 2, BackoffCeiling: 300 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < total; i++ {
		publishMsg(t, q, "c1", "7", model.SenderUser, fmt.Sprintf("m-%d", i))
	}

	waitFor(t, 5*time.Second, "drain", func() bool { return len(st.rows()) == total })
	waitFor(t, 2*time.Second, "final commit", func() bool {
		return q.Committed(0) == total
	})

	commits := sub.committed()
	if len(commits) == 0 {
		t.Fatal("no commits recorded")
	}

	var last int64 = -1
	for i, cr := range commits {
		// Monotone, never rolled back.
		if cr.offset < last {
			t.Fatalf("commit %d offset %d below previous %d", i, cr.offset, last)
		}
		last = cr.offset

		// Every committed offset was durably written first: with offsets
		// 0..n-1 the committed offset can never exceed the persisted row
		// count at commit time.
		if cr.offset > cr.persistedBefore {
			t.Fatalf("commit %d offset %d ahead of %d persisted rows", i, cr.offset, cr.persistedBefore)
		}
	}

	cancel()
	<-done
}

func TestUndecodableRecordSkipped(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(1)
	if err := q.Publish(context.Background(), "c1", []byte("{not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	publishMsg(t, q, "c1", "7", model.SenderUser, "hello")
	publishMsg(t, q, "c1", "42", model.SenderSeller, "hey")

	st := newFakeStore()
	sub := q.Subscribe()
	c := New(sub, st, Config{FlushInterval: 50 * time.Millisecond, HighWaterMark: 100, LowWaterMark: 10, BackoffCeiling: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, 2*time.Second, "flush", func() bool { return len(st.rows()) == 2 })

	// The checkpoint moves past the poison record so it never replays.
	waitFor(t, 2*time.Second, "commit past poison record", func() bool {
		return q.Committed(0) == 3
	})

	cancel()
	<-done
}

func TestFinalFlushOnShutdown(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(1)
	publishMsg(t, q, "c1", "7", model.SenderUser, "one")
	publishMsg(t, q, "c1", "42", model.SenderSeller, "two")

	st := newFakeStore()
	sub := q.Subscribe()
	// Flush window far beyond the test's lifetime; only shutdown flushes.
	c := New(sub, st, Config{FlushInterval: time.Hour, HighWaterMark: 100, LowWaterMark: 10, BackoffCeiling: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the records reach the buffer, then shut down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	rows := st.rows()
	if len(rows) != 2 || rows[0].Content != "one" || rows[1].Content != "two" {
		t.Fatalf("final flush persisted %+v", rows)
	}
}
