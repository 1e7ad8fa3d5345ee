package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Memory is an in-process queue implementation. It backs the development
// QUEUE_DRIVER=memory mode and the consumer tests, and keeps the same
// contract as the JetStream binding: per-partition ordering, manual commits,
// replay from the committed offset on resubscribe.
type Memory struct {
	mu        sync.Mutex
	cond      *sync.Cond
	parts     [][]Record
	committed []int64
}

// NewMemory creates an in-process queue with the given partition count.
func NewMemory(partitions int) *Memory {
	if partitions <= 0 {
		partitions = 1
	}
	m := &Memory{
		parts:     make([][]Record, partitions),
		committed: make([]int64, partitions),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish appends a record to the partition owned by key.
func (m *Memory) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := m.partitionFor(key)

	m.mu.Lock()
	rec := Record{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Partition: p,
		Offset:    int64(len(m.parts[p])),
		Timestamp: time.Now().UTC(),
	}
	m.parts[p] = append(m.parts[p], rec)
	m.mu.Unlock()

	m.cond.Broadcast()
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }

// Committed returns the committed offset for a partition.
func (m *Memory) Committed(partition int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if partition < 0 || partition >= len(m.committed) {
		return 0
	}
	return m.committed[partition]
}

// Len returns the number of records appended to a partition.
func (m *Memory) Len(partition int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if partition < 0 || partition >= len(m.parts) {
		return 0
	}
	return len(m.parts[partition])
}

func (m *Memory) partitionFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.parts)))
}

// Subscribe starts intake from the last committed offset of every partition.
func (m *Memory) Subscribe() *MemorySubscription {
	m.mu.Lock()
	next := make([]int64, len(m.committed))
	copy(next, m.committed)
	m.mu.Unlock()

	s := &MemorySubscription{
		q:    m,
		ch:   make(chan Record),
		done: make(chan struct{}),
		next: next,
	}
	go s.pump()
	return s
}

// MemorySubscription implements Subscription over a Memory queue.
type MemorySubscription struct {
	q    *Memory
	ch   chan Record
	done chan struct{}

	// guarded by q.mu
	next   []int64
	paused bool
	closed bool
}

// Records returns the intake channel. It is closed when the subscription is.
func (s *MemorySubscription) Records() <-chan Record { return s.ch }

// Pause stops new records from being pulled. Idempotent.
func (s *MemorySubscription) Pause() {
	s.q.mu.Lock()
	s.paused = true
	s.q.mu.Unlock()
}

// Resume restarts intake. Resuming an active subscription is a no-op.
func (s *MemorySubscription) Resume() {
	s.q.mu.Lock()
	if !s.paused {
		s.q.mu.Unlock()
		return
	}
	s.paused = false
	s.q.mu.Unlock()
	s.q.cond.Broadcast()
}

// Paused reports the pause state.
func (s *MemorySubscription) Paused() bool {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.paused
}

// Commit advances the committed offset for a partition. Offsets never move
// backwards.
func (s *MemorySubscription) Commit(ctx context.Context, partition int, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if partition < 0 || partition >= len(s.q.committed) {
		return fmt.Errorf("commit: unknown partition %d", partition)
	}
	if offset > s.q.committed[partition] {
		s.q.committed[partition] = offset
	}
	return nil
}

// Close stops the pump and closes the record channel.
func (s *MemorySubscription) Close() error {
	s.q.mu.Lock()
	if s.closed {
		s.q.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.q.mu.Unlock()
	s.q.cond.Broadcast()
	return nil
}

func (s *MemorySubscription) pump() {
	defer close(s.ch)

	for {
		s.q.mu.Lock()
		for !s.closed && (s.paused || !s.available()) {
			s.q.cond.Wait()
		}
		if s.closed {
			s.q.mu.Unlock()
			return
		}
		rec, ok := s.take()
		s.q.mu.Unlock()

		if !ok {
			continue
		}

		select {
		case s.ch <- rec:
		case <-s.done:
			return
		}
	}
}

// available reports whether any partition has an undelivered record.
// Caller holds q.mu.
func (s *MemorySubscription) available() bool {
	for p := range s.q.parts {
		if s.next[p] < int64(len(s.q.parts[p])) {
			return true
		}
	}
	return false
}

// take pops the next undelivered record, scanning partitions in order.
// Caller holds q.mu.
func (s *MemorySubscription) take() (Record, bool) {
	for p := range s.q.parts {
		if s.next[p] < int64(len(s.q.parts[p])) {
			rec := s.q.parts[p][s.next[p]]
			s.next[p]++
			return rec, true
		}
	}
	return Record{}, false
}
