package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/queue"
	"github.com/shoplane/chat-pipeline/pkg/logger"
)

const (
	// StreamName is the name of the chat messages stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all chat message subjects.
	SubjectPrefix = "chat.msg"
)

// MessageSubject returns the subject for a conversation's messages. The
// conversation id is the ordering key: one subject per conversation inside a
// single stream keeps messages for a conversation strictly ordered.
func MessageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, conversationID)
}

func conversationFromSubject(subject string) string {
	return strings.TrimPrefix(subject, SubjectPrefix+".")
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the chat messages stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat messages awaiting durable persistence",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Producer publishes chat messages to the stream. It implements
// queue.Publisher; the key is the conversation id.
type Producer struct {
	client *Client
}

// NewProducer creates a stream producer.
func NewProducer(client *Client) *Producer {
	return &Producer{client: client}
}

// Publish appends a record to the conversation's subject.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if _, err := p.client.JetStream().Publish(ctx, MessageSubject(key), value); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close implements queue.Publisher. The underlying connection is owned by the
// Client and closed there.
func (p *Producer) Close() error { return nil }

// SubscriptionConfig tunes the pull subscription.
type SubscriptionConfig struct {
	ConsumerName  string
	FetchBatch    int
	FetchMaxWait  time.Duration
	AckWait       time.Duration
	LivenessEvery time.Duration
}

// PullSubscription is a durable pull consumer over the chat stream that
// implements queue.Subscription.
//
// JetStream has a single sequence per stream rather than Kafka-style
// partitions, so records report partition 0 with the stream sequence as their
// offset. The consumer uses AckAllPolicy: acking the record at sequence N
// acknowledges everything at or before N, which is exactly the
// commit-after-durable-write contract. While a long batch window is open, the
// liveness loop extends the ack deadline of every outstanding record so the
// broker does not redeliver mid-batch.
type PullSubscription struct {
	consumer jetstream.Consumer
	log      *logger.Logger

	ch   chan queue.Record
	done chan struct{}
	wg   sync.WaitGroup

	fetchBatch    int
	fetchMaxWait  time.Duration
	livenessEvery time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	closed  bool
	pending map[int64]jetstream.Msg

	closeOnce sync.Once
}

// NewPullSubscription creates the durable consumer and starts intake.
func NewPullSubscription(ctx context.Context, client *Client, cfg SubscriptionConfig, log *logger.Logger) (*PullSubscription, error) {
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 500
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 2 * time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.LivenessEvery <= 0 {
		cfg.LivenessEvery = cfg.AckWait / 3
	}

	consumer, err := client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckAllPolicy,
		AckWait:       cfg.AckWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: fmt.Sprintf("%s.>", SubjectPrefix),
		MaxAckPending: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	s := &PullSubscription{
		consumer:      consumer,
		log:           log,
		ch:            make(chan queue.Record),
		done:          make(chan struct{}),
		fetchBatch:    cfg.FetchBatch,
		fetchMaxWait:  cfg.FetchMaxWait,
		livenessEvery: cfg.LivenessEvery,
		pending:       make(map[int64]jetstream.Msg),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(2)
	go s.fetchLoop()
	go s.livenessLoop()

	return s, nil
}

// Records returns the intake channel.
func (s *PullSubscription) Records() <-chan queue.Record { return s.ch }

// Pause stops new fetches. Records already fetched are still delivered.
func (s *PullSubscription) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts fetching. No-op when the subscription is not paused.
func (s *PullSubscription) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Commit acknowledges every record on the partition with an offset strictly
// below the given one. With AckAllPolicy a single ack of the highest covered
// record is sufficient.
func (s *PullSubscription) Commit(ctx context.Context, partition int, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	var highest int64 = -1
	for seq := range s.pending {
		if seq < offset && seq > highest {
			highest = seq
		}
	}
	var msg jetstream.Msg
	if highest >= 0 {
		msg = s.pending[highest]
		for seq := range s.pending {
			if seq <= highest {
				delete(s.pending, seq)
			}
		}
	}
	s.mu.Unlock()

	if msg == nil {
		// Nothing outstanding below the offset; already covered by an
		// earlier ack.
		return nil
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack sequence %d: %w", highest, err)
	}
	return nil
}

// Close stops the fetch and liveness loops and closes the record channel.
func (s *PullSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cond.Broadcast()
		s.wg.Wait()
		close(s.ch)
	})
	return nil
}

func (s *PullSubscription) fetchLoop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.paused && !s.closed {
			s.cond.Wait()
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		batch, err := s.consumer.Fetch(s.fetchBatch, jetstream.FetchMaxWait(s.fetchMaxWait))
		if err != nil {
			s.log.Warn("fetch failed", zap.Error(err))
			select {
			case <-s.done:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for msg := range batch.Messages() {
			meta, err := msg.Metadata()
			if err != nil {
				s.log.Warn("message without metadata dropped", zap.Error(err))
				continue
			}

			rec := queue.Record{
				Key:       conversationFromSubject(msg.Subject()),
				Value:     msg.Data(),
				Partition: 0,
				Offset:    int64(meta.Sequence.Stream),
				Timestamp: meta.Timestamp,
			}

			s.mu.Lock()
			s.pending[rec.Offset] = msg
			s.mu.Unlock()

			select {
			case s.ch <- rec:
			case <-s.done:
				return
			}
		}
		if err := batch.Error(); err != nil {
			s.log.Warn("fetch batch error", zap.Error(err))
		}
	}
}

// livenessLoop extends ack deadlines for all outstanding records so that the
// broker keeps this consumer alive through long accumulation windows.
func (s *PullSubscription) livenessLoop() {
	defer s.wg.Done()

	t := time.NewTicker(s.livenessEvery)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.mu.Lock()
			msgs := make([]jetstream.Msg, 0, len(s.pending))
			for _, m := range s.pending {
				msgs = append(msgs, m)
			}
			s.mu.Unlock()

			for _, m := range msgs {
				if err := m.InProgress(); err != nil {
					s.log.Warn("failed to extend ack deadline", zap.Error(err))
				}
			}
		}
	}
}
