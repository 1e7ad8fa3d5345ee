// Package persist drains the durable queue into the relational store.
//
// The batch consumer is a single-owner loop: record intake, timer-driven
// flushes, and retry-driven flushes all run on one goroutine selecting
// between the record channel and the flush timer, so buffer state never needs
// a lock. Offsets are committed strictly after the corresponding records are
// durably written, giving at-least-once delivery into the store.
package persist

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/model"
	"github.com/shoplane/chat-pipeline/internal/queue"
	"github.com/shoplane/chat-pipeline/internal/store"
	"github.com/shoplane/chat-pipeline/pkg/logger"
	"github.com/shoplane/chat-pipeline/pkg/metrics"
)

// BufferedRecord is a chat message annotated with its source-queue
// coordinates while it waits in the consumer's buffer.
type BufferedRecord struct {
	Message   model.ChatMessage
	Partition int
	Offset    int64
}

// Config tunes the consumer's flush and backpressure behavior.
type Config struct {
	// FlushInterval is armed when the first record enters an empty buffer.
	FlushInterval time.Duration

	// HighWaterMark pauses intake when the buffer reaches it.
	HighWaterMark int

	// LowWaterMark resumes intake once the buffer drains to or below it.
	LowWaterMark int

	// BackoffCeiling caps the doubling retry interval after failed flushes.
	BackoffCeiling time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 3 * time.Second
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 5000
	}
	if c.LowWaterMark <= 0 || c.LowWaterMark >= c.HighWaterMark {
		c.LowWaterMark = c.HighWaterMark / 2
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 60 * time.Second
	}
	return c
}

// Consumer accumulates queue records and flushes them as bulk writes.
type Consumer struct {
	sub   queue.Subscription
	store store.MessageStore
	log   *logger.Logger
	cfg   Config

	buf     []BufferedRecord
	paused  bool
	retry   *backoff
	skipped map[int]int64 // partition -> next offset past undecodable records

	timer   *time.Timer
	timerCh <-chan time.Time
}

// New creates a batch persistence consumer over a subscription.
func New(sub queue.Subscription, st store.MessageStore, cfg Config, log *logger.Logger) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		sub:     sub,
		store:   st,
		log:     log,
		cfg:     cfg,
		retry:   newBackoff(cfg.FlushInterval, cfg.BackoffCeiling),
		skipped: make(map[int]int64),
	}
}

// Run drives the consumer until the context is cancelled or the subscription
// channel closes. On shutdown it makes one final flush attempt; anything
// still unwritten replays from the last committed offset on restart.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.disarmTimer()

	for {
		select {
		case <-ctx.Done():
			c.finalFlush()
			return ctx.Err()

		case rec, ok := <-c.sub.Records():
			if !ok {
				c.finalFlush()
				return nil
			}
			c.ingest(ctx, rec)

		case <-c.timerCh:
			c.timer = nil
			c.timerCh = nil
			c.flush(ctx)
		}
	}
}

func (c *Consumer) ingest(ctx context.Context, rec queue.Record) {
	var msg model.ChatMessage
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		c.log.Warn("undecodable record dropped",
			zap.Int("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.Error(err),
		)
		// Remember the position so a later commit moves past the poison
		// record instead of replaying it forever.
		if rec.Offset+1 > c.skipped[rec.Partition] {
			c.skipped[rec.Partition] = rec.Offset + 1
		}
		return
	}

	wasEmpty := len(c.buf) == 0
	c.buf = append(c.buf, BufferedRecord{
		Message:   msg,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	})
	metrics.ConsumerBufferSize.Set(float64(len(c.buf)))

	if wasEmpty {
		c.armTimer(c.cfg.FlushInterval)
	}

	if len(c.buf) >= c.cfg.HighWaterMark {
		c.pause()
		c.flush(ctx)
	}
}

// flush snapshots the buffer and attempts one bulk write. On failure the
// snapshot is re-inserted at the front of the buffer so it retries before
// newer records, and the retry timer is re-armed with a doubled interval.
func (c *Consumer) flush(ctx context.Context) {
	c.disarmTimer()

	if len(c.buf) == 0 {
		c.maybeResume()
		return
	}

	snapshot := c.buf
	c.buf = nil

	msgs := make([]model.ChatMessage, len(snapshot))
	for i, r := range snapshot {
		msgs[i] = r.Message
	}

	start := time.Now()
	err := c.store.InsertMessages(ctx, msgs)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.FlushDuration.WithLabelValues("failure").Observe(elapsed)
		metrics.FlushedRecords.WithLabelValues("failure").Add(float64(len(snapshot)))

		c.buf = append(snapshot, c.buf...)
		metrics.ConsumerBufferSize.Set(float64(len(c.buf)))

		if len(c.buf) >= c.cfg.HighWaterMark {
			c.pause()
		}

		d := c.retry.Next()
		c.log.Warn("flush failed, retrying",
			zap.Int("records", len(snapshot)),
			zap.Duration("retry_in", d),
			zap.Error(err),
		)
		c.armTimer(d)
		return
	}

	metrics.FlushDuration.WithLabelValues("success").Observe(elapsed)
	metrics.FlushedRecords.WithLabelValues("success").Add(float64(len(snapshot)))
	metrics.ConsumerBufferSize.Set(float64(len(c.buf)))

	c.retry.Reset()
	c.commitOffsets(ctx, snapshot)
	c.maybeResume()
}

// commitOffsets advances the consumer checkpoint to one past the highest
// offset written per partition. This runs only after a successful bulk
// write; a failed commit is logged, not retried, because restart then merely
// replays the already-written batch.
func (c *Consumer) commitOffsets(ctx context.Context, snapshot []BufferedRecord) {
	next := make(map[int]int64)
	for _, r := range snapshot {
		if r.Offset+1 > next[r.Partition] {
			next[r.Partition] = r.Offset + 1
		}
	}
	for p, o := range c.skipped {
		if o > next[p] {
			next[p] = o
		}
	}
	c.skipped = make(map[int]int64)

	for p, o := range next {
		if err := c.sub.Commit(ctx, p, o); err != nil {
			c.log.Error("offset commit failed",
				zap.Int("partition", p),
				zap.Int64("offset", o),
				zap.Error(err),
			)
			continue
		}
		metrics.CommittedOffset.WithLabelValues(strconv.Itoa(p)).Set(float64(o))
	}
}

func (c *Consumer) pause() {
	if c.paused {
		return
	}
	c.paused = true
	c.sub.Pause()
	metrics.SubscriptionPauses.WithLabelValues("pause").Inc()
	c.log.Info("subscription paused", zap.Int("buffered", len(c.buf)))
}

func (c *Consumer) maybeResume() {
	if !c.paused || len(c.buf) > c.cfg.LowWaterMark {
		return
	}
	c.paused = false
	c.sub.Resume()
	metrics.SubscriptionPauses.WithLabelValues("resume").Inc()
	c.log.Info("subscription resumed", zap.Int("buffered", len(c.buf)))
}

func (c *Consumer) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.flush(ctx)
}

func (c *Consumer) armTimer(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.NewTimer(d)
	c.timerCh = c.timer.C
}

func (c *Consumer) disarmTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerCh = nil
}
