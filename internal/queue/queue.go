// Package queue defines the durable ordered queue contract that every chat
// message passes through before it counts as sent. Records are ordered within
// a partition; the partition key is the conversation id, so messages for one
// conversation are strictly ordered relative to each other and carry no
// ordering guarantee across conversations.
package queue

import (
	"context"
	"time"
)

// Record is one entry read from the queue, annotated with its source
// coordinates so a consumer can commit progress after a durable write.
type Record struct {
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Timestamp time.Time
}

// Publisher appends records to the queue, keyed so that all records sharing a
// key land on the same partition.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Subscription is a paused/resumed record intake with manual offset commits.
//
// Commit(partition, offset) marks every record on the partition with an
// offset strictly below the given one as consumed; it must only be called
// after those records are durably written. Pause stops new records from being
// pulled without affecting records already handed out; Resume is idempotent.
type Subscription interface {
	Records() <-chan Record
	Pause()
	Resume()
	Commit(ctx context.Context, partition int, offset int64) error
	Close() error
}
