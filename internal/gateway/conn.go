// Package gateway hosts the live connection registry and message router.
package gateway

import (
	"sync"

	"github.com/shoplane/chat-pipeline/internal/model"
)

// Conn is one live transport bound to a resolved identity. Sends go through a
// bounded queue drained by a single writer goroutine, so frames for one
// connection are never interleaved.
//
// The send channel is never closed by the server; done signals shutdown
// instead, which keeps concurrent routers panic-safe. Close is idempotent.
type Conn struct {
	Identity string

	send      chan model.OutboundEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(identity string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		Identity: identity,
		send:     make(chan model.OutboundEvent, queueSize),
		done:     make(chan struct{}),
	}
}

// Done is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close signals shutdown. It does not close the send channel.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Enqueue offers an event to the writer without blocking. It reports false
// when the connection is shutting down or its queue is full; a full queue
// drops the event rather than stalling the router.
func (c *Conn) Enqueue(ev model.OutboundEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}
