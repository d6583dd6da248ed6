package realtime

import (
	"sync"

	v1 "github.com/PedroAbreu017/Help-Desk-System-sub001/shared/contracts/notify/v1"
)

// Conn represents one authenticated websocket connection.
//
// Send is never closed by the server: broadcasters may still hold a pointer
// while the connection tears down, and sending on a closed channel panics.
// done signals the per-connection goroutines to stop instead.
type Conn struct {
	ConnectionID string
	UserID       string
	Role         string

	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(connectionID, userID, role string, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Conn{
		ConnectionID: connectionID,
		UserID:       userID,
		Role:         role,
		Send:         make(chan v1.Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Done returns a channel closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown. Idempotent; Send stays open.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
