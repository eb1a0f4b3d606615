package gateway

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// sendBuffer is the per-connection outbound queue depth. A slow reader
// that falls this far behind starts losing events; it is expected to
// resync via a history fetch.
const sendBuffer = 64

// ErrSendBufferFull is returned when a connection's outbound queue is
// full and the event was dropped.
var ErrSendBufferFull = errors.New("gateway: connection send buffer full")

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("gateway: connection closed")

// socket abstracts the underlying websocket for testing.
type socket interface {
	WriteJSON(v any) error
	Close() error
}

// Conn is a single live gateway connection owned by one user. All
// writes go through a buffered channel drained by one writer goroutine,
// so events are delivered in the order they were enqueued.
type Conn struct {
	ID     uuid.UUID
	UserID uuid.UUID

	sock      socket
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(userID uuid.UUID, sock socket) *Conn {
	return &Conn{
		UserID: userID,
		sock:   sock,
		send:   make(chan Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues an event for delivery. It never blocks: a full buffer
// or closed connection drops the event and reports an error.
func (c *Conn) Send(ev Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// writeLoop drains the send queue onto the socket. A write failure
// closes the connection; queued events after the failure are discarded.
func (c *Conn) writeLoop() {
	for {
		select {
		case ev := <-c.send:
			if err := c.sock.WriteJSON(ev); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}
