package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pingInterval  = 54 * time.Second
	sendQueueSize = 256
	// maxWriteFailures bounds consecutive failed pings. Data writes
	// evict on the first failure: skipping a frame would reorder the
	// stream.
	maxWriteFailures = 3
)

// Transport is the write side of a client connection. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one live subscription for a user. A user may hold
// several at once (multi-device); each receives pushes independently.
// All writes to the transport go through a single writer goroutine
// draining a FIFO queue, which is what preserves per-conversation
// push order on this connection.
type Connection struct {
	UserId string

	hub       *Hub
	transport Transport
	send      chan any
	stop      chan struct{}
	closeOnce sync.Once
}

func newConnection(userId string, t Transport, h *Hub) *Connection {
	return &Connection{
		UserId:    userId,
		hub:       h,
		transport: t,
		send:      make(chan any, sendQueueSize),
		stop:      make(chan struct{}),
	}
}

// Enqueue queues a frame for delivery. Returns false when the queue
// is full; the caller must treat the connection as stale rather than
// skip the frame, or ordering would break.
func (c *Connection) Enqueue(v any) bool {
	select {
	case c.send <- v:
		return true
	case <-c.stop:
		return false
	default:
		return false
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.transport.Close()
		c.hub.log.Printf("writer for %q exiting", c.UserId)
	}()

	pingFailures := 0
	for {
		select {
		case v := <-c.send:
			data, err := json.Marshal(v)
			if err != nil {
				c.hub.log.Println("failed to serialize frame:", err)
				continue
			}

			// A dropped frame cannot be skipped past without breaking
			// ordering, so the first failed data write evicts and the
			// client backfills on reconnect.
			if !c.write(websocket.TextMessage, data) {
				c.hub.log.Printf("evicting stale connection for %q after failed write", c.UserId)
				c.hub.evict(c)
				return
			}
			pingFailures = 0
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				pingFailures++
				if pingFailures >= maxWriteFailures {
					c.hub.evict(c)
					return
				}
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Connection) write(msgType int, data []byte) bool {
	c.transport.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.transport.WriteMessage(msgType, data); err != nil {
		c.hub.log.Printf("write to %q: %v", c.UserId, err)
		return false
	}
	return true
}

// Close stops the writer and closes the transport. Safe to call more
// than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
}
