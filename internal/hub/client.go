package hub

import (
	"sync"
	"time"

	"mysql-livefeed/internal/models"
)

// Conn is the one-subscriber transport the hub needs: write one JSON message,
// bounded by a deadline, and close. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live subscriber. Live messages are enqueued on a bounded
// channel; the snapshot travels on its own channel so it is always written
// before any live event, even ones enqueued while the snapshot was loading.
type Client struct {
	hub     *Hub
	conn    Conn
	send    chan *models.Message
	initial chan *models.Message

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, conn Conn) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan *models.Message, h.sendBuffer),
		initial: make(chan *models.Message, 1),
	}
}

// trySend enqueues a live message without blocking. A full buffer reports
// false so the hub can drop the subscriber; an already closed client reports
// true because there is nothing left to deliver to.
func (c *Client) trySend(msg *models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// deliverInitial hands the snapshot message to the write pump. Called at most
// once per client, right after registration.
func (c *Client) deliverInitial(msg *models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.initial <- msg
}

// close marks the client dead and releases the pump. Idempotent; reports
// whether this call did the closing.
func (c *Client) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	close(c.initial)
	close(c.send)
	c.mu.Unlock()

	c.conn.Close()
	return true
}

// writePump owns all writes to the connection: snapshot first, then live
// messages in publish order. Any write failure drops the client.
func (c *Client) writePump() {
	msg, ok := <-c.initial
	if !ok {
		return
	}
	if err := c.write(msg); err != nil {
		c.hub.drop(c, "snapshot write failed", err)
		return
	}

	for msg := range c.send {
		// A drop can race the pump; never write to a connection that is
		// already considered closed.
		if c.isClosed() {
			return
		}
		if err := c.write(msg); err != nil {
			c.hub.drop(c, "write failed", err)
			return
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) write(msg *models.Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.conn.WriteJSON(msg)
}
