package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"mysql-livefeed/internal/models"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second

	// Subscribers only talk back for transport control; anything bigger than
	// this is a misbehaving client.
	maxInboundMessageSize = 512
)

// EntityLister provides the full current entity set for late-joiner snapshots.
type EntityLister interface {
	ListAll(ctx context.Context) ([]map[string]interface{}, error)
}

// Hub fans every published change message out to every live subscriber and sends
// each new subscriber an INITIAL_DATA snapshot on join. One slow or dead
// subscriber never delays the rest: sends are bounded-buffer enqueues and a
// full buffer drops that subscriber only.
type Hub struct {
	entities     EntityLister
	sendBuffer   int
	writeTimeout time.Duration
	logger       *logrus.Logger
	upgrader     websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub snapshotting from entities on each join.
func NewHub(entities EntityLister, sendBuffer int, writeTimeout time.Duration, logger *logrus.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		entities:     entities,
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscriber auth is out of scope; accept any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a connection to the live set and sends it the snapshot. The
// connection is registered for live delivery before the snapshot fetch
// begins, so a change published during the fetch is never lost; it queues
// behind the snapshot. A failed snapshot fetch closes the connection; the
// subscriber is expected to reconnect.
func (h *Hub) Register(ctx context.Context, conn Conn) (*Client, error) {
	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	go client.writePump()
	h.logger.Infof("Subscriber joined (%d connected)", total)

	entities, err := h.entities.ListAll(ctx)
	if err != nil {
		h.drop(client, "snapshot fetch failed", err)
		return nil, err
	}
	client.deliverInitial(models.InitialData(entities))
	return client, nil
}

// Publish enqueues msg to every live subscriber. Never blocks on any one
// connection and never returns an error: per-subscriber failures are
// contained by dropping that subscriber.
func (h *Hub) Publish(msg *models.Message) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(msg) {
			h.drop(c, "send buffer full", nil)
		}
	}
	return nil
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client, err := h.Register(r.Context(), conn)
	if err != nil {
		return
	}
	go h.readPump(conn, client)
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every subscriber. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// drop removes a client from the live set and closes it. Safe to call from
// any goroutine and more than once per client.
func (h *Hub) drop(c *Client, reason string, err error) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	if c.close() && present {
		if err != nil {
			h.logger.Warnf("Dropping subscriber: %s: %v (%d connected)", reason, err, total)
		} else {
			h.logger.Warnf("Dropping subscriber: %s (%d connected)", reason, total)
		}
	}
}

// readPump consumes inbound frames until the connection dies. Subscribers
// never send application data; this exists to detect disconnects.
func (h *Hub) readPump(conn *websocket.Conn, client *Client) {
	conn.SetReadLimit(maxInboundMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(client, "connection closed", err)
			return
		}
	}
}
