package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// ErrHubClosed is returned by Serve after Close was called.
var ErrHubClosed = errors.New("hub closed")

type client struct {
	recipientID string
	conn        *websocket.Conn
	send        chan []byte
	once        sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub keeps the open realtime connections of every recipient and fans
// messages out to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve upgrades the request and streams messages for recipientID until the
// peer disconnects or ctx is done.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, recipientID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return errors.Wrap(err, "upgrade")
	}

	c := &client{recipientID: recipientID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return ErrHubClosed
	}

	lg := zctx.From(ctx).With(zap.String("recipient_id", recipientID))
	lg.Debug("Realtime client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()
	h.readLoop(ctx, c)

	// Unregister first so no Publish can race the channel close.
	h.unregister(c)
	c.close()
	<-done
	lg.Debug("Realtime client disconnected")
	return nil
}

// readLoop drains inbound frames so control frames are processed. Clients
// are not expected to send data.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.recipientID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.recipientID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.recipientID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.recipientID)
	}
}

// Publish queues payload for every connection of recipientID and returns the
// number of connections it was queued for. Connections with a full buffer
// are skipped.
func (h *Hub) Publish(recipientID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients[recipientID] {
		select {
		case c.send <- payload:
			n++
		default:
		}
	}
	return n
}

// Connections returns the number of open connections for recipientID.
func (h *Hub) Connections(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[recipientID])
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			c.close()
		}
	}
	clear(h.clients)
}
