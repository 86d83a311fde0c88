// Package ws implements the WebSocket adapter for live task and ledger events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// frameWriter is the part of a WebSocket connection the hub writes to.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// conn wraps a single WebSocket connection owned by one user.
type conn struct {
	ws     frameWriter
	cancel context.CancelFunc
	userID string
}

// Hub manages all active WebSocket connections and routes events to the
// connections of the user that owns them.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string
	writeTimeout   time.Duration
}

// NewHub creates a hub. allowedOrigin is the browser origin permitted to
// connect; empty allows only same-origin clients.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{conns: make(map[*conn]struct{}), writeTimeout: writeTimeout}
	if allowedOrigin != "" {
		if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
			h.originPatterns = []string{u.Host}
		}
	}
	return h
}

// Serve upgrades the request and keeps the connection registered for userID
// until the client goes away. The caller authenticates the user.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// CloseRead discards client frames and cancels ctx once the peer disconnects.
	ctx, cancel := context.WithCancel(ws.CloseRead(r.Context()))
	c := &conn{ws: ws, cancel: cancel, userID: userID}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "user_id", userID)

	<-ctx.Done()
	h.remove(c)
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.send(ctx, "", msg)
}

// BroadcastToUser sends a message to the connections of one user.
func (h *Hub) BroadcastToUser(ctx context.Context, userID string, msg Message) {
	h.send(ctx, userID, msg)
}

func (h *Hub) send(ctx context.Context, userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if userID == "" || c.userID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	// Writes run in parallel; send returns within one write timeout.
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
				slog.Debug("websocket write failed", "user_id", c.userID, "error", err)
				h.remove(c)
			}
		}()
	}
	wg.Wait()
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "user_id", c.userID)
	}
}
