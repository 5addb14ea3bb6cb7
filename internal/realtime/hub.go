package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// DefaultWriteTimeout bounds a single push.
const DefaultWriteTimeout = 5 * time.Second

// Pusher delivers events to the client of a session.
type Pusher interface {
	// Push reports whether the event was handed to a live connection.
	Push(ctx context.Context, token string, event Event) bool
}

// Hub pushes events to connections in a local registry.
type Hub struct {
	registry     *Registry
	writeTimeout time.Duration
}

// Ensure Hub implements Pusher.
var _ Pusher = (*Hub)(nil)

// NewHub creates a hub over registry.
func NewHub(registry *Registry, writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{registry: registry, writeTimeout: writeTimeout}
}

// Registry returns the registry the hub delivers to.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Push writes event to the session's connection. Events for sessions
// without a connection are dropped.
func (h *Hub) Push(ctx context.Context, token string, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode realtime event", "session_id", token, "rpc", event.RPC, "error", err)
		return false
	}
	return h.deliver(ctx, token, data)
}

func (h *Hub) deliver(ctx context.Context, token string, data []byte) bool {
	conn := h.registry.Lookup(token)
	if conn == nil {
		slog.Debug("No realtime connection, dropping event", "session_id", token)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Realtime write failed", "session_id", token, "error", err)
		return false
	}
	return true
}
