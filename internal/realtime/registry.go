// Package realtime pushes turn results to connected clients over WebSockets.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the subset of a WebSocket connection the registry needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Registry maps session tokens to their live connection.
type Registry struct {
	mu     sync.RWMutex
	active map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]Conn),
	}
}

// Lookup returns the live connection for a session, or nil.
func (r *Registry) Lookup(token string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[token]
}

// Register maps token to conn. An existing mapping is replaced and the
// superseded connection is left untouched.
func (r *Registry) Register(token string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[token]; ok && existing != conn {
		slog.Debug("Realtime connection superseded", "session_id", token)
	}
	r.active[token] = conn
	slog.Info("Realtime connection registered", "session_id", token)
}

// Unregister removes the mapping only if it still points at conn.
func (r *Registry) Unregister(token string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[token]; ok && current == conn {
		delete(r.active, token)
		slog.Info("Realtime connection unregistered", "session_id", token)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CloseAll closes every registered connection and empties the registry.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := r.active
	r.active = make(map[string]Conn)
	r.mu.Unlock()

	for token, conn := range conns {
		if err := conn.Close(websocket.StatusGoingAway, reason); err != nil {
			slog.Debug("Failed to close realtime connection", "session_id", token, "error", err)
		}
	}
}
