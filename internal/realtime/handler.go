package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/identity"
	"github.com/coder/websocket"
)

// SessionResolver looks up a session by token and origin address.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token, originAddress string) (*domain.Session, error)
}

// CredentialVerifier checks a realtime credential.
type CredentialVerifier interface {
	Verify(credential, token, origin string) error
}

// Handler upgrades admitted requests to realtime connections.
type Handler struct {
	sessions      SessionResolver
	credentials   CredentialVerifier
	registry      *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a realtime WebSocket handler.
func NewHandler(sessions SessionResolver, credentials CredentialVerifier, registry *Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		sessions:      sessions,
		credentials:   credentials,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

type clientMessage struct {
	Type string `json:"type"`
	RPC  string `json:"rpc"`
}

// Admit reports whether a connection for token may be accepted from origin.
func (h *Handler) Admit(ctx context.Context, token, credential, origin string) bool {
	if token == "" || credential == "" {
		return false
	}
	if err := h.credentials.Verify(credential, token, origin); err != nil {
		slog.Warn("Realtime credential rejected", "session_id", token, "origin", origin, "error", err)
		return false
	}
	session, err := h.sessions.ResolveSession(ctx, token, origin)
	if err != nil {
		slog.Error("Failed to resolve realtime session", "session_id", token, "error", err)
		return false
	}
	return session != nil
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("sessionId")
	credential := r.URL.Query().Get("credential")
	origin := identity.OriginFromContext(r.Context())
	if origin == "" {
		origin = identity.IPFromRequest(r)
	}
	slog.Info("Realtime connection request", "session_id", token, "ip", origin)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", token)
		return
	}

	if !h.Admit(r.Context(), token, credential, origin) {
		_ = ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", token)
		}
	}()

	h.registry.Register(token, ws)
	defer h.registry.Unregister(token, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeJSON(ctx, ws, WelcomeEvent()); err != nil {
		slog.Debug("Failed to send welcome", "error", err, "session_id", token)
		return
	}

	h.readLoop(ctx, ws, token)
	slog.Info("Realtime connection ended", "session_id", token)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop keeps the connection open. Client frames are ignored apart from pings.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, token string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", token)
			} else if ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "session_id", token)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" || msg.RPC == "ping" {
			if err := writeJSON(ctx, ws, Event{RPC: RPCPong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
