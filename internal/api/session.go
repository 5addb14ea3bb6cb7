package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/knowledge"
	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	momentListLimit = 100
	minAge          = 1
	maxAge          = 120
)

// CredentialIssuer signs realtime credentials.
type CredentialIssuer interface {
	Issue(token, origin string) (string, error)
}

// SessionHandler handles session, topic and learning moment endpoints.
type SessionHandler struct {
	repo        store.Repository
	knowledge   *knowledge.Model
	credentials CredentialIssuer
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(repo store.Repository, credentials CredentialIssuer) *SessionHandler {
	return &SessionHandler{
		repo:        repo,
		knowledge:   knowledge.New(repo),
		credentials: credentials,
	}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/public/session", func(r chi.Router) {
		r.Get("/", h.GetOrCreate)
		r.Patch("/", h.UpdateAge)
		r.Get("/{sessionId}/topics", h.ListTopics)
		r.Get("/{sessionId}/moments", h.ListMoments)
	})
}

type sessionResponse struct {
	Success      bool   `json:"success"`
	SessionID    string `json:"sessionId"`
	IP           string `json:"ip"`
	Existing     bool   `json:"existing"`
	Credential   string `json:"credential"`
	Busy         bool   `json:"is_busy"`
	Age          int    `json:"age"`
	WisdomPoints int    `json:"wisdom_points"`
}

// GetOrCreate returns the session named by the sessionId query parameter when
// it belongs to the caller's address, and creates a fresh one otherwise.
func (h *SessionHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := originOf(r)

	var (
		session  *domain.Session
		existing bool
		err      error
	)
	if token := r.URL.Query().Get("sessionId"); token != "" {
		session, err = h.repo.ResolveSession(ctx, token, origin)
		if err != nil {
			slog.Error("Failed to resolve session", "error", err)
			Error(w, http.StatusInternalServerError, "DB query failed")
			return
		}
		existing = session != nil
	}

	if session == nil {
		session, err = h.repo.CreateSession(ctx, origin)
		if err != nil {
			slog.Error("Failed to create session", "error", err, "ip", origin)
			Error(w, http.StatusInternalServerError, "DB query failed")
			return
		}
		slog.Info("Session created", "session_id", session.Token, "ip", origin)
	}

	credential, err := h.credentials.Issue(session.Token, origin)
	if err != nil {
		slog.Error("Failed to issue realtime credential", "error", err, "session_id", session.Token)
		Error(w, http.StatusInternalServerError, "failed to issue credential")
		return
	}

	JSON(w, http.StatusOK, sessionResponse{
		Success:      true,
		SessionID:    session.Token,
		IP:           origin,
		Existing:     existing,
		Credential:   credential,
		Busy:         session.Busy,
		Age:          session.Age,
		WisdomPoints: session.WisdomPoints,
	})
}

type updateAgeRequest struct {
	SessionID string `json:"sessionId"`
	Age       int    `json:"age"`
}

// UpdateAge sets the learner age used in prompts.
func (h *SessionHandler) UpdateAge(w http.ResponseWriter, r *http.Request) {
	var req updateAgeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "Missing UUID or age")
		return
	}
	if req.Age < minAge || req.Age > maxAge {
		Error(w, http.StatusBadRequest, "Invalid age")
		return
	}

	session, ok := h.resolve(w, r, req.SessionID)
	if !ok {
		return
	}
	if err := h.repo.UpdateSessionAge(r.Context(), session.ID, req.Age); err != nil {
		slog.Error("Failed to update session age", "error", err, "session_id", session.Token)
		Error(w, http.StatusInternalServerError, "DB error")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": session.Token,
		"age":       req.Age,
	})
}

// ListTopics returns the teachable topics of a session.
func (h *SessionHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolve(w, r, chi.URLParam(r, "sessionId"))
	if !ok {
		return
	}

	topics, err := h.knowledge.ListTeachable(r.Context(), session.ID)
	if err != nil {
		slog.Error("Failed to list topics", "error", err, "session_id", session.Token)
		Error(w, http.StatusInternalServerError, "DB error")
		return
	}

	out := make([]domain.PublicTopic, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.Public())
	}
	JSON(w, http.StatusOK, out)
}

// ListMoments returns the newest learning moments of a session.
func (h *SessionHandler) ListMoments(w http.ResponseWriter, r *http.Request) {
	session, ok := h.resolve(w, r, chi.URLParam(r, "sessionId"))
	if !ok {
		return
	}

	moments, err := h.repo.ListLearningMoments(r.Context(), session.ID, momentListLimit)
	if err != nil {
		slog.Error("Failed to list learning moments", "error", err, "session_id", session.Token)
		Error(w, http.StatusInternalServerError, "DB error")
		return
	}

	out := make([]domain.PublicLearningMoment, 0, len(moments))
	for _, m := range moments {
		out = append(out, m.Public())
	}
	JSON(w, http.StatusOK, out)
}

// resolve writes the error response itself when the session is unusable.
func (h *SessionHandler) resolve(w http.ResponseWriter, r *http.Request, token string) (*domain.Session, bool) {
	return resolveSession(w, r, h.repo, token)
}

func resolveSession(w http.ResponseWriter, r *http.Request, repo store.Repository, token string) (*domain.Session, bool) {
	if token == "" {
		Error(w, http.StatusBadRequest, "Missing session UUID")
		return nil, false
	}
	session, err := repo.ResolveSession(r.Context(), token, originOf(r))
	if err != nil {
		slog.Error("Failed to resolve session", "error", err)
		Error(w, http.StatusInternalServerError, "DB error")
		return nil, false
	}
	if session == nil {
		Error(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return session, true
}
