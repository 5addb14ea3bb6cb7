package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/gemini-learner/internal/conversation"
	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/go-chi/chi/v5"
)

const messageListLimit = 100

// Submitter accepts human messages.
type Submitter interface {
	Submit(ctx context.Context, req conversation.SubmitRequest) (*conversation.SubmitResult, error)
}

// MessageHandler handles transcript endpoints.
type MessageHandler struct {
	repo      store.Repository
	submitter Submitter
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(repo store.Repository, submitter Submitter) *MessageHandler {
	return &MessageHandler{repo: repo, submitter: submitter}
}

// RegisterRoutes registers message routes.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/public/message", h.List)
	r.Post("/public/message", h.Submit)
}

// List returns the newest messages of a session in ascending order.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	session, ok := resolveSession(w, r, h.repo, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), session.ID, messageListLimit)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "session_id", session.Token)
		Error(w, http.StatusInternalServerError, "DB error")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, msgs)
}

type submitRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type submitResponse struct {
	Message *domain.Message `json:"message"`
	Session submitSession   `json:"session"`
}

type submitSession struct {
	SessionID string `json:"sessionId"`
	Busy      bool   `json:"is_busy"`
}

// Submit accepts a human message. The AI reply arrives over the realtime channel.
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil || req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "Missing UUID or message")
		return
	}

	res, err := h.submitter.Submit(r.Context(), conversation.SubmitRequest{
		Token:  req.SessionID,
		Origin: originOf(r),
		Text:   req.Text,
	})
	if err != nil {
		writeSubmitError(w, req.SessionID, err)
		return
	}

	JSON(w, http.StatusOK, submitResponse{
		Message: res.Message,
		Session: submitSession{SessionID: res.Session.Token, Busy: res.Session.Busy},
	})
}

func writeSubmitError(w http.ResponseWriter, token string, err error) {
	var (
		verr *conversation.ValidationError
		rerr *conversation.RateLimitError
	)
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "Session not found")
	case errors.As(err, &rerr):
		slog.Info("Message rate limited", "session_id", token, "scope", rerr.Scope, "limit", rerr.Limit)
		Error(w, http.StatusTooManyRequests, rerr.Error())
	case errors.As(err, &verr):
		Error(w, http.StatusBadRequest, verr.Error())
	default:
		slog.Error("Failed to process message", "error", err, "session_id", token)
		Error(w, http.StatusInternalServerError, "Failed to process message")
	}
}
