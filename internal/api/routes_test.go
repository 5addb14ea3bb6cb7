//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/gemini-learner/internal/conversation"
	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/identity"
	"github.com/ashureev/gemini-learner/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "192.0.2.44"

type fakeSubmitter struct {
	err  error
	got  conversation.SubmitRequest
	repo store.Repository
}

func (f *fakeSubmitter) Submit(ctx context.Context, req conversation.SubmitRequest) (*conversation.SubmitResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	session, err := f.repo.ResolveSession(ctx, req.Token, req.Origin)
	if err != nil || session == nil {
		return nil, conversation.ErrSessionNotFound
	}
	msg, err := f.repo.AddMessage(ctx, session.ID, true, req.Text)
	if err != nil {
		return nil, err
	}
	session.Busy = true
	return &conversation.SubmitResult{Message: msg, Session: session}, nil
}

type apiHarness struct {
	repo      store.Repository
	submitter *fakeSubmitter
	router    http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sub := &fakeSubmitter{repo: repo}
	r := chi.NewRouter()
	r.Use(identity.NewOriginResolver(nil).Middleware)
	NewSessionHandler(repo, identity.NewCredentialIssuer("secret", time.Hour)).RegisterRoutes(r)
	NewMessageHandler(repo, sub).RegisterRoutes(r)
	NewHealthHandler(repo, false).RegisterHealth(r)

	return &apiHarness{repo: repo, submitter: sub, router: r}
}

func (h *apiHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = testAddr + ":40000"
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestGetOrCreateSession(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/public/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[sessionResponse](t, w)
	assert.True(t, created.Success)
	assert.False(t, created.Existing)
	assert.Equal(t, testAddr, created.IP)
	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Credential)

	w = h.do(t, http.MethodGet, "/public/session?sessionId="+created.SessionID, nil)
	again := decode[sessionResponse](t, w)
	assert.True(t, again.Existing)
	assert.Equal(t, created.SessionID, again.SessionID)

	w = h.do(t, http.MethodGet, "/public/session?sessionId=unknown", nil)
	fresh := decode[sessionResponse](t, w)
	assert.False(t, fresh.Existing)
	assert.NotEqual(t, "unknown", fresh.SessionID)
}

func TestUpdateSessionAge(t *testing.T) {
	h := newAPIHarness(t)
	session, err := h.repo.CreateSession(context.Background(), testAddr)
	require.NoError(t, err)

	w := h.do(t, http.MethodPatch, "/public/session", map[string]any{"sessionId": session.Token, "age": 8})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := h.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Age)

	w = h.do(t, http.MethodPatch, "/public/session", map[string]any{"sessionId": session.Token, "age": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPatch, "/public/session", map[string]any{"sessionId": "missing", "age": 8})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessages(t *testing.T) {
	h := newAPIHarness(t)
	session, err := h.repo.CreateSession(context.Background(), testAddr)
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/public/message?sessionId="+session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err = h.repo.AddMessage(context.Background(), session.ID, true, "hello")
	require.NoError(t, err)
	w = h.do(t, http.MethodGet, "/public/message?sessionId="+session.Token, nil)
	msgs := decode[[]map[string]any](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0]["text"])
	assert.Equal(t, true, msgs[0]["is_human"])
	assert.NotContains(t, msgs[0], "session_id")

	w = h.do(t, http.MethodGet, "/public/message", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodGet, "/public/message?sessionId=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitMessage(t *testing.T) {
	h := newAPIHarness(t)
	session, err := h.repo.CreateSession(context.Background(), testAddr)
	require.NoError(t, err)

	w := h.do(t, http.MethodPost, "/public/message", map[string]string{"sessionId": session.Token, "text": "Plants need light"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Message struct {
			Text    string `json:"text"`
			IsHuman bool   `json:"is_human"`
		} `json:"message"`
		Session struct {
			SessionID string `json:"sessionId"`
			Busy      bool   `json:"is_busy"`
		} `json:"session"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Plants need light", body.Message.Text)
	assert.True(t, body.Message.IsHuman)
	assert.Equal(t, session.Token, body.Session.SessionID)
	assert.True(t, body.Session.Busy)
	assert.Equal(t, testAddr, h.submitter.got.Origin)
}

func TestSubmitMessageErrorMapping(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "not found", err: conversation.ErrSessionNotFound, wantStatus: http.StatusNotFound, wantMsg: "Session not found"},
		{name: "rate limited", err: &conversation.RateLimitError{Scope: conversation.ScopeSession, Limit: 50}, wantStatus: http.StatusTooManyRequests, wantMsg: "Session daily limit reached (50)"},
		{name: "ip limited", err: &conversation.RateLimitError{Scope: conversation.ScopeOrigin, Limit: 200}, wantStatus: http.StatusTooManyRequests, wantMsg: "IP daily limit reached (200)"},
		{name: "too short", err: &conversation.ValidationError{Reason: "Text length short"}, wantStatus: http.StatusBadRequest, wantMsg: "Text length short"},
		{name: "internal", err: errors.New("disk full"), wantStatus: http.StatusInternalServerError, wantMsg: "Failed to process message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.submitter.err = tt.err
			w := h.do(t, http.MethodPost, "/public/message", map[string]string{"sessionId": "tok", "text": "hello"})
			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode[ErrorResponse](t, w)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}

	h.submitter.err = nil
	w := h.do(t, http.MethodPost, "/public/message", map[string]string{"sessionId": "tok"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTopicsAndMoments(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	session, err := h.repo.CreateSession(ctx, testAddr)
	require.NoError(t, err)

	topicID, err := h.repo.AddTopic(ctx, session.ID, "Photosynthesis", 8)
	require.NoError(t, err)
	_, err = h.repo.AddTopic(ctx, session.ID, "Planets", 60)
	require.NoError(t, err)
	_, err = h.repo.AddTopic(ctx, session.ID, "Counting", 100)
	require.NoError(t, err)
	_, err = h.repo.AddLearningMoment(ctx, &domain.LearningMoment{SessionID: session.ID, TopicID: topicID, WisdomPoints: 8, Title: "Learned", Details: "d"})
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/public/session/"+session.Token+"/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	topics := decode[[]map[string]any](t, w)
	require.Len(t, topics, 2)
	assert.Equal(t, "Planets", topics[0]["topic_name"])
	assert.Equal(t, "Photosynthesis", topics[1]["topic_name"])
	assert.EqualValues(t, 8, topics[1]["proficiency"])
	assert.NotContains(t, topics[0], "id")
	assert.NotContains(t, topics[0], "session_id")

	w = h.do(t, http.MethodGet, "/public/session/"+session.Token+"/moments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	moments := decode[[]map[string]any](t, w)
	require.Len(t, moments, 1)
	assert.NotContains(t, moments[0], "topic_id")

	w = h.do(t, http.MethodGet, "/public/session/unknown/topics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	r := chi.NewRouter()
	NewHealthHandler(failingPinger{}, true).RegisterHealth(r)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"])
}
