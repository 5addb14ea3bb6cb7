package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/identity"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	token  string
	origin string
}

func (f fakeSessions) ResolveSession(_ context.Context, token, origin string) (*domain.Session, error) {
	if token == f.token && origin == f.origin {
		return &domain.Session{ID: 1, Token: token, OriginAddress: origin}, nil
	}
	return nil, nil
}

func newTestServer(t *testing.T, sessions SessionResolver) (*httptest.Server, *identity.CredentialIssuer, *Registry) {
	t.Helper()
	issuer := identity.NewCredentialIssuer("test-secret", time.Hour)
	registry := NewRegistry()
	h := NewHandler(sessions, issuer, registry, "", true)
	srv := httptest.NewServer(identity.NewOriginResolver(nil).Middleware(h))
	t.Cleanup(srv.Close)
	return srv, issuer, registry
}

func dial(t *testing.T, srv *httptest.Server, token, credential string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?sessionId=" + url.QueryEscape(token) + "&credential=" + url.QueryEscape(credential)
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Event{}, err
	}
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev, nil
}

func waitForLen(t *testing.T, registry *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry size %d, want %d", registry.Len(), want)
}

func TestHandlerAdmitsAndDelivers(t *testing.T) {
	t.Parallel()

	srv, issuer, registry := newTestServer(t, fakeSessions{token: "tok", origin: "127.0.0.1"})
	cred, err := issuer.Issue("tok", "127.0.0.1")
	require.NoError(t, err)

	conn := dial(t, srv, "tok", cred)
	welcome, err := readEvent(t, conn)
	require.NoError(t, err)
	assert.Equal(t, RPCWelcome, welcome.RPC)

	waitForLen(t, registry, 1)
	require.True(t, NewHub(registry, time.Second).Push(context.Background(), "tok", UpdateTopicEvent("Stars", 5)))

	ev, err := readEvent(t, conn)
	require.NoError(t, err)
	assert.Equal(t, RPCUpdateSessionTopic, ev.RPC)
	assert.Equal(t, "Stars", ev.Topic.Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	pong, err := readEvent(t, conn)
	require.NoError(t, err)
	assert.Equal(t, RPCPong, pong.RPC)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitForLen(t, registry, 0)
}

func TestHandlerRefusesBadCredentials(t *testing.T) {
	t.Parallel()

	srv, issuer, registry := newTestServer(t, fakeSessions{token: "tok", origin: "127.0.0.1"})
	otherOrigin, err := issuer.Issue("tok", "203.0.113.7")
	require.NoError(t, err)
	otherSession, err := issuer.Issue("tok-2", "127.0.0.1")
	require.NoError(t, err)

	tests := map[string]struct {
		token string
		cred  string
	}{
		"missing credential": {token: "tok", cred: ""},
		"garbage credential": {token: "tok", cred: "nope"},
		"origin mismatch":    {token: "tok", cred: otherOrigin},
		"unknown session":    {token: "tok-2", cred: otherSession},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			conn := dial(t, srv, tt.token, tt.cred)
			_, err := readEvent(t, conn)
			require.Error(t, err)
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
		})
	}
	assert.Zero(t, registry.Len())
}
