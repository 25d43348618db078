package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
)

func setupServer(t *testing.T) (*httptest.Server, *events.Hub, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer("test-key", time.Hour)
	require.NoError(t, err)
	hub := events.NewHub()

	r := chi.NewRouter()
	r.Use(middleware.Authenticate(issuer))
	New(hub).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, issuer
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestFeedDeliversOwnerEvents(t *testing.T) {
	srv, hub, issuer := setupServer(t)
	token, err := issuer.Issue("guest_a", "guest")
	require.NoError(t, err)

	conn := dial(t, srv, token)
	assert.Equal(t, events.TypeConnected, readEvent(t, conn).Type)

	hub.Publish("guest_b", events.Event{Type: events.TypeSessionSaved, SessionID: "other"})
	hub.Publish("guest_a", events.Event{Type: events.TypeSessionDeleted, SessionID: "mine"})

	evt := readEvent(t, conn)
	assert.Equal(t, events.TypeSessionDeleted, evt.Type)
	assert.Equal(t, "mine", evt.SessionID)
}

func TestFeedUnsubscribesOnClose(t *testing.T) {
	srv, hub, issuer := setupServer(t)
	token, err := issuer.Issue("guest_a", "guest")
	require.NoError(t, err)

	conn := dial(t, srv, token)
	readEvent(t, conn)
	assert.Equal(t, 1, hub.Subscribers("guest_a"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return hub.Subscribers("guest_a") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedRejectsMissingToken(t *testing.T) {
	srv, _, _ := setupServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
