package websocket_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/session"
	"github.com/dmitrymomot/sessionkit/core/sessionhttp"
	sessionws "github.com/dmitrymomot/sessionkit/core/websocket"
	"github.com/dmitrymomot/sessionkit/integration/sessionstore/memory"
)

type server struct {
	*httptest.Server
	repo *session.Repository
	reg  *sessionws.Registry
}

func newServer(t *testing.T) *server {
	t.Helper()

	reg := sessionws.NewRegistry()
	bridge := event.NewBridge(event.WithSyncDelivery(), event.WithListener(reg))
	repo, err := session.NewRepository(memory.New(), session.WithPublisher(bridge))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessionhttp.Get(r.Context(), true)
		require.NoError(t, err)
		_, _ = w.Write([]byte(sess.ID()))
	})
	mux.Handle("/ws", sessionws.Handler(reg,
		func(ctx context.Context, sess *session.Session, conn *websocket.Conn) error {
			return sessionws.ReadLoop(conn, func(messageType int, data []byte) error {
				return conn.WriteMessage(messageType, append([]byte(sess.ID()+":"), data...))
			})
		},
		sessionws.WithAllowAnyOrigin(),
	))

	srv := httptest.NewServer(sessionhttp.Middleware(repo)(mux))
	t.Cleanup(srv.Close)
	return &server{Server: srv, repo: repo, reg: reg}
}

func (s *server) login(t *testing.T) (string, *http.Cookie) {
	t.Helper()

	resp, err := s.Client().Get(s.URL + "/login")
	require.NoError(t, err)
	defer resp.Body.Close()

	var id bytes.Buffer
	_, err = id.ReadFrom(resp.Body)
	require.NoError(t, err)

	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	return id.String(), cookies[0]
}

func (s *server) dial(t *testing.T, cookie *http.Cookie) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	if cookie != nil {
		header.Set("Cookie", cookie.String())
	}
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(wsURL, header)
}

func TestHandler_ClosesOnSessionDelete(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	id, cookie := srv.login(t)

	conn, _, err := srv.dial(t, cookie)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, id+":ping", string(data))
	require.Eventually(t, func() bool { return srv.reg.Count(id) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.repo.DeleteByID(context.Background(), id))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, sessionws.CloseSessionEnded, closeErr.Code)
	assert.Equal(t, "session deleted", closeErr.Text)

	require.Eventually(t, func() bool { return srv.reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_RequiresSession(t *testing.T) {
	t.Parallel()

	srv := newServer(t)

	conn, resp, err := srv.dial(t, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, srv.reg.Len())
}

func TestHandler_UnregistersOnDisconnect(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	id, cookie := srv.login(t)

	conn, _, err := srv.dial(t, cookie)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.reg.Count(id) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool { return srv.reg.Count(id) == 0 }, time.Second, 10*time.Millisecond)
}
