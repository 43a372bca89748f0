package websocket

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler 回显收到的消息
type echoHandler struct {
	BaseHandler

	mu           sync.Mutex
	disconnected bool
}

func (h *echoHandler) OnMessage(conn *Connection, data []byte) error {
	return conn.SendAsync(data)
}

func (h *echoHandler) OnDisconnect(conn *Connection, err error) {
	h.mu.Lock()
	h.disconnected = true
	h.mu.Unlock()
}

func newTestServer(t *testing.T, h MessageHandler) (*Server, string) {
	t.Helper()

	srv, err := NewServer(DefaultServerConfig(), WithHandler(h))
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServerEcho(t *testing.T) {
	handler := &echoHandler{}
	srv, url := newTestServer(t, handler)

	conn, err := NewDialer().Dial(t.Context(), url)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan []byte, 1)
	go conn.ReadLoop(func(c *Connection, data []byte) error {
		received <- data
		return nil
	})
	go conn.WriteLoop()

	require.NoError(t, conn.SendAsync([]byte(`{"type":"ping"}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"ping"}`, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	assert.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerDisconnectCallback(t *testing.T) {
	handler := &echoHandler{}
	srv, url := newTestServer(t, handler)

	conn, err := NewDialer().Dial(t.Context(), url)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	_ = conn.Close()

	assert.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.disconnected && srv.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionSendAfterClose(t *testing.T) {
	handler := &echoHandler{}
	_, url := newTestServer(t, handler)

	conn, err := NewDialer().Dial(t.Context(), url)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.SendAsync([]byte("x")), ErrConnectionClosed)
	assert.ErrorIs(t, conn.Send(t.Context(), []byte("x")), ErrConnectionClosed)
}
