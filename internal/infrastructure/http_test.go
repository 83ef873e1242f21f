package infrastructure

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMux_HealthEndpoints(t *testing.T) {
	var down atomic.Bool
	mux := NewHTTPMux(func() error {
		if down.Load() {
			return errors.New("redis down")
		}
		return nil
	})
	server := httptest.NewServer(NewHTTPServerWithConfig(HTTPServerConfig{}, mux).Handler())
	t.Cleanup(server.Close)

	get := func(path string) (int, string, http.Header) {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body), resp.Header
	}

	status, body, header := get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.NotEmpty(t, header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))

	status, body, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body)

	down.Store(true)
	status, body, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "redis down", body)

	status, _, _ = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTPServer_WebsocketUpgradeThroughMiddlewares(t *testing.T) {
	mux := NewHTTPMux(nil)
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})
	server := httptest.NewServer(NewHTTPServerWithConfig(HTTPServerConfig{}, mux).Handler())
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
