package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoflow/internal/config"
	"promoflow/pkg/contracts/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingPeriod:      time.Second,
		PongWait:        2 * time.Second,
	}
}

func readMessage(t *testing.T, c *Client) events.Message {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg events.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return events.Message{}
}

func TestHub_StartStopIdempotent(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Start()
	hub.Start()
	hub.Stop()
	hub.Stop()
}

func TestHub_PublishOnlyReachesSession(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Start()
	defer hub.Stop()

	a := NewClient(hub, newMockConnection(), "session-a", testWSConfig(), quietLogger())
	b := NewClient(hub, newMockConnection(), "session-b", testWSConfig(), quietLogger())
	hub.Register(a)
	hub.Register(b)

	assert.Equal(t, events.MessageTypeConnection, readMessage(t, a).Type)
	assert.Equal(t, events.MessageTypeConnection, readMessage(t, b).Type)

	hub.Publish("session-a", Envelope{
		Type: events.MessageTypeActivity,
		Data: events.ActivityData{Level: "INFO", Message: "Stored validation results"},
	})

	msg := readMessage(t, a)
	assert.Equal(t, events.MessageTypeActivity, msg.Type)
	assert.Equal(t, "session-a", msg.SessionID)

	select {
	case <-b.send:
		t.Fatal("session-b client received session-a event")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, hub.ClientCount("session-a"))
}

func TestHub_CloseSessionDisconnects(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Start()
	defer hub.Stop()

	c := NewClient(hub, newMockConnection(), "s1", testWSConfig(), quietLogger())
	hub.Register(c)
	readMessage(t, c)

	hub.CloseSession("s1")
	assert.Equal(t, events.MessageTypeSessionClosed, readMessage(t, c).Type)

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client was not disconnected")
	}
	assert.Zero(t, hub.ClientCount("s1"))

	// Unregistering after the hub dropped the client is a no-op
	hub.Unregister(c)
}

func TestHub_StatsCountDelivered(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Start()
	defer hub.Stop()

	c := NewClient(hub, newMockConnection(), "s1", testWSConfig(), quietLogger())
	hub.Register(c)
	readMessage(t, c)
	hub.Publish("s1", Envelope{Type: events.MessageTypeActivity})
	readMessage(t, c)

	stats := hub.Stats()
	assert.Equal(t, int64(1), stats["active_clients"])
	assert.Equal(t, int64(1), stats["total_connections"])
	assert.Equal(t, int64(1), stats["messages_sent"])
}

func TestClient_WritePumpForwardsAndCloses(t *testing.T) {
	hub := NewHub(quietLogger())
	conn := newMockConnection()
	c := NewClient(hub, conn, "s1", testWSConfig(), quietLogger())

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	c.send <- []byte(`{"type":"activity"}`)
	close(c.send)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
	written := conn.Written()
	require.Len(t, written, 2)
	assert.JSONEq(t, `{"type":"activity"}`, string(written[0]))
	assert.Equal(t, gws.CloseMessage, conn.types[1])
}

func TestServeSession_EndToEnd(t *testing.T) {
	hub := NewHub(quietLogger())
	hub.Start()
	defer hub.Stop()

	cfg := testWSConfig()
	upgrader := NewUpgrader(cfg, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ServeSession(r.Context(), hub, upgrader, cfg, w, r, r.URL.Query().Get("session"), quietLogger())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session=abc"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello events.Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, events.MessageTypeConnection, hello.Type)
	assert.Equal(t, "abc", hello.SessionID)

	hub.Publish("abc", Envelope{Type: events.MessageTypePushStatus, Data: map[string]string{"stage": "Processing"}})
	var update events.Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, events.MessageTypePushStatus, update.Type)
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader(testWSConfig(), []string{"http://localhost:8080"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "http://localhost:8080")
	assert.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, up.CheckOrigin(r))
}
