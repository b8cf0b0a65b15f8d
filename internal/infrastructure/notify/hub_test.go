package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rillcall/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHub(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	hub := NewHub(Config{
		PingInterval:   time.Second,
		PongTimeout:    2 * time.Second,
		SendBuffer:     8,
		AllowedOrigins: origins,
	}, zaptest.NewLogger(t).Sugar())

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Clients() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

type received struct {
	Type      domain.NotificationType `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Data      json.RawMessage         `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	hub, url := newTestHub(t)
	a := dial(t, hub, url)
	b := dial(t, hub, url)

	hub.Notify(domain.Notification{
		Type: domain.NotifyAlert,
		Data: domain.Alert{Code: "permission_denied", Message: "camera blocked"},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, domain.NotifyAlert, msg.Type)
		assert.False(t, msg.Timestamp.IsZero())
		var alert domain.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &alert))
		assert.Equal(t, "permission_denied", alert.Code)
	}
}

func TestHubRingCues(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url)

	hub.StartRing(domain.RingIncoming)
	hub.StopRing()

	var cue RingCue
	msg := read(t, conn)
	assert.Equal(t, domain.NotifyRing, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Data, &cue))
	assert.Equal(t, RingCue{Action: "start", Kind: domain.RingIncoming}, cue)

	cue = RingCue{}
	require.NoError(t, json.Unmarshal(read(t, conn).Data, &cue))
	assert.Equal(t, "stop", cue.Action)
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Broadcasting with nobody listening is a no-op.
	hub.Notify(domain.Notification{Type: domain.NotifyPresence})
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub, url := newTestHub(t, "http://ui.local")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Clients())

	header.Set("Origin", "http://ui.local")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, hub, url)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
