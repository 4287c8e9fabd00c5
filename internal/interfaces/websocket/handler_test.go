package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/eventbus"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, zap.NewNop()).ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.GetClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_DeliversOnlyToSubscribedChannel(t *testing.T) {
	hub, srv := startHub(t)
	open := dial(t, srv, "?channels=open,ticket:12")
	closed := dial(t, srv, "?channels=closed")
	waitClients(t, hub, 2)

	hub.Publish("closed", "ticket.update", map[string]any{"id": 1})
	hub.Publish("ticket:12", "message.create", map[string]any{"id": "ABC"})

	msg := readMessage(t, open)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "ticket:12", msg.Channel)
	assert.Equal(t, "message.create", msg.Event)

	msg = readMessage(t, closed)
	assert.Equal(t, "closed", msg.Channel)
}

func TestHub_SubscribeMessageAndPing(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypeSubscribe, Channels: []string{"instances"}}))
	// ping 往返保证订阅已经生效
	require.NoError(t, conn.WriteJSON(WSMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	hub.Publish("instances", "instance.update", map[string]any{"status": "CONNECTED"})
	msg := readMessage(t, conn)
	assert.Equal(t, "instance.update", msg.Event)
}

func TestHub_AttachForwardsBusEvents(t *testing.T) {
	hub, srv := startHub(t)
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	defer bus.Close()
	hub.Attach(bus)

	conn := dial(t, srv, "?channels=pending")
	waitClients(t, hub, 1)

	eventbus.NewNotifier(bus).Notify("pending", "ticket.update", map[string]any{"id": 3})

	msg := readMessage(t, conn)
	assert.Equal(t, "pending", msg.Channel)
	assert.Equal(t, "ticket.update", msg.Event)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?channels=open")
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}
