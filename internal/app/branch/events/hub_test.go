package events

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
	"golang.org/x/exp/slog"

	"possync/internal/domain/routing"
	"possync/internal/domain/sync"
)

func newClient(hub *Hub) *Client {
	return &Client{hub: hub, send: make(chan []byte, sendBuffer)}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(slog.Default())
	go hub.Run(ctx)

	a, b := newClient(hub), newClient(hub)
	hub.register <- a
	hub.register <- b
	assert.Equal(t, 2, hub.Clients(ctx))

	hub.Broadcast("status.changed", map[string]string{"state": "synced"})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			var ev Event
			require.NoError(t, json.Unmarshal(msg, &ev))
			assert.Equal(t, "status.changed", ev.Type)
			assert.JSONEq(t, `{"state":"synced"}`, string(ev.Payload))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	hub.unregister <- a
	assert.Equal(t, 1, hub.Clients(ctx))
	_, open := <-a.send
	assert.False(t, open)
}

func TestHub_AttachForwardsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(slog.Default())
	go hub.Run(ctx)

	c := newClient(hub)
	hub.register <- c

	bus := sync.NewBus()
	detach := hub.Attach(bus)
	sync.Publish(bus, routing.TopicChanged, routing.State{Mode: routing.ModeDirectCloud})

	select {
	case msg := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, routing.TopicChanged.Name(), ev.Type)
		assert.Contains(t, string(ev.Payload), `"mode":"direct_cloud"`)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	detach()
	assert.Zero(t, bus.Subscribers(routing.TopicChanged.Name()))
}

func TestServeWS(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(slog.Default())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients(ctx) == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast("financial.changed", map[string]int{"total": 2})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "financial.changed", ev.Type)
}

