package branch

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/app/branch/api"
	"possync/internal/app/branch/events"
	"possync/internal/domain/order"
	"possync/internal/domain/routing"
	"possync/internal/domain/status"
	"possync/internal/domain/sync"
)

type stubRelay struct{}

func (stubRelay) PushOrder(_ context.Context, o order.Order, baseVersion int64, _ string) (*order.Order, error) {
	o.Version = baseVersion + 1
	return &o, nil
}

func (stubRelay) FetchOrder(_ context.Context, id string) (*order.Order, error) {
	return &order.Order{ID: id, Version: 1}, nil
}

type stubStatus struct{}

func (stubStatus) Status() status.SyncStatus { return status.SyncStatus{State: status.StateSynced} }
func (stubStatus) RoutingStatus() routing.State { return routing.State{Mode: routing.ModeMain} }

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	bus := sync.NewBus()
	srv := NewServer("", api.Deps{TerminalID: "main-1", Relay: stubRelay{}, Status: stubStatus{}}, bus, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/api/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	// клиент регистрируется асинхронно; публикуем, пока событие не дойдет
	received := make(chan events.Event, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev events.Event
		if json.Unmarshal(msg, &ev) == nil {
			received <- ev
		}
	}()

	var ev events.Event
	require.Eventually(t, func() bool {
		sync.Publish(bus, routing.TopicChanged, routing.State{Mode: routing.ModeDirectCloud})
		select {
		case ev = <-received:
			return true
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, routing.TopicChanged.Name(), ev.Type)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
