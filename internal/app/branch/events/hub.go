// Package events раздает локальным экранам филиала события терминала
// через websocket.
package events

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/conflict"
	"possync/internal/domain/financial"
	"possync/internal/domain/routing"
	"possync/internal/domain/status"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/connectivity"
)

const sendBuffer = 64

// Event сообщение клиенту.
type Event struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Hub набор подключенных клиентов.
type Hub struct {
	log *slog.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	count      chan chan int
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log.With("component", "events_hub"),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		count:      make(chan chan int),
	}
}

// Run обслуживает клиентов до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug("events client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug("events client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// медленный клиент отключается
					delete(h.clients, c)
					close(c.send)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Clients число подключенных клиентов. Требует запущенного Run.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	}
}

// Broadcast отправляет событие всем клиентам. Если очередь рассылки
// переполнена, событие отбрасывается.
func (h *Hub) Broadcast(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("failed to marshal event", "type", typ, "error", err)
		return
	}
	msg, err := json.Marshal(Event{Type: typ, At: time.Now(), Payload: data})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("events queue full, event dropped", "type", typ)
	}
}

// Attach подписывает hub на темы шины. Возвращает функцию отписки.
func (h *Hub) Attach(bus *sync.Bus) func() {
	unsubs := []func(){
		sync.Subscribe(bus, status.TopicStatus, func(s status.SyncStatus) {
			h.Broadcast(status.TopicStatus.Name(), s)
		}),
		sync.Subscribe(bus, routing.TopicChanged, func(s routing.State) {
			h.Broadcast(routing.TopicChanged.Name(), s)
		}),
		sync.Subscribe(bus, financial.TopicChanged, func(c financial.Change) {
			h.Broadcast(financial.TopicChanged.Name(), c)
		}),
		sync.Subscribe(bus, conflict.TopicChanged, func(c conflict.Change) {
			h.Broadcast(conflict.TopicChanged.Name(), c)
		}),
		sync.Subscribe(bus, connectivity.TopicChanged, func(c connectivity.Change) {
			h.Broadcast(connectivity.TopicChanged.Name(), c)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
