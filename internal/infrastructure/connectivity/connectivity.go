// Package connectivity определяет наличие сети у терминала.
package connectivity

import (
	"context"
	"net"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

const defaultDialTimeout = 3 * time.Second

// Change переход между онлайн и офлайн.
type Change struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// TopicChanged публикуется при каждом переходе.
var TopicChanged = sync.NewTopic[Change]("connectivity.changed")

// Signal признак сети.
type Signal interface {
	Online(ctx context.Context) bool
}

// DialSignal считает терминал онлайн, если TCP соединение с хостом
// облака устанавливается.
type DialSignal struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewDialSignal создает сигнал для адреса облака. Адрес может быть URL.
func NewDialSignal(address string, timeout time.Duration) *DialSignal {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &DialSignal{addr: hostPort(address), timeout: timeout}
}

func (s *DialSignal) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func hostPort(address string) string {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		return address
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// Watcher опрашивает сигнал и сообщает о переходах.
type Watcher struct {
	signal Signal
	bus    *sync.Bus
	log    *slog.Logger

	mu     gosync.RWMutex
	online bool
	known  bool

	onLost     func()
	onRestored func()
}

// NewWatcher создает наблюдатель. onLost и onRestored вызываются при
// переходах в горутине наблюдателя и могут быть nil.
func NewWatcher(signal Signal, bus *sync.Bus, onLost, onRestored func(), log *slog.Logger) *Watcher {
	return &Watcher{
		signal:     signal,
		bus:        bus,
		log:        log.With("component", "connectivity"),
		onLost:     onLost,
		onRestored: onRestored,
	}
}

// Online последнее наблюдаемое значение.
func (w *Watcher) Online(context.Context) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// Check опрашивает сигнал один раз. Первый опрос только запоминает
// значение, если терминал онлайн; офлайн на старте считается переходом.
func (w *Watcher) Check(ctx context.Context) bool {
	online := w.signal.Online(ctx)

	w.mu.Lock()
	prev, known := w.online, w.known
	w.online, w.known = online, true
	w.mu.Unlock()

	if known && prev == online {
		return online
	}
	if !known && online {
		return online
	}

	w.log.Info("connectivity changed", "online", online)
	if w.bus != nil {
		sync.Publish(w.bus, TopicChanged, Change{Online: online, At: time.Now()})
	}
	if online && w.onRestored != nil {
		w.onRestored()
	}
	if !online && w.onLost != nil {
		w.onLost()
	}
	return online
}
