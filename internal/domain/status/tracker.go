package status

import (
	"context"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

// DefaultRefreshTimeout ограничение времени одного обновления.
const DefaultRefreshTimeout = 10 * time.Second

// Source собирает исходные данные статуса.
type Source interface {
	Collect(ctx context.Context) (Inputs, error)
}

// Signal признак сети от платформы.
type Signal interface {
	Online(ctx context.Context) bool
}

// TopicStatus публикуется после каждого обновления.
var TopicStatus = sync.NewTopic[SyncStatus]("status.changed")

// Tracker хранит последний вычисленный статус. Обновления нумеруются;
// результат обновления, начатого раньше уже опубликованного, отбрасывается.
type Tracker struct {
	source  Source
	signal  Signal
	bus     *sync.Bus
	log     *slog.Logger
	timeout time.Duration

	mu        gosync.Mutex
	current   SyncStatus
	lastIn    Inputs
	seq       uint64
	published uint64

	now func() time.Time
}

// NewTracker создает трекер. До первого обновления статус offline.
func NewTracker(source Source, signal Signal, bus *sync.Bus, timeout time.Duration, log *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	t := &Tracker{
		source:  source,
		signal:  signal,
		bus:     bus,
		log:     log.With("component", "status_tracker"),
		timeout: timeout,
		now:     time.Now,
	}
	t.current = Compute(Inputs{}, t.now())
	return t
}

// Current возвращает последний опубликованный статус.
func (t *Tracker) Current() SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Refresh пересчитывает статус. При ошибке сбора остается последний
// известный статус, а IsOnline берется у платформы.
func (t *Tracker) Refresh(ctx context.Context) SyncStatus {
	t.mu.Lock()
	t.seq++
	n := t.seq
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	in, err := t.source.Collect(ctx)
	if err != nil {
		t.log.Warn("status refresh failed, using platform connectivity", "error", err)
		online := t.signal != nil && t.signal.Online(ctx)

		t.mu.Lock()
		in = t.lastIn
		t.mu.Unlock()
		in.IsOnline = online
	}

	st := Compute(in, t.now())

	t.mu.Lock()
	if n < t.published {
		current, published := t.current, t.published
		t.mu.Unlock()
		t.log.Debug("discarding stale status refresh", "seq", n, "published", published)
		return current
	}
	t.published = n
	t.current = st
	if err == nil {
		t.lastIn = in
	}
	t.mu.Unlock()

	if t.bus != nil {
		sync.Publish(t.bus, TopicStatus, st)
	}
	return st
}
