package terminal

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"
)

var ErrSchedulerStarted = errors.New("scheduler already started")

// Task периодическая задача.
type Task struct {
	Name     string
	Interval time.Duration
	// RunAtStart выполнить задачу сразу при запуске.
	RunAtStart bool
	// Overlap запускать новую попытку на каждом тике, даже если
	// предыдущая еще не завершилась. Иначе тик пропускается.
	Overlap bool
	Run     func(ctx context.Context)
}

// Scheduler запускает периодические задачи и останавливает их вместе.
type Scheduler struct {
	log *slog.Logger

	mu      gosync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	started bool
	wg      gosync.WaitGroup
}

func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log.With("component", "scheduler")}
}

// Add регистрирует задачу. После Start вызов ничего не делает.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || t.Interval <= 0 || t.Run == nil {
		return
	}
	s.tasks = append(s.tasks, t)
}

// Start запускает все задачи. Они работают до Stop или отмены ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.log.Debug("scheduler started", "tasks", len(s.tasks))
	return nil
}

// Stop отменяет задачи и ждет их завершения.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	var running atomic.Bool
	fire := func() {
		if t.Overlap {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.run(ctx, t)
			}()
			return
		}
		if !running.CompareAndSwap(false, true) {
			s.log.Debug("task still running, tick skipped", "task", t.Name)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer running.Store(false)
			s.run(ctx, t)
		}()
	}

	if t.RunAtStart {
		fire()
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", "task", t.Name, "panic", r)
		}
	}()
	t.Run(ctx)
}
