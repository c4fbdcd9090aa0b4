// Package terminal собирает слой синхронизации терминала: очередь
// финансовых изменений, конфликты заказов, маршрутизацию и статус.
package terminal

import (
	"context"
	"fmt"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/app/branch"
	"possync/internal/app/branch/api"
	"possync/internal/app/terminal/config"
	"possync/internal/domain/conflict"
	"possync/internal/domain/financial"
	"possync/internal/domain/routing"
	"possync/internal/domain/status"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/connectivity"
	"possync/internal/infrastructure/storage/sqlite"
)

const (
	syncCycleTimeout = 2 * time.Minute
	pushBatch        = 100
	retryBatch       = 50
)

// App координатор терминала с явным жизненным циклом: New, Start, Stop.
type App struct {
	cfg *config.Config
	log *slog.Logger
	bus *sync.Bus

	store     *sqlite.Store
	cloud     *CloudClient
	router    *routing.Resolver
	queue     *financial.Queue
	conflicts *conflict.Service
	tracker   *status.Tracker
	watcher   *connectivity.Watcher
	scheduler *Scheduler
	branch    *branch.Server

	orders  *sync.KeyedQueue
	syncMu  gosync.Mutex
	syncing atomic.Bool

	mu      gosync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      gosync.WaitGroup

	now func() time.Time
}

// New открывает базу терминала и создает координатор.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal store: %w", err)
	}

	signal := connectivity.NewDialSignal(cfg.CloudAddress, cfg.RequestTimeout)
	return newApp(cfg, store, signal, log), nil
}

func newApp(cfg *config.Config, store *sqlite.Store, signal connectivity.Signal, log *slog.Logger) *App {
	a := &App{
		cfg:    cfg,
		log:    log.With("component", "terminal", "terminal_id", cfg.TerminalID),
		bus:    sync.NewBus(),
		store:  store,
		orders: sync.NewKeyedQueue(),
		now:    time.Now,
	}

	a.cloud = NewCloudClient(cfg.CloudAddress, cfg.TerminalID, cfg.EnableTLS, cfg.RequestTimeout, log)

	var parent *routing.ParentInfo
	if !cfg.IsMain() {
		parent = &routing.ParentInfo{Address: BaseURL(cfg.ParentAddress, cfg.EnableTLS)}
	}
	a.router = routing.NewResolver(parent, a.cloud.CloudURL(), a.cloud, routing.Config{
		FailureThreshold:  cfg.Probe.FailureThreshold,
		RecoveryThreshold: cfg.Probe.RecoveryThreshold,
		ReachabilityTTL:   routing.DefaultReachabilityTTL,
	}, a.bus, log)

	schedule := financial.DefaultSchedule()
	schedule.InitialInterval = cfg.Retry.InitialInterval
	schedule.MaxInterval = cfg.Retry.MaxInterval
	a.queue = financial.NewQueue(store.Financial(), a.cloud, a.bus, schedule, log)

	a.conflicts = conflict.NewService(store.Conflicts(), routedPusher{cloud: a.cloud, router: a.router}, a.bus, log)
	a.conflicts.UseOrderQueue(a.orders)

	a.watcher = connectivity.NewWatcher(signal, a.bus, a.onConnectivityLost, a.onConnectivityRestored, log)
	a.tracker = status.NewTracker(statusSource{a: a}, a.watcher, a.bus, cfg.RequestTimeout, log)
	a.scheduler = NewScheduler(log)

	if cfg.IsMain() && cfg.ListenAddress != "" {
		a.branch = branch.NewServer(cfg.ListenAddress, api.Deps{
			TerminalID: cfg.TerminalID,
			BranchID:   cfg.BranchID,
			Relay:      cloudRelay{cloud: a.cloud},
			Status:     a,
		}, a.bus, log)
	}

	return a
}

// Start запускает фоновые задачи. Остановка через Stop или отмену ctx.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.ctx != nil {
		a.mu.Unlock()
		return ErrSchedulerStarted
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	runCtx := a.ctx
	a.mu.Unlock()

	a.watcher.Check(runCtx)
	if !a.cfg.IsMain() {
		if err := a.router.Probe(runCtx); err != nil {
			a.log.Debug("initial parent probe failed", "error", err)
		}
	}
	a.tracker.Refresh(runCtx)

	a.goAsync(func(ctx context.Context) {
		n, err := a.queue.Reconcile(ctx)
		if err != nil {
			a.log.Warn("failed to reconcile failed financial items", "error", err)
			return
		}
		if n > 0 {
			a.tracker.Refresh(ctx)
		}
	})

	a.scheduler.Add(Task{
		Name:     "status",
		Interval: a.cfg.StatusRefreshInterval,
		Overlap:  true,
		Run:      func(ctx context.Context) { a.tracker.Refresh(ctx) },
	})
	a.scheduler.Add(Task{
		Name:       "sync",
		Interval:   a.cfg.SyncInterval,
		RunAtStart: true,
		Run:        func(ctx context.Context) { a.SyncNow(ctx) },
	})
	a.scheduler.Add(Task{
		Name:     "connectivity",
		Interval: a.cfg.ConnectivityCheckInterval,
		Run:      func(ctx context.Context) { a.watcher.Check(ctx) },
	})
	if !a.cfg.IsMain() {
		a.scheduler.Add(Task{
			Name:     "parent-probe",
			Interval: a.cfg.Probe.Interval,
			Run: func(ctx context.Context) {
				if err := a.router.Probe(ctx); err != nil {
					a.log.Debug("parent probe failed", "error", err)
				}
			},
		})
	}
	if a.cfg.Retry.AutoEnabled {
		a.scheduler.Add(Task{
			Name:     "financial-retry",
			Interval: a.cfg.Retry.ScanInterval,
			Run:      a.retryDue,
		})
	}

	if err := a.scheduler.Start(runCtx); err != nil {
		return err
	}

	if a.branch != nil {
		a.goAsync(func(ctx context.Context) {
			if err := a.branch.Run(ctx); err != nil {
				a.log.Error("branch API stopped", "error", err)
			}
		})
	}

	a.log.Info("terminal started",
		"cloud", a.cloud.CloudURL(),
		"main", a.cfg.IsMain(),
		"mode", a.router.State().Mode,
	)
	return nil
}

// Run запускает терминал и ждет отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// Stop останавливает задачи и закрывает базу.
func (a *App) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.scheduler.Stop()
	a.wg.Wait()

	a.log.Info("terminal stopped")
	return a.store.Close()
}

// Bus шина событий терминала для подписки через sync.Subscribe.
func (a *App) Bus() *sync.Bus {
	return a.bus
}

// goAsync запускает fn в контексте приложения. После Stop ничего не делает.
func (a *App) goAsync(fn func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.ctx == nil {
		return
	}

	ctx := a.ctx
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(ctx)
	}()
}

func (a *App) refreshAsync() {
	a.goAsync(func(ctx context.Context) { a.tracker.Refresh(ctx) })
}

// onConnectivityLost сигнал платформы проверяет связь с облаком, а не с
// главным терминалом: пока родитель отвечал в пределах ReachabilityTTL,
// маршрут через него сохраняется и переключение остается за проверками.
func (a *App) onConnectivityLost() {
	if st := a.router.State(); st.Mode == routing.ModeViaParent && st.IsParentReachable {
		a.log.Info("cloud unreachable, parent still reachable, keeping route",
			"mode", st.Mode, "last_success_at", st.LastSuccessAt)
	} else {
		a.router.ConnectivityLost()
	}
	a.refreshAsync()
}

func (a *App) onConnectivityRestored() {
	a.goAsync(func(ctx context.Context) { a.SyncNow(ctx) })
}

func (a *App) retryDue(ctx context.Context) {
	report, err := a.queue.RetryDue(ctx, retryBatch)
	if err != nil {
		a.log.Warn("automatic financial retry failed", "error", err)
		return
	}
	if report.Total > 0 {
		a.tracker.Refresh(ctx)
	}
}
