package terminal

import (
	"context"
	"errors"
	"time"

	"possync/internal/domain/conflict"
	"possync/internal/domain/financial"
	"possync/internal/domain/order"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/sqlite"
)

type pushOutcome int

const (
	pushFailed pushOutcome = iota
	pushAccepted
	pushConflicted
	pushSkipped
)

// SyncReport итог одного цикла синхронизации.
type SyncReport struct {
	Skipped   bool                  `json:"skipped"`
	Pushed    int                   `json:"pushed"`
	Conflicts int                   `json:"conflicts"`
	Failed    int                   `json:"failed"`
	Replay    conflict.ReplayReport `json:"replay"`
	Retry     financial.RetryReport `json:"retry"`
	Result    sync.Result           `json:"result"`
	Duration  time.Duration         `json:"duration"`
}

// SyncNow выполняет цикл синхронизации: отправляет ожидающие заказы,
// повторяет отложенные разрешения конфликтов и финансовые записи со
// сроком повтора. Одновременно выполняется не больше одного цикла.
func (a *App) SyncNow(ctx context.Context) SyncReport {
	if !a.syncMu.TryLock() {
		return SyncReport{Skipped: true, Result: sync.Ok("sync already in progress")}
	}
	defer a.syncMu.Unlock()

	started := a.now()
	a.syncing.Store(true)
	a.tracker.Refresh(ctx)
	defer func() {
		a.syncing.Store(false)
		a.tracker.Refresh(context.WithoutCancel(ctx))
	}()

	ctx, cancel := context.WithTimeout(ctx, syncCycleTimeout)
	defer cancel()

	report, cycleErr := a.syncCycle(ctx)
	report.Duration = a.now().Sub(started)

	meta := a.store.Meta()
	if cycleErr == nil {
		report.Result = sync.Ok("sync completed")
		if err := meta.SetTime(ctx, sqlite.MetaLastSyncAt, a.now()); err != nil {
			a.log.Error("failed to save last sync time", "error", err)
		}
		if err := meta.Set(ctx, sqlite.MetaLastSyncError, ""); err != nil {
			a.log.Error("failed to clear last sync error", "error", err)
		}
	} else {
		report.Result = sync.Fail(cycleErr)
		if err := meta.Set(ctx, sqlite.MetaLastSyncError, cycleErr.Error()); err != nil {
			a.log.Error("failed to save last sync error", "error", err)
		}
	}

	a.log.Info("sync cycle finished",
		"pushed", report.Pushed,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
		"resolutions", report.Replay.Resolved,
		"financial_delivered", report.Retry.Succeeded,
		"duration", report.Duration,
		"error", cycleErr,
	)
	return report
}

func (a *App) syncCycle(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	pending, err := a.store.Orders().ListByState(ctx, order.StatePending, pushBatch)
	if err != nil {
		return report, err
	}

	var cycleErr error
	for _, lo := range pending {
		outcome, err := a.pushOrder(ctx, lo.Current.ID)
		switch outcome {
		case pushAccepted:
			report.Pushed++
		case pushConflicted:
			report.Conflicts++
		case pushFailed:
			report.Failed++
			cycleErr = err
		}
		if outcome == pushFailed && sync.KindOf(err) == sync.KindConnectivity {
			return report, err
		}
	}

	report.Replay, err = a.conflicts.Replay(ctx)
	if err != nil {
		return report, err
	}
	if report.Replay.Stopped {
		return report, sync.Connectivity("replay resolutions", errors.New("cloud unreachable"))
	}

	if a.cfg.Retry.AutoEnabled {
		report.Retry, err = a.queue.RetryDue(ctx, retryBatch)
		if err != nil {
			a.log.Warn("financial retry in sync cycle failed", "error", err)
		}
	}

	return report, cycleErr
}

// pushOrder отправляет ожидающую рабочую копию заказа id.
func (a *App) pushOrder(ctx context.Context, id string) (pushOutcome, error) {
	release, err := a.orders.Acquire(ctx, id)
	if err != nil {
		return pushFailed, sync.Cancelled("push order", err)
	}
	defer release()

	lo, err := a.store.Orders().Get(ctx, id)
	if err != nil {
		return pushFailed, err
	}
	return a.pushLocked(ctx, lo)
}

// pushLocked вызывается под блокировкой заказа. При ответе 409 открывает
// конфликт, при успехе переносит версию облака в рабочую копию.
func (a *App) pushLocked(ctx context.Context, lo *order.LocalOrder) (pushOutcome, error) {
	if lo.State != order.StatePending {
		return pushSkipped, nil
	}

	route := a.router.Route()
	accepted, err := a.cloud.PushOrder(ctx, route, lo.Current, lo.BaseVersion(), "")
	reportRoute(a.router, route, err)

	if err == nil {
		if err := a.store.Orders().Acknowledge(ctx, lo.Current, *accepted); err != nil {
			return pushFailed, err
		}
		lo.Current.Version = accepted.Version
		return pushAccepted, nil
	}

	var vc *order.VersionConflictError
	if !errors.As(err, &vc) || vc.Remote == nil {
		a.log.Debug("order push failed", "order_id", lo.Current.ID, "route", route.Mode, "error", err)
		return pushFailed, err
	}

	c, rerr := a.conflicts.Record(ctx, *lo, *vc.Remote)
	if errors.Is(rerr, conflict.ErrSameVersion) {
		return pushFailed, sync.Transient("push order", err)
	}
	if rerr != nil {
		return pushFailed, rerr
	}

	a.log.Info("order push rejected by cloud",
		"order_id", lo.Current.ID,
		"conflict_id", c.ID,
		"base_version", lo.BaseVersion(),
		"remote_version", vc.Remote.Version,
	)
	return pushConflicted, err
}
