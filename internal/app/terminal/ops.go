package terminal

import (
	"context"
	"errors"
	"fmt"

	"possync/internal/domain/conflict"
	"possync/internal/domain/financial"
	"possync/internal/domain/order"
	"possync/internal/domain/routing"
	"possync/internal/domain/status"
	"possync/internal/domain/sync"
	"possync/internal/infrastructure/storage/sqlite"
)

// ErrOrderConflicted правка заказа с открытым конфликтом.
var ErrOrderConflicted = errors.New("order has an open conflict")

// Status последний вычисленный статус.
func (a *App) Status() status.SyncStatus {
	return a.tracker.Current()
}

// RefreshStatus пересчитывает статус немедленно.
func (a *App) RefreshStatus(ctx context.Context) status.SyncStatus {
	return a.tracker.Refresh(ctx)
}

// RoutingStatus снимок состояния маршрутизации.
func (a *App) RoutingStatus() routing.State {
	return a.router.State()
}

// GetOrder рабочая копия заказа.
func (a *App) GetOrder(ctx context.Context, id string) (*order.LocalOrder, error) {
	return a.store.Orders().Get(ctx, id)
}

// SubmitOrder сохраняет локальную правку заказа и отправляет ее по
// текущему маршруту. Правки одного заказа выполняются по очереди.
func (a *App) SubmitOrder(ctx context.Context, o order.Order) sync.Result {
	const op = "submit order"

	if err := o.Validate(); err != nil {
		return sync.Fail(sync.Validation(op, err))
	}

	release, err := a.orders.Acquire(ctx, o.ID)
	if err != nil {
		res := sync.Fail(sync.Cancelled(op, err))
		res.Message = "cancelled"
		return res
	}
	defer release()

	existing, err := a.store.Orders().Get(ctx, o.ID)
	switch {
	case errors.Is(err, order.ErrNotFound):
		existing = nil
	case err != nil:
		return sync.Fail(err)
	}
	if existing != nil && existing.State == order.StateConflicted {
		return sync.Fail(sync.Wrap(sync.KindConflict, op, fmt.Errorf("%w: %s", ErrOrderConflicted, o.ID)))
	}

	lo := order.Edit(existing, o, a.now())
	if err := a.store.Orders().Save(ctx, lo); err != nil {
		return sync.Fail(err)
	}
	defer a.refreshAsync()

	outcome, err := a.pushLocked(ctx, &lo)
	switch outcome {
	case pushAccepted:
		return sync.Ok(fmt.Sprintf("order %s saved at version %d", o.ID, lo.Current.Version))
	case pushConflicted:
		res := sync.Fail(err)
		res.Message = "order conflict opened, choose a resolution"
		return res
	default:
		res := sync.Fail(err)
		if sync.IsRetryable(err) {
			res.Message = "order saved locally and will be sent on next sync"
		}
		return res
	}
}

// RecordFinancialMutation отправляет финансовое изменение в облако, при
// сбое изменение остается в очереди.
func (a *App) RecordFinancialMutation(ctx context.Context, m financial.Mutation) sync.Result {
	res := a.queue.Submit(ctx, m)
	if !res.Success {
		a.refreshAsync()
	}
	return res
}

// ListFailedFinancialItems записи очереди от старых к новым.
func (a *App) ListFailedFinancialItems(ctx context.Context, limit int) ([]financial.Item, error) {
	return a.queue.ListFailed(ctx, limit)
}

// FinancialCounts число записей очереди по таблицам.
func (a *App) FinancialCounts(ctx context.Context) (financial.Counts, error) {
	return a.queue.Counts(ctx)
}

// RetryFinancialItem повторяет отправку одной записи.
func (a *App) RetryFinancialItem(ctx context.Context, id string) financial.ItemResult {
	res, err := a.queue.RetryOne(ctx, id)
	if err != nil {
		res = financial.ItemResult{ItemID: id, Result: retryFailure(err)}
	}
	a.refreshAsync()
	return res
}

// RetryAllFinancialItems повторяет все записи очереди.
func (a *App) RetryAllFinancialItems(ctx context.Context) (financial.RetryReport, sync.Result) {
	report, err := a.queue.RetryAll(ctx)
	a.refreshAsync()
	if err != nil {
		return report, retryFailure(err)
	}
	if report.Failed > 0 {
		return report, sync.Result{
			Success: false,
			Kind:    sync.KindTransient.String(),
			Message: fmt.Sprintf("%d of %d items delivered", report.Succeeded, report.Total),
		}
	}
	return report, sync.Ok(fmt.Sprintf("%d items delivered", report.Succeeded))
}

// PurgeFinancialItem удаляет запись из очереди без отправки.
func (a *App) PurgeFinancialItem(ctx context.Context, id string) sync.Result {
	if err := a.queue.Purge(ctx, id); err != nil {
		return retryFailure(err)
	}
	a.refreshAsync()
	return sync.Ok(fmt.Sprintf("item %s purged", id))
}

// ListOpenConflicts открытые конфликты в порядке создания.
func (a *App) ListOpenConflicts(ctx context.Context) ([]conflict.OrderConflict, error) {
	return a.conflicts.ListOpen(ctx)
}

// ResolveConflict разрешает конфликт по стратегии.
func (a *App) ResolveConflict(ctx context.Context, id string, strategy conflict.Strategy) sync.Result {
	res := a.conflicts.Resolve(ctx, id, strategy)
	a.refreshAsync()
	return res
}

// RecordCatalogVersions запоминает версии настроек и меню, загруженные терминалом.
func (a *App) RecordCatalogVersions(ctx context.Context, settings, menu int) error {
	meta := a.store.Meta()
	if err := meta.SetInt(ctx, sqlite.MetaSettingsVersion, settings); err != nil {
		return err
	}
	if err := meta.SetInt(ctx, sqlite.MetaMenuVersion, menu); err != nil {
		return err
	}
	a.refreshAsync()
	return nil
}

func retryFailure(err error) sync.Result {
	if errors.Is(err, financial.ErrNotFound) {
		return sync.Fail(sync.Permanent("financial item", err))
	}
	return sync.Fail(err)
}

// CheckNow опрашивает сеть и главный терминал и пересчитывает статус.
func (a *App) CheckNow(ctx context.Context) status.SyncStatus {
	a.watcher.Check(ctx)
	if !a.cfg.IsMain() {
		if err := a.router.Probe(ctx); err != nil {
			a.log.Debug("parent probe failed", "error", err)
		}
	}
	return a.tracker.Refresh(ctx)
}
