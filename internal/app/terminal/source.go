package terminal

import (
	"context"
	"fmt"

	"possync/internal/domain/status"
	"possync/internal/infrastructure/storage/sqlite"
)

// statusSource собирает исходные данные статуса из базы и очередей терминала.
type statusSource struct {
	a *App
}

func (s statusSource) Collect(ctx context.Context) (status.Inputs, error) {
	a := s.a
	in := status.Inputs{
		IsOnline:       a.watcher.Online(ctx),
		SyncInProgress: a.syncing.Load(),
	}

	meta := a.store.Meta()

	lastSync, err := meta.Time(ctx, sqlite.MetaLastSyncAt)
	if err != nil {
		return in, err
	}
	in.LastSync = lastSync

	if in.LastError, _, err = meta.Get(ctx, sqlite.MetaLastSyncError); err != nil {
		return in, err
	}
	if in.SettingsVersion, err = meta.Int(ctx, sqlite.MetaSettingsVersion); err != nil {
		return in, err
	}
	if in.MenuVersion, err = meta.Int(ctx, sqlite.MetaMenuVersion); err != nil {
		return in, err
	}

	pending, payment, err := a.store.Orders().CountPending(ctx)
	if err != nil {
		return in, fmt.Errorf("failed to count pending orders: %w", err)
	}
	resolutions, err := a.conflicts.CountPending(ctx)
	if err != nil {
		return in, fmt.Errorf("failed to count pending resolutions: %w", err)
	}
	in.PendingItems = pending + resolutions
	in.PendingPaymentItems = payment

	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return in, err
	}
	in.FailedByCategory = counts.ByTable

	if in.OpenConflicts, err = a.conflicts.Count(ctx); err != nil {
		return in, fmt.Errorf("failed to count conflicts: %w", err)
	}

	return in, nil
}
