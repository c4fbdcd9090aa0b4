package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/conflict"
	"possync/internal/domain/financial"
	"possync/internal/domain/order"
	"possync/internal/domain/sync"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "terminal.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.db")

	s, err := Open(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, slog.Default())
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}

func testItem(id, record string, created time.Time) financial.Item {
	return financial.Item{
		ID:           id,
		TableName:    financial.TableDriverEarnings,
		RecordID:     record,
		Operation:    financial.OpInsert,
		Payload:      []byte(`{"driver_id":"drv-1","shift_id":"sh-1","amount":"4.20"}`),
		ErrorMessage: "dial tcp: connection refused",
		ErrorKind:    sync.KindConnectivity,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestFinancialRepository_UpsertKeepsAttemptsGrowing(t *testing.T) {
	repo := openTestStore(t).Financial()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := repo.Upsert(ctx, testItem("a", "earn-1", now))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, sync.KindConnectivity, first.ErrorKind)
	assert.True(t, first.CreatedAt.Equal(now))

	again := testItem("b", "earn-1", now.Add(time.Minute))
	again.Payload = []byte(`{"driver_id":"drv-1","shift_id":"sh-1","amount":"5.00"}`)
	second, err := repo.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, "a", second.ID)
	assert.Equal(t, 2, second.Attempts)
	assert.Contains(t, string(second.Payload), "5.00")
	assert.True(t, second.CreatedAt.Equal(now))

	next := now.Add(time.Hour)
	third, err := repo.RecordFailure(ctx, "a", sync.KindValidation, "422", &next)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Attempts)
	assert.Equal(t, sync.KindValidation, third.ErrorKind)
	require.NotNil(t, third.NextAttemptAt)
	assert.True(t, third.NextAttemptAt.Equal(next))

	_, err = repo.RecordFailure(ctx, "missing", sync.KindTransient, "x", nil)
	assert.ErrorIs(t, err, financial.ErrNotFound)
}

func TestFinancialRepository_ListAndDue(t *testing.T) {
	repo := openTestStore(t).Financial()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, rec := range []string{"earn-3", "earn-1", "earn-2"} {
		it := testItem(rec, rec, now.Add(time.Duration(i)*time.Second))
		if rec == "earn-1" {
			due := now.Add(-time.Minute)
			it.NextAttemptAt = &due
		}
		if rec == "earn-2" {
			it.ErrorKind = sync.KindPermanent
		}
		_, err := repo.Upsert(ctx, it)
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "earn-3", all[0].RecordID)

	two, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "earn-1", due[0].RecordID)

	byTable, flagged, err := repo.CountByTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, byTable[financial.TableDriverEarnings])
	assert.Equal(t, 1, flagged)

	require.NoError(t, repo.Delete(ctx, "earn-3"))
	assert.ErrorIs(t, repo.Delete(ctx, "earn-3"), financial.ErrNotFound)
	_, err = repo.Get(ctx, "earn-3")
	assert.ErrorIs(t, err, financial.ErrNotFound)
}

func storeOrder(id string, version int64) order.Order {
	return order.Order{
		ID:      id,
		Version: version,
		Status:  order.StatusPreparing,
		Items: []order.Item{
			{ProductID: "tea", Name: "Tea", Quantity: 2, UnitPrice: decimal.RequireFromString("1.50")},
		},
		Pricing:       order.Pricing{Subtotal: decimal.RequireFromString("3"), Total: decimal.RequireFromString("3")},
		PaymentStatus: order.PaymentPending,
	}
}

func TestOrderRepository_SaveCountAcknowledge(t *testing.T) {
	repo := openTestStore(t).Orders()
	ctx := context.Background()
	now := time.Now()

	base := storeOrder("ord-1", 3)
	edited := base.Clone()
	edited.PaymentStatus = order.PaymentPaid
	lo := order.Edit(&order.LocalOrder{Current: base, Base: base, State: order.StateSynced}, edited, now)
	require.NoError(t, repo.Save(ctx, lo))

	otherBase := storeOrder("ord-2", 1)
	other := otherBase.Clone()
	other.DriverID = "drv-1"
	require.NoError(t, repo.Save(ctx, order.Edit(&order.LocalOrder{Current: otherBase, Base: otherBase}, other, now.Add(time.Second))))

	pending, payment, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, payment)

	list, err := repo.ListByState(ctx, order.StatePending, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ord-1", list[0].Current.ID)
	assert.True(t, list[0].Base.Pricing.Total.Equal(decimal.NewFromInt(3)))

	accepted := lo.Current.Clone()
	accepted.Version = 4
	require.NoError(t, repo.Acknowledge(ctx, lo.Current, accepted))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StateSynced, got.State)
	assert.Equal(t, int64(4), got.BaseVersion())
	assert.Empty(t, got.ChangedFields())

	_, err = repo.Get(ctx, "ord-404")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_AcknowledgeKeepsNewerEdit(t *testing.T) {
	repo := openTestStore(t).Orders()
	ctx := context.Background()

	base := storeOrder("ord-1", 3)
	pushed := base.Clone()
	pushed.Status = order.StatusReady
	lo := order.Edit(&order.LocalOrder{Current: base, Base: base}, pushed, time.Now())
	require.NoError(t, repo.Save(ctx, lo))

	newer := pushed.Clone()
	newer.DriverID = "drv-9"
	require.NoError(t, repo.Save(ctx, order.Edit(&lo, newer, time.Now())))

	accepted := pushed.Clone()
	accepted.Version = 4
	require.NoError(t, repo.Acknowledge(ctx, lo.Current, accepted))

	got, err := repo.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatePending, got.State)
	assert.Equal(t, int64(4), got.BaseVersion())
	assert.Equal(t, []order.Field{order.FieldDriver}, got.ChangedFields())
}

func TestConflictRepository_Lifecycle(t *testing.T) {
	store := openTestStore(t)
	orders := store.Orders()
	repo := store.Conflicts()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	base := storeOrder("ord-7", 5)
	local := base.Clone()
	local.PreparationProgress = 40
	lo := order.Edit(&order.LocalOrder{Current: base, Base: base}, local, now)
	require.NoError(t, orders.Save(ctx, lo))

	remote := base.Clone()
	remote.Version = 6
	remote.DriverID = "drv-1"

	c, ok := conflict.Detect(lo, remote, now)
	require.True(t, ok)
	require.NoError(t, repo.Create(ctx, *c))

	dup := *c
	dup.ID = "another-id"
	require.NoError(t, repo.Create(ctx, dup))

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, c.ID, open[0].ID)
	assert.Equal(t, conflict.TypeDriverAssignment, open[0].Type)
	assert.Equal(t, []order.Field{order.FieldPreparation}, open[0].LocalFields)
	assert.Equal(t, "drv-1", open[0].RemoteValue.DriverID)

	got, err := orders.Get(ctx, "ord-7")
	require.NoError(t, err)
	assert.Equal(t, order.StateConflicted, got.State)

	require.NoError(t, repo.SavePending(ctx, conflict.PendingResolution{
		ConflictID: c.ID, OrderID: c.OrderID, Strategy: conflict.KeepLocal, Attempts: 1,
		LastError: "offline", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.SavePending(ctx, conflict.PendingResolution{
		ConflictID: c.ID, OrderID: c.OrderID, Strategy: conflict.Merge, Attempts: 1,
		LastError: "offline again", CreatedAt: now, UpdatedAt: now,
	}))

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, conflict.Merge, pending[0].Strategy)
	assert.Equal(t, 2, pending[0].Attempts)

	winner, err := conflict.Winner(*c, conflict.Merge)
	require.NoError(t, err)
	require.NoError(t, repo.Apply(ctx, c.ID, winner))
	assert.ErrorIs(t, repo.Apply(ctx, c.ID, winner), conflict.ErrNotFound)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = orders.Get(ctx, "ord-7")
	require.NoError(t, err)
	assert.Equal(t, order.StateSynced, got.State)
	assert.Equal(t, int64(7), got.Current.Version)
	assert.Equal(t, "drv-1", got.Current.DriverID)
	assert.Equal(t, 40, got.Current.PreparationProgress)
}

func TestMetaRepository(t *testing.T) {
	meta := openTestStore(t).Meta()
	ctx := context.Background()

	n, err := meta.Int(ctx, MetaMenuVersion)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, meta.SetInt(ctx, MetaMenuVersion, 14))
	n, err = meta.Int(ctx, MetaMenuVersion)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	ts, err := meta.Time(ctx, MetaLastSyncAt)
	require.NoError(t, err)
	assert.Nil(t, ts)

	at := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	require.NoError(t, meta.SetTime(ctx, MetaLastSyncAt, at))
	ts, err = meta.Time(ctx, MetaLastSyncAt)
	require.NoError(t, err)
	assert.True(t, ts.Equal(at))
}
