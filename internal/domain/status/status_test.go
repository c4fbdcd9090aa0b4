package status

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/financial"
	"possync/internal/domain/sync"
)

func TestCompute_Precedence(t *testing.T) {
	failed := map[financial.TableName]int{financial.TableStaffPayments: 1}

	tests := []struct {
		name string
		in   Inputs
		want State
	}{
		{name: "offline beats everything", in: Inputs{SyncInProgress: true, OpenConflicts: 2}, want: StateOffline},
		{name: "syncing beats error", in: Inputs{IsOnline: true, SyncInProgress: true, LastError: "boom"}, want: StateSyncing},
		{name: "open conflict", in: Inputs{IsOnline: true, OpenConflicts: 1, PendingItems: 3}, want: StateError},
		{name: "failed financial item", in: Inputs{IsOnline: true, FailedByCategory: failed}, want: StateError},
		{name: "last error", in: Inputs{IsOnline: true, LastError: "timeout"}, want: StateError},
		{name: "pending orders", in: Inputs{IsOnline: true, PendingItems: 2}, want: StatePending},
		{name: "pending payments", in: Inputs{IsOnline: true, PendingPaymentItems: 1}, want: StatePending},
		{name: "synced", in: Inputs{IsOnline: true}, want: StateSynced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.in, time.Now()).State)
		})
	}
}

func TestCompute_Health(t *testing.T) {
	assert.InDelta(t, 1.0, Compute(Inputs{IsOnline: true}, time.Now()).TerminalHealth, 1e-9)
	assert.InDelta(t, 0.6, Compute(Inputs{}, time.Now()).TerminalHealth, 1e-9)

	worst := Compute(Inputs{
		OpenConflicts:    1,
		LastError:        "x",
		FailedByCategory: map[financial.TableName]int{financial.TableShiftExpenses: 4},
	}, time.Now())
	assert.InDelta(t, 0.0, worst.TerminalHealth, 1e-9)
	assert.Equal(t, 4, worst.FailedPaymentItems)
}

type fakeSource struct {
	mu    gosync.Mutex
	in    Inputs
	err   error
	block chan struct{}
}

func (f *fakeSource) set(in Inputs, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in, f.err = in, err
}

func (f *fakeSource) Collect(ctx context.Context) (Inputs, error) {
	f.mu.Lock()
	in, err, block := f.in, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Inputs{}, ctx.Err()
		}
	}
	return in, err
}

type fakeSignal bool

func (s fakeSignal) Online(context.Context) bool { return bool(s) }

func TestTracker_IsOnlineFollowsSignalWithinOneRefresh(t *testing.T) {
	src := &fakeSource{}
	bus := sync.NewBus()
	tr := NewTracker(src, fakeSignal(true), bus, time.Second, slog.Default())

	var got []SyncStatus
	sync.Subscribe(bus, TopicStatus, func(s SyncStatus) { got = append(got, s) })

	assert.Equal(t, StateOffline, tr.Current().State)

	src.set(Inputs{IsOnline: true, PendingItems: 1}, nil)
	st := tr.Refresh(context.Background())
	assert.True(t, st.IsOnline)
	assert.Equal(t, StatePending, st.State)

	src.set(Inputs{IsOnline: false, PendingItems: 1}, nil)
	st = tr.Refresh(context.Background())
	assert.False(t, st.IsOnline)
	assert.Equal(t, StateOffline, st.State)

	require.Len(t, got, 2)
	assert.Equal(t, st, tr.Current())
}

func TestTracker_FallsBackToPlatformSignal(t *testing.T) {
	src := &fakeSource{}
	tr := NewTracker(src, fakeSignal(false), nil, time.Second, slog.Default())

	src.set(Inputs{IsOnline: true, OpenConflicts: 1, MenuVersion: 12}, nil)
	first := tr.Refresh(context.Background())
	require.Equal(t, StateError, first.State)

	src.set(Inputs{}, errors.New("database is locked"))
	st := tr.Refresh(context.Background())

	assert.False(t, st.IsOnline)
	assert.Equal(t, StateOffline, st.State)
	assert.Equal(t, 1, st.OpenConflicts)
	assert.Equal(t, 12, st.MenuVersion)
}

func TestTracker_StuckRefreshDoesNotOverwriteNewer(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	tr := NewTracker(src, fakeSignal(true), nil, 5*time.Second, slog.Default())

	src.set(Inputs{IsOnline: false}, nil)

	done := make(chan SyncStatus)
	go func() { done <- tr.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.seq == 1
	}, time.Second, time.Millisecond)

	src.mu.Lock()
	block := src.block
	src.block = nil
	src.in = Inputs{IsOnline: true}
	src.mu.Unlock()

	fresh := tr.Refresh(context.Background())
	require.Equal(t, StateSynced, fresh.State)

	close(block)
	stale := <-done

	assert.Equal(t, StateSynced, stale.State)
	assert.Equal(t, StateSynced, tr.Current().State)
}
