package conflict

import (
	"context"
	"errors"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/order"
	"possync/internal/domain/sync"
)

// MockPusher is a mock implementation of the Pusher interface for testing
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) PushResolution(ctx context.Context, o order.Order, baseVersion int64, key string) (*order.Order, error) {
	args := m.Called(ctx, o, baseVersion, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type memRepository struct {
	mu        gosync.Mutex
	conflicts map[string]OrderConflict
	pending   map[string]PendingResolution
	applied   map[string]order.Order
}

func newMemRepository() *memRepository {
	return &memRepository{
		conflicts: make(map[string]OrderConflict),
		pending:   make(map[string]PendingResolution),
		applied:   make(map[string]order.Order),
	}
}

func (r *memRepository) Create(_ context.Context, c OrderConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[c.ID] = c
	return nil
}

func (r *memRepository) Get(_ context.Context, id string) (*OrderConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *memRepository) ListOpen(_ context.Context) ([]OrderConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OrderConflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepository) ListByOrder(ctx context.Context, orderID string) ([]OrderConflict, error) {
	all, _ := r.ListOpen(ctx)
	var out []OrderConflict
	for _, c := range all {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conflicts), nil
}

func (r *memRepository) Apply(_ context.Context, conflictID string, resolved order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conflicts[conflictID]; !ok {
		return ErrNotFound
	}
	delete(r.conflicts, conflictID)
	delete(r.pending, conflictID)
	r.applied[resolved.ID] = resolved
	return nil
}

func (r *memRepository) Replace(_ context.Context, oldID string, c OrderConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conflicts[oldID]; !ok {
		return ErrNotFound
	}
	delete(r.conflicts, oldID)
	delete(r.pending, oldID)
	r.conflicts[c.ID] = c
	return nil
}

func (r *memRepository) SavePending(_ context.Context, p PendingResolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.pending[p.ConflictID]; ok {
		p.Attempts = old.Attempts + 1
		p.CreatedAt = old.CreatedAt
	}
	r.pending[p.ConflictID] = p
	return nil
}

func (r *memRepository) ListPending(_ context.Context) ([]PendingResolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingResolution, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.conflicts[out[i].ConflictID].CreatedAt.Before(r.conflicts[out[j].ConflictID].CreatedAt)
	})
	return out, nil
}

func (r *memRepository) CountPending(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), nil
}

var errOffline = sync.Connectivity("push order", errors.New("dial tcp: connection refused"))

func baseOrder() order.Order {
	return order.Order{
		ID:      "ord-42",
		Version: 5,
		Status:  order.StatusPreparing,
		Items: []order.Item{
			{ProductID: "pizza", Name: "Pizza", Quantity: 1, UnitPrice: decimal.RequireFromString("11.00")},
		},
		Pricing: order.Pricing{
			Subtotal: decimal.RequireFromString("11.00"),
			Discount: decimal.Zero,
			Total:    decimal.RequireFromString("11.00"),
		},
		PaymentStatus: order.PaymentPending,
	}
}

// v5 base, local sets preparation progress, remote v6 assigns a driver
func driverScenario() (order.LocalOrder, order.Order) {
	base := baseOrder()
	local := base.Clone()
	local.PreparationProgress = 80

	remote := base.Clone()
	remote.Version = 6
	remote.DriverID = "drv-3"

	return order.LocalOrder{Current: local, Base: base, State: order.StatePending}, remote
}

func newTestService(t *testing.T) (*Service, *memRepository, *MockPusher) {
	t.Helper()
	repo := newMemRepository()
	pusher := new(MockPusher)
	s := NewService(repo, pusher, sync.NewBus(), slog.Default())

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s, repo, pusher
}

func TestDetect_ConflictIffVersionsDiffer(t *testing.T) {
	local, remote := driverScenario()

	c, ok := Detect(local, remote, time.Now())
	require.True(t, ok)
	assert.Equal(t, int64(5), c.LocalVersion)
	assert.Equal(t, int64(6), c.RemoteVersion)
	assert.Equal(t, TypeDriverAssignment, c.Type)
	assert.Equal(t, order.FieldDriver, c.Field)
	assert.Equal(t, []order.Field{order.FieldPreparation}, c.LocalFields)
	assert.Equal(t, []order.Field{order.FieldDriver}, c.RemoteFields)

	remote.Version = 5
	_, ok = Detect(local, remote, time.Now())
	assert.False(t, ok)
}

func TestInferType(t *testing.T) {
	base := baseOrder()

	tests := []struct {
		name   string
		local  func(o *order.Order)
		remote func(o *order.Order)
		want   Type
	}{
		{
			name:   "remote cancellation wins",
			local:  func(o *order.Order) { o.PaymentStatus = order.PaymentPaid },
			remote: func(o *order.Order) { o.Status = order.StatusCancelled },
			want:   TypeCancellation,
		},
		{
			name:   "local cancellation",
			local:  func(o *order.Order) { o.Status = order.StatusCancelled },
			remote: func(o *order.Order) { o.DriverID = "drv-1" },
			want:   TypeCancellation,
		},
		{
			name:   "payment before price",
			local:  func(o *order.Order) {},
			remote: func(o *order.Order) { o.PaymentStatus = order.PaymentPaid; o.Pricing.Discount = decimal.NewFromInt(1) },
			want:   TypePaymentStatus,
		},
		{
			name:   "remote unchanged falls back to local fields",
			local:  func(o *order.Order) { o.Customer.Phone = "+7" },
			remote: func(o *order.Order) {},
			want:   TypeCustomerInfo,
		},
		{
			name:   "nothing changed",
			local:  func(o *order.Order) {},
			remote: func(o *order.Order) {},
			want:   TypeStatusChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := base.Clone()
			tt.local(&local)
			remote := base.Clone()
			remote.Version = 6
			tt.remote(&remote)

			got, _ := InferType(local, remote, order.Diff(base, local), order.Diff(base, remote))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanMergeAndWinner(t *testing.T) {
	local, remote := driverScenario()
	c, _ := Detect(local, remote, time.Now())

	require.True(t, CanMerge(*c))
	merged, err := Winner(*c, Merge)
	require.NoError(t, err)
	assert.Equal(t, "drv-3", merged.DriverID)
	assert.Equal(t, 80, merged.PreparationProgress)
	assert.Equal(t, int64(7), merged.Version)

	kept, err := Winner(*c, KeepLocal)
	require.NoError(t, err)
	assert.Empty(t, kept.DriverID)
	assert.Equal(t, int64(7), kept.Version)

	// items on one side and pricing on the other overlap
	overlap := *c
	overlap.LocalFields = []order.Field{order.FieldItems}
	overlap.RemoteFields = []order.Field{order.FieldPricing}
	assert.False(t, CanMerge(overlap))
	_, err = Winner(overlap, Merge)
	assert.ErrorIs(t, err, ErrMergeNotAllowed)

	cancelled := *c
	cancelled.Type = TypeCancellation
	assert.False(t, CanMerge(cancelled))

	_, err = Winner(*c, "newest")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestService_ResolveSuccessRemovesConflict(t *testing.T) {
	s, repo, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	c, err := s.Record(ctx, local, remote)
	require.NoError(t, err)

	again, err := s.Record(ctx, local, remote)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)

	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).
		Return(nil, nil)

	res := s.Resolve(ctx, c.ID, Merge)
	require.True(t, res.Success, res.Error)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, int64(7), repo.applied["ord-42"].Version)
	assert.Equal(t, "drv-3", repo.applied["ord-42"].DriverID)
}

func TestService_ResolveOfflineKeepsConflictUnchanged(t *testing.T) {
	s, repo, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	c, err := s.Record(ctx, local, remote)
	require.NoError(t, err)
	before, err := s.Get(ctx, c.ID)
	require.NoError(t, err)

	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).Return(nil, errOffline).Once()

	res := s.Resolve(ctx, c.ID, KeepLocal)
	assert.False(t, res.Success)
	assert.Equal(t, "connectivity", res.Kind)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, *before, open[0])
	require.Contains(t, repo.pending, c.ID)
	assert.Equal(t, KeepLocal, repo.pending[c.ID].Strategy)

	// reconnect
	accepted := remote.Clone()
	accepted.Version = 7
	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).Return(&accepted, nil).Once()

	report, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.pending)
}

func TestService_ReplayStopsOnConnectivityFailure(t *testing.T) {
	s, repo, pusher := newTestService(t)
	ctx := context.Background()

	var ids []string
	for _, id := range []string{"ord-1", "ord-2"} {
		local, remote := driverScenario()
		local.Base.ID, local.Current.ID, remote.ID = id, id, id
		c, err := s.Record(ctx, local, remote)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	pusher.On("PushResolution", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errOffline)
	for _, id := range ids {
		s.Resolve(ctx, id, KeepRemote)
	}
	require.Len(t, repo.pending, 2)

	report, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Remaining)
	assert.Equal(t, 2, repo.pending[ids[0]].Attempts)
	assert.Equal(t, 1, repo.pending[ids[1]].Attempts)
}

func TestService_OlderConflictBlocksNewer(t *testing.T) {
	s, _, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	older, err := s.Record(ctx, local, remote)
	require.NoError(t, err)

	remote7 := remote.Clone()
	remote7.Version = 7
	remote7.Status = order.StatusReady
	newer, err := s.Record(ctx, local, remote7)
	require.NoError(t, err)

	res := s.Resolve(ctx, newer.ID, KeepRemote)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrOlderConflictPending.Error())
	pusher.AssertNotCalled(t, "PushResolution", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	pusher.On("PushResolution", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	assert.True(t, s.Resolve(ctx, older.ID, KeepRemote).Success)
	assert.True(t, s.Resolve(ctx, newer.ID, KeepRemote).Success)
}

func TestService_ResolveUnknownConflict(t *testing.T) {
	s, _, _ := newTestService(t)

	res := s.Resolve(context.Background(), "missing", KeepLocal)
	assert.False(t, res.Success)
	assert.Equal(t, "permanent", res.Kind)

	res = s.Resolve(context.Background(), "missing", "newest")
	assert.Equal(t, "validation", res.Kind)
}

func TestService_SameOrderResolutionsAreSerialized(t *testing.T) {
	s, _, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	c, err := s.Record(ctx, local, remote)
	require.NoError(t, err)

	started := make(chan struct{})
	unblock := make(chan struct{})
	pusher.On("PushResolution", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-unblock
		}).Return(nil, nil).Once()

	results := make(chan sync.Result, 2)
	go func() { results <- s.Resolve(ctx, c.ID, KeepLocal) }()
	<-started

	go func() { results <- s.Resolve(ctx, c.ID, KeepRemote) }()
	require.Eventually(t, func() bool { return s.orders.Waiting("ord-42") == 2 }, time.Second, time.Millisecond)
	close(unblock)

	first := <-results
	second := <-results
	assert.True(t, first.Success)
	assert.False(t, second.Success)
	assert.Equal(t, "permanent", second.Kind)
	pusher.AssertNumberOfCalls(t, "PushResolution", 1)
}

func TestService_NewerRemoteVersionReplacesConflict(t *testing.T) {
	s, repo, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	c, err := s.Record(ctx, local, remote)
	require.NoError(t, err)

	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).Return(nil, errOffline).Once()
	s.Resolve(ctx, c.ID, KeepLocal)
	require.Contains(t, repo.pending, c.ID)

	// the kitchen moved the order again while the terminal was offline
	remote8 := remote.Clone()
	remote8.Version = 8
	remote8.Status = order.StatusReady
	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).
		Return(nil, &order.VersionConflictError{OrderID: "ord-42", BaseVersion: 6, Remote: &remote8}).Once()

	report, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Stopped)
	assert.Empty(t, repo.pending)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	next := open[0]
	assert.NotEqual(t, c.ID, next.ID)
	assert.Equal(t, int64(5), next.LocalVersion)
	assert.Equal(t, int64(8), next.RemoteVersion)
	assert.Equal(t, c.CreatedAt, next.CreatedAt)
	assert.Equal(t, c.LocalValue, next.LocalValue)
	assert.ElementsMatch(t, []order.Field{order.FieldDriver, order.FieldStatus}, next.RemoteFields)

	// resolving the stale conflict id now fails as not found
	res := s.Resolve(ctx, c.ID, KeepLocal)
	assert.Equal(t, "permanent", res.Kind)

	accepted := remote8.Clone()
	accepted.Version = 9
	accepted.PreparationProgress = 80
	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(8), next.ID).Return(&accepted, nil).Once()

	res = s.Resolve(ctx, next.ID, Merge)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(9), repo.applied["ord-42"].Version)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_ResolveReportsNewerRemoteAsConflict(t *testing.T) {
	s, _, pusher := newTestService(t)
	ctx := context.Background()

	local, remote := driverScenario()
	c, err := s.Record(ctx, local, remote)
	require.NoError(t, err)

	remote7 := remote.Clone()
	remote7.Version = 7
	remote7.PaymentStatus = order.PaymentPaid
	pusher.On("PushResolution", mock.Anything, mock.Anything, int64(6), c.ID).
		Return(nil, &order.VersionConflictError{OrderID: "ord-42", BaseVersion: 6, Remote: &remote7}).Once()

	res := s.Resolve(ctx, c.ID, KeepLocal)
	assert.False(t, res.Success)
	assert.Equal(t, "conflict", res.Kind)
	assert.Contains(t, res.Error, ErrConflictSuperseded.Error())
	assert.NotEmpty(t, res.Message)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(7), open[0].RemoteVersion)
	assert.Equal(t, TypePaymentStatus, open[0].Type)
}

func TestService_ResolveCancelledWhileWaiting(t *testing.T) {
	s, _, pusher := newTestService(t)

	local, remote := driverScenario()
	c, err := s.Record(context.Background(), local, remote)
	require.NoError(t, err)

	release, err := s.orders.Acquire(context.Background(), "ord-42")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Resolve(ctx, c.ID, KeepLocal)
	assert.False(t, res.Success)
	assert.Equal(t, "transient", res.Kind)
	assert.Equal(t, "cancelled", res.Message)
	pusher.AssertNotCalled(t, "PushResolution", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
