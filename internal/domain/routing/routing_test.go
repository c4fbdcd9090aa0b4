package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, parent ParentInfo) error {
	args := m.Called(ctx, parent)
	return args.Error(0)
}

var errProbe = errors.New("parent did not answer")

func newDependent(t *testing.T, prober Prober, bus *sync.Bus) *Resolver {
	t.Helper()
	r := NewResolver(&ParentInfo{TerminalID: "main-1", Address: "http://10.0.0.2:8090"},
		"https://cloud.example.com", prober, DefaultConfig(), bus, slog.Default())

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(10 * time.Second)
		return clock
	}
	return r
}

func TestResolver_InitialModes(t *testing.T) {
	root := NewResolver(nil, "https://cloud.example.com", nil, DefaultConfig(), nil, slog.Default())
	assert.Equal(t, ModeMain, root.State().Mode)
	root.Report(errProbe)
	root.ConnectivityLost()
	assert.Equal(t, ModeMain, root.State().Mode)
	require.NoError(t, root.Probe(context.Background()))

	dep := newDependent(t, nil, nil)
	assert.Equal(t, ModeUnknown, dep.State().Mode)
	route := dep.Route()
	assert.Equal(t, "https://cloud.example.com", route.Address)
	assert.False(t, route.ViaParent)
}

func TestResolver_SingleMissDoesNotFlip(t *testing.T) {
	r := newDependent(t, nil, nil)

	r.Report(nil)
	require.Equal(t, ModeViaParent, r.State().Mode)

	r.Report(errProbe)
	assert.Equal(t, ModeViaParent, r.State().Mode)
	r.Report(nil)
	r.Report(errProbe)
	r.Report(errProbe)
	assert.Equal(t, ModeViaParent, r.State().Mode)

	r.Report(errProbe)
	st := r.State()
	assert.Equal(t, ModeDirectCloud, st.Mode)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.Equal(t, errProbe.Error(), st.LastProbeError)
}

func TestResolver_RecoveryNeedsConsecutiveSuccesses(t *testing.T) {
	r := newDependent(t, nil, nil)
	r.Report(errProbe)
	require.Equal(t, ModeDirectCloud, r.State().Mode)

	r.Report(nil)
	assert.Equal(t, ModeDirectCloud, r.State().Mode)
	r.Report(errProbe)
	r.Report(nil)
	assert.Equal(t, ModeDirectCloud, r.State().Mode)
	r.Report(nil)
	assert.Equal(t, ModeViaParent, r.State().Mode)
	assert.True(t, r.State().IsParentReachable)
}

func TestResolver_ConnectivityLostForcesDirect(t *testing.T) {
	bus := sync.NewBus()
	r := newDependent(t, nil, bus)

	var modes []Mode
	sync.Subscribe(bus, TopicChanged, func(s State) { modes = append(modes, s.Mode) })

	r.Report(nil)
	r.ConnectivityLost()
	r.ConnectivityLost()

	assert.Equal(t, []Mode{ModeViaParent, ModeDirectCloud}, modes)
	assert.Equal(t, 0, r.State().ConsecutiveSuccesses)
}

func TestResolver_RouteIsNotRetroactive(t *testing.T) {
	r := newDependent(t, nil, nil)
	r.Report(nil)

	captured := r.Route()
	r.ConnectivityLost()

	assert.True(t, captured.ViaParent)
	assert.Equal(t, "http://10.0.0.2:8090", captured.Address)
	assert.False(t, r.Route().ViaParent)
}

func TestResolver_ProbeUsesProber(t *testing.T) {
	prober := new(MockProber)
	r := newDependent(t, prober, nil)

	parent := ParentInfo{TerminalID: "main-1", Address: "http://10.0.0.2:8090"}
	prober.On("Probe", mock.Anything, parent).Return(errProbe).Once()
	prober.On("Probe", mock.Anything, parent).Return(nil).Once()

	err := r.Probe(context.Background())
	assert.ErrorIs(t, err, errProbe)
	assert.Equal(t, ModeDirectCloud, r.State().Mode)

	require.NoError(t, r.Probe(context.Background()))
	prober.AssertExpectations(t)
}

func TestResolver_ReachabilityExpires(t *testing.T) {
	r := newDependent(t, nil, nil)
	r.Report(nil)
	assert.True(t, r.State().IsParentReachable)

	base := r.now()
	r.now = func() time.Time { return base.Add(DefaultReachabilityTTL + time.Second) }
	st := r.State()
	assert.False(t, st.IsParentReachable)
	assert.Equal(t, ModeViaParent, st.Mode)
}
