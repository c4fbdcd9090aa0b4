package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	domain "possync/internal/domain/order"
	"possync/internal/domain/sync"
)

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) PushOrder(ctx context.Context, o domain.Order, baseVersion int64, key string) (*domain.Order, error) {
	args := m.Called(ctx, o, baseVersion, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockRelay) FetchOrder(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func testOrder(version int64) domain.Order {
	return domain.Order{
		ID:            "ord-1",
		Version:       version,
		Status:        domain.StatusPreparing,
		Items:         []domain.Item{{ProductID: "tea", Name: "Tea", Quantity: 1, UnitPrice: decimal.NewFromInt(2)}},
		Pricing:       domain.Pricing{Subtotal: decimal.NewFromInt(2), Total: decimal.NewFromInt(2)},
		PaymentStatus: domain.PaymentPending,
	}
}

func setup(t *testing.T) (humatest.TestAPI, *MockRelay) {
	t.Helper()
	_, api := humatest.New(t)
	relay := new(MockRelay)
	NewHandler(relay, slog.Default(), huma.Middlewares{}).SetupRoutes(api)
	return api, relay
}

func TestHandler_PushAccepted(t *testing.T) {
	api, relay := setup(t)

	accepted := testOrder(6)
	relay.On("PushOrder", mock.Anything, mock.MatchedBy(func(o domain.Order) bool {
		return o.ID == "ord-1" && o.Status == domain.StatusPreparing
	}), int64(5), "key-1").Return(&accepted, nil)

	resp := api.Post("/api/v1/orders/ord-1/push", "Idempotency-Key: key-1",
		PushRequest{Order: testOrder(5), BaseVersion: 5})

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var got domain.Order
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, int64(6), got.Version)
	relay.AssertExpectations(t)
}

func TestHandler_PushConflictPassesRemoteThrough(t *testing.T) {
	api, relay := setup(t)

	remote := testOrder(6)
	remote.DriverID = "drv-3"
	relay.On("PushOrder", mock.Anything, mock.Anything, int64(5), "").
		Return(nil, &domain.VersionConflictError{OrderID: "ord-1", BaseVersion: 5, Remote: &remote})

	resp := api.Post("/api/v1/orders/ord-1/push", PushRequest{Order: testOrder(5), BaseVersion: 5})

	require.Equal(t, http.StatusConflict, resp.Code)
	var body struct {
		Error  string        `json:"error"`
		Remote *domain.Order `json:"remote"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Remote)
	assert.Equal(t, int64(6), body.Remote.Version)
	assert.Equal(t, "drv-3", body.Remote.DriverID)
}

func TestHandler_PushRejectsInvalidOrder(t *testing.T) {
	api, relay := setup(t)

	bad := testOrder(5)
	bad.PreparationProgress = 150
	resp := api.Post("/api/v1/orders/ord-1/push", PushRequest{Order: bad, BaseVersion: 5})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	relay.AssertNotCalled(t, "PushOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_PushPathMismatch(t *testing.T) {
	api, _ := setup(t)

	resp := api.Post("/api/v1/orders/ord-2/push", PushRequest{Order: testOrder(5), BaseVersion: 5})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRelayError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", sync.Validation("push", errors.New("bad")), http.StatusUnprocessableEntity},
		{"permanent", sync.Permanent("push", errors.New("gone")), http.StatusNotFound},
		{"connectivity", sync.Connectivity("push", errors.New("refused")), http.StatusBadGateway},
		{"transient", sync.Transient("push", errors.New("503")), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var se huma.StatusError
			require.ErrorAs(t, relayError(tt.err), &se)
			assert.Equal(t, tt.status, se.GetStatus())
		})
	}
}

func TestHandler_Fetch(t *testing.T) {
	api, relay := setup(t)

	current := testOrder(9)
	relay.On("FetchOrder", mock.Anything, "ord-1").Return(&current, nil)
	relay.On("FetchOrder", mock.Anything, "ord-404").Return(nil, sync.Permanent("fetch", errors.New("not found")))

	resp := api.Get("/api/v1/orders/ord-1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"version":9`)

	resp = api.Get("/api/v1/orders/ord-404")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
