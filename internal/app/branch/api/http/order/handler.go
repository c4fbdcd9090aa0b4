package order

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	domain "possync/internal/domain/order"
	"possync/internal/domain/sync"
)

// Relay пересылает запросы дочерних терминалов в облако.
type Relay interface {
	PushOrder(ctx context.Context, o domain.Order, baseVersion int64, idempotencyKey string) (*domain.Order, error)
	FetchOrder(ctx context.Context, id string) (*domain.Order, error)
}

type Handler struct {
	relay      Relay
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(relay Relay, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		relay:      relay,
		log:        log.With("component", "order_relay"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.fetchOp(), h.fetch)
}

func (h *Handler) push(ctx context.Context, in *pushInput) (*pushOutput, error) {
	var req PushRequest
	if err := json.Unmarshal(in.RawBody, &req); err != nil {
		return nil, huma.Error400BadRequest("invalid push body", err)
	}
	if req.Order.ID == "" {
		req.Order.ID = in.ID
	}
	if req.Order.ID != in.ID {
		return nil, huma.Error400BadRequest("order id does not match path")
	}
	if err := req.Order.Validate(); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	key := in.IdempotencyKey
	if key == "" {
		key = req.IdempotencyKey
	}

	accepted, err := h.relay.PushOrder(ctx, req.Order, req.BaseVersion, key)
	if err != nil {
		h.log.Info("order push relay failed",
			"order_id", in.ID, "terminal_id", in.TerminalID, "error", err)
		return nil, relayError(err)
	}

	h.log.Debug("order push relayed",
		"order_id", in.ID, "terminal_id", in.TerminalID, "version", accepted.Version)
	return &pushOutput{Body: *accepted}, nil
}

func (h *Handler) fetch(ctx context.Context, in *fetchInput) (*fetchOutput, error) {
	o, err := h.relay.FetchOrder(ctx, in.ID)
	if err != nil {
		return nil, relayError(err)
	}
	return &fetchOutput{Body: *o}, nil
}

// relayError сохраняет класс ошибки облака в коде ответа, чтобы дочерний
// терминал классифицировал ее так же.
func relayError(err error) error {
	var vc *domain.VersionConflictError
	if errors.As(err, &vc) && vc.Remote != nil {
		return &ConflictError{Message: err.Error(), Remote: vc.Remote}
	}

	switch sync.KindOf(err) {
	case sync.KindValidation:
		return huma.Error422UnprocessableEntity(err.Error())
	case sync.KindPermanent:
		return huma.Error404NotFound(err.Error())
	case sync.KindConnectivity:
		return huma.Error502BadGateway(err.Error())
	default:
		return huma.Error503ServiceUnavailable(err.Error())
	}
}
