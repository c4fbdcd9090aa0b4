package status

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"possync/internal/domain/routing"
	domain "possync/internal/domain/status"
)

// Provider снимки состояния главного терминала.
type Provider interface {
	Status() domain.SyncStatus
	RoutingStatus() routing.State
}

type Handler struct {
	terminalID string
	provider   Provider
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(terminalID string, provider Provider, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		terminalID: terminalID,
		provider:   provider,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.getStatusOp(), h.getStatus)
}

func (h *Handler) getStatus(_ context.Context, _ *Input) (*Output, error) {
	return &Output{
		Body: Response{
			TerminalID: h.terminalID,
			Status:     h.provider.Status(),
			Routing:    h.provider.RoutingStatus(),
		},
	}, nil
}
