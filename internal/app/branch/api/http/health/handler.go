package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Handler цель проверки доступности главного терминала.
type Handler struct {
	terminalID string
	branchID   string
	log        *slog.Logger
	middleware huma.Middlewares
	now        func() time.Time
}

func NewHandler(terminalID, branchID string, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		terminalID: terminalID,
		branchID:   branchID,
		log:        log,
		middleware: middleware,
		now:        time.Now,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(_ context.Context, _ *Input) (*Output, error) {
	return &Output{
		Body: Response{
			Status:     "OK",
			TerminalID: h.terminalID,
			BranchID:   h.branchID,
			Time:       h.now().UTC().Format(time.RFC3339),
		},
	}, nil
}
