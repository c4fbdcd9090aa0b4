// Package api API главного терминала для дочерних терминалов филиала.
//
//	GET  /api/v1/health          проверка доступности (цель probe)
//	POST /api/v1/orders/{id}/push отправка заказа через главный терминал
//	GET  /api/v1/orders/{id}      текущий заказ облака
//	GET  /api/v1/status           статус синхронизации главного терминала
//	GET  /api/v1/events           websocket поток событий
package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"possync/internal/app/branch/api/http/health"
	"possync/internal/app/branch/api/http/middleware"
	"possync/internal/app/branch/api/http/middleware/logger"
	orderAPI "possync/internal/app/branch/api/http/order"
	statusAPI "possync/internal/app/branch/api/http/status"
	"possync/internal/app/branch/events"
)

// Deps зависимости API.
type Deps struct {
	TerminalID string
	BranchID   string
	Relay      orderAPI.Relay
	Status     statusAPI.Provider
	Hub        *events.Hub
}

type Handlers struct {
	Health *health.Handler
	Order  *orderAPI.Handler
	Status *statusAPI.Handler
}

// New создает *chi.Mux со всеми операциями.
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	API := humachi.New(mux, huma.DefaultConfig("possync branch API", "1.0.0"))

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Order.SetupRoutes(API)
	h.Status.SetupRoutes(API)

	if deps.Hub != nil {
		mux.Get("/api/v1/events", deps.Hub.ServeWS)
	}

	return mux
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := health.NewHandler(deps.TerminalID, deps.BranchID, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	orderHandler := orderAPI.NewHandler(deps.Relay, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	statusHandler := statusAPI.NewHandler(deps.TerminalID, deps.Status, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Order:  orderHandler,
		Status: statusHandler,
	}
}
