// Package branch запускает API главного терминала филиала.
package branch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"possync/internal/app/branch/api"
	"possync/internal/app/branch/events"
	"possync/internal/domain/sync"
)

const shutdownTimeout = 5 * time.Second

// Server HTTP сервер филиала и раздача событий.
type Server struct {
	addr string
	deps api.Deps
	bus  *sync.Bus
	log  *slog.Logger
}

// NewServer создает сервер. deps.Hub заполняется сервером.
func NewServer(addr string, deps api.Deps, bus *sync.Bus, log *slog.Logger) *Server {
	return &Server{
		addr: addr,
		deps: deps,
		bus:  bus,
		log:  log.With("component", "branch_server"),
	}
}

// Run слушает addr до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает ln до отмены ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hub := events.NewHub(s.log)
	deps := s.deps
	deps.Hub = hub

	srv := &http.Server{
		Handler:           api.New(deps, s.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if s.bus != nil {
		detach := hub.Attach(s.bus)
		defer detach()
	}

	g.Go(func() error {
		s.log.Info("branch API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("branch API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("branch API shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
