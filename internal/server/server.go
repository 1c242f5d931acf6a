// Package server ties the worker pool, registry, signaling channel and
// HTTP surface into one idempotent start/stop lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Fleet/internal/adapters/http"
	"github.com/dkeye/Fleet/internal/adapters/signal"
	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
)

type Server struct {
	cfg    *config.Config
	fleet  *app.FleetState
	sig    *signal.Controller
	engine http.Handler

	mu      sync.Mutex
	ln      net.Listener
	httpSrv *http.Server
	started bool
	stopped bool
}

func New(ctx context.Context, cfg *config.Config, fleet *app.FleetState, adm *app.AdmissionController, sig *signal.Controller) *Server {
	return &Server{
		cfg:    cfg,
		fleet:  fleet,
		sig:    sig,
		engine: router.SetupRouter(ctx, cfg, fleet, adm, sig),
	}
}

// Start initializes the worker pool strictly before the listener is
// bound, so no request can observe a partially constructed pool. A
// second call while the listener is bound is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.stopped {
		return fmt.Errorf("server already stopped")
	}

	if err := s.fleet.Pool.Start(ctx, s.cfg.NumWorkers); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.fleet.Pool.Shutdown(ctx)
		return fmt.Errorf("bind listener: %w", err)
	}
	s.ln = ln
	s.httpSrv = &http.Server{Handler: s.engine}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("module", "server").Msg("serve error")
		}
	}()

	s.started = true
	log.Info().Str("module", "server").Str("addr", ln.Addr().String()).Msg("server started")
	return nil
}

// Addr reports the bound address; empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop tears everything down in dependency order: first the signaling
// accept path, so nothing new arrives mid-teardown; then every room,
// tolerating engine references that are already gone; then the
// listener; then every worker, collecting rather than propagating
// per-worker errors; finally the in-memory collections. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.sig.StopAccepting()
	s.fleet.Rooms.CloseAll()
	s.sig.Shutdown()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("module", "server").Msg("http shutdown")
	}

	s.fleet.Pool.Shutdown(ctx)

	log.Info().Str("module", "server").Msg("server stopped")
	return nil
}
