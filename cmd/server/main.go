package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Fleet/internal/adapters/engine"
	sig "github.com/dkeye/Fleet/internal/adapters/signal"
	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
	"github.com/dkeye/Fleet/internal/server"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	eng := engine.NewPionEngine(engine.Config{
		MinPort:    cfg.RTCMinPort,
		MaxPort:    cfg.RTCMaxPort,
		ICEServers: engine.DefaultConfig().ICEServers,
	})
	fleet := app.NewFleetState(instanceID, version, eng)
	adm := app.NewAdmissionController(fleet.Rooms)
	ctl := sig.NewController(cfg, fleet, adm)

	srv := server.New(ctx, cfg, fleet, adm, ctl)
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start")
		os.Exit(1)
	}
	log.Info().Str("instance", instanceID).Str("version", version).Str("addr", srv.Addr()).Msg("fleet instance started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
