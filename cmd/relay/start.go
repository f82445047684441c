package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outboxrelay/relay/internal/adapters/health"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the relay continuously until signalled to stop",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := wire(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.sup.Start(ctx); err != nil {
		return err
	}
	a.log.Info().Str("mode", string(cfg.Relay.Mode)).Msg("relay started")

	healthSrv := health.NewServer(cfg.Relay.HealthAddr, a.sup, a.sup, a.store, a.pub, a.cb,
		cfg.Relay.StartupTimeout, cfg.Relay.CORSAllowedOrigins)
	go func() {
		a.log.Info().Str("addr", cfg.Relay.HealthAddr).Msg("health surface listening")
		if err := healthSrv.Start(); err != nil {
			a.log.Error().Err(err).Msg("health server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.GracefulShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if err := a.sup.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("error during supervisor shutdown")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("error shutting down health server")
	}

	a.log.Info().Msg("relay stopped")
	return nil
}
