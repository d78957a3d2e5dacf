package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/internal/runtime"
	srv "github.com/mohammad-safakhou/resourcefinder/internal/server"
	"github.com/mohammad-safakhou/resourcefinder/session"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")

	return serve
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := runtime.Logger("SERVE")

	telemetry, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	a, err := buildAssistant(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	expr, err := config.ParseSweepCron(cfg.Session.SweepCron)
	if err != nil {
		return err
	}
	hooks := []session.SweepFunc{func(now time.Time) {
		a.orch.EvictIdle(now)
	}}
	if a.archive != nil && cfg.Storage.Postgres.Retention > 0 {
		retention := cfg.Storage.Postgres.Retention
		hooks = append(hooks, func(now time.Time) {
			pruneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := a.archive.PruneTurnsBefore(pruneCtx, now.Add(-retention))
			if err != nil {
				logger.Printf("prune archived turns: %v", err)
				return
			}
			if n > 0 {
				logger.Printf("pruned %d archived turns", n)
			}
		})
	}
	janitor := session.NewJanitor(a.sessions, expr, runtime.Logger("JANITOR"), hooks...)
	janitor.Start(ctx)
	defer janitor.Stop()

	opts := srv.Options{
		Server:  cfg.Server,
		Session: cfg.Session,
		Chat:    a.orch,
		Logger:  runtime.Logger("HTTP"),
		Debug:   cfg.General.IsDebug(),
	}
	if a.archive != nil {
		opts.Archive = a.archive
	}
	if h := telemetry.MetricsHandler(); h != nil {
		opts.Metrics = h
		opts.MetricsPath = cfg.Telemetry.MetricsPath
	}
	e := srv.New(opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, e, cfg.Server.Address)
	}()
	logger.Printf("resource finder %s serving on %s (sessions: %s, archive: %t)", version, cfg.Server.Address, cfg.Session.Store, a.archive != nil)

	go func() {
		runtime.WaitForShutdown(ctx, "serve")
		cancel()
	}()

	if err := <-errCh; err != nil {
		log.Printf("serve: %v", err)
		return err
	}
	return nil
}
