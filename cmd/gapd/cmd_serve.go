package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/gap-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/gap-analyzer/internal/infra/sweeper"
	"github.com/bryanwahyu/gap-analyzer/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API. POST /v1/market-gap queues a run and answers 202;
progress is read back from GET /v1/market-gap/{session_id}.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Sweeper.Enabled {
		sw, err := sweeper.New(cfg.Pipeline.SandboxRoot, cfg.Sweeper.TTL, cfg.Sweeper.Schedule, a.service.Active)
		if err != nil {
			return err
		}
		sw.OnSwept = middleware.AddSandboxesSwept
		sw.Start()
		defer sw.Stop()
	}

	var limiter *middleware.SubmitLimiter
	if cfg.Server.SubmitBurst > 0 {
		limiter = middleware.NewSubmitLimiter(cfg.Server.SubmitBurst, cfg.Server.SubmitPerMinute)
		go limiter.Run(ctx, time.Minute)
	}

	handler := httpserver.NewRouter(a.service, a.stager, httpserver.Options{
		APIKeys:             middleware.KeysFromList(cfg.Server.APIKeys),
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		SubmitLimiter:       limiter,
		BlockPrivateSources: cfg.Server.BlockPrivateSources,
		Checks: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: a.db},
			"storage":  middleware.CheckFunc(a.ping),
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	// background runs are not cancelled; wait so their status records are final
	a.service.Wait()
	return nil
}
