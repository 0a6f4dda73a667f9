// Command ingest-worker consumes document.uploaded events and drives each
// document through parse, chunk, embed and vector upsert.
//
// Key Responsibilities:
//   - Load configuration and wire the runtime (Postgres, bus, object store,
//     embedding and vector clients)
//   - Run the consumer pool until SIGINT/SIGTERM
//   - Serve health/readiness probes and Prometheus metrics
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/faqforge/faqforge/internal/bootstrap"
	"github.com/faqforge/faqforge/internal/config"
	"github.com/faqforge/faqforge/internal/logging"
	"github.com/faqforge/faqforge/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logger := logging.New("ingest-worker", cfg.LogLevel)

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()

	// Probe-only HTTP server: /healthz, /readyz, /metrics.
	srv := server.New(server.Options{
		Port:        cfg.Port,
		Logger:      logger,
		ServiceName: "ingest-worker",
		Readiness:   rt.Readiness,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("probe server error")
		}
	}()

	if rt.Retrier != nil {
		go rt.Retrier.Run(ctx)
	}

	logger.Info().
		Int("concurrency", cfg.MaxConcurrentJobs).
		Str("topic", cfg.KafkaTopicUploaded).
		Str("group", cfg.KafkaGroupID).
		Msg("starting ingest-worker")

	if err := rt.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	logger.Info().Msg("shutdown complete")
}
