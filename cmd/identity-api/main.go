// Command identity-api serves the trust fabric: organization registration,
// login, token refresh and the two validation endpoints other services call.
//
// Key Responsibilities:
//   - Load configuration and wire the runtime (Postgres, optional Redis)
//   - Serve /v1/org and /v1/auth and /v1/users routes
//   - Health/readiness probes and Prometheus metrics
//   - Graceful shutdown on SIGINT/SIGTERM
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faqforge/faqforge/internal/bootstrap"
	"github.com/faqforge/faqforge/internal/config"
	"github.com/faqforge/faqforge/internal/httpapi"
	"github.com/faqforge/faqforge/internal/logging"
	"github.com/faqforge/faqforge/internal/server"
)

func main() {
	ctx := context.Background()
	cfg := config.MustLoad()
	logger := logging.New("identity-api", cfg.LogLevel)

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()

	handler := httpapi.NewIdentityHandler(rt.Identity, logger)
	srv := server.New(server.Options{
		Port:        cfg.Port,
		Logger:      logger,
		ServiceName: "identity-api",
		CORSOrigin:  cfg.CORSOrigin,
		Readiness:   rt.Readiness,
		RegisterRoutes: func(r chi.Router) {
			handler.Routes(r)
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting identity-api")
		serverErrors <- srv.ListenAndServe()
	}()

	retryCtx, cancelRetry := context.WithCancel(ctx)
	defer cancelRetry()
	if rt.Retrier != nil {
		go rt.Retrier.Run(retryCtx)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			_ = srv.Close()
		}
		logger.Info().Msg("shutdown complete")
	}
}
