// Command content-api serves document lifecycle management and the RAG chat
// surface: upload issuance, status reporting, chat queries and conversation
// history.
//
// Key Responsibilities:
//   - Load configuration and wire the runtime (Postgres, bus, object store,
//     embedding/generation/vector clients)
//   - Serve /v1/documents and /v1/chat routes behind the HMAC + bearer gates
//   - Run the outbox retry loop so parked events reach the bus
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
	logger := logging.New("content-api", cfg.LogLevel)

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime")
	}
	defer rt.Close()

	contentHandler := httpapi.NewContentHandler(rt.Content, rt.Identity, rt.Local, logger)
	chatHandler := httpapi.NewChatHandler(rt.RAG, rt.Identity, logger)
	srv := server.New(server.Options{
		Port:        cfg.Port,
		Logger:      logger,
		ServiceName: "content-api",
		CORSOrigin:  cfg.CORSOrigin,
		Readiness:   rt.Readiness,
		RegisterRoutes: func(r chi.Router) {
			contentHandler.Routes(r)
			chatHandler.Routes(r)
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting content-api")
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
