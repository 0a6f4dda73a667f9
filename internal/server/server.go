// Package server builds the shared HTTP server used by the identity and
// content binaries.
//
// Purpose:
//   Every service gets the same operational surface for free: health and
//   readiness probes, the Prometheus endpoint, CORS, panic recovery and
//   structured request logging. Services only register their own routes.
//
// Dependencies:
//   - github.com/go-chi/chi/v5: router and standard middleware
//   - github.com/prometheus/client_golang: /metrics handler
//   - github.com/rs/zerolog: request logging
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/metrics"
)

// Options configure the HTTP server instance.
type Options struct {
	Port           int
	Logger         zerolog.Logger
	ServiceName    string
	CORSOrigin     string
	Readiness      func(context.Context) error
	RegisterRoutes func(chi.Router)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// New constructs an http.Server pre-configured with probes, metrics and the
// service's routes.
func New(opts Options) *http.Server {
	if opts.Readiness == nil {
		opts.Readiness = func(context.Context) error { return nil }
	}
	logger := opts.Logger.With().Str("component", "http").Logger()

	router := chi.NewRouter()
	router.Use(corsMiddleware(opts.CORSOrigin))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := opts.Readiness(ctx); err != nil {
			logger.Warn().Err(err).Msg("readiness check failed")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	if opts.RegisterRoutes != nil {
		opts.RegisterRoutes(router)
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestOrigin := r.Header.Get("Origin")
			allowed := origin != "" && (origin == "*" || origin == requestOrigin)

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", requestOrigin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID, X-Timestamp, X-Signature")
					w.Header().Set("Access-Control-Max-Age", "3600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", requestOrigin)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(ww.statusCode)).Observe(elapsed.Seconds())
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.statusCode).
				Dur("duration", elapsed).
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request completed")
		})
	}
}
