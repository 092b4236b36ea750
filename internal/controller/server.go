// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"shipsanity/internal/controller/handlers"
	"shipsanity/internal/controller/middleware"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// Options configures the server beyond its handlers.
type Options struct {
	// InternalSecret guards every /internal route. Empty disables them.
	InternalSecret string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// RunRPS throttles synchronous runs per client. Zero disables throttling.
	RunRPS   float64
	RunBurst int
	Logger   *slog.Logger
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	authMW := middleware.RequireInternalAuth(opts.InternalSecret)
	throttle := middleware.NewThrottle(opts.RunRPS, opts.RunBurst)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Internal endpoints
	// Called by the external cron and by operators through shipctl.
	mux.Handle("POST /internal/cron", authMW(http.HandlerFunc(h.Cron)))
	mux.Handle("GET /internal/queue/counts", authMW(http.HandlerFunc(h.QueueCounts)))
	mux.Handle("POST /internal/scenarios/{id}/enqueue", authMW(http.HandlerFunc(h.EnqueueScenario)))
	mux.Handle("POST /internal/scenarios/{id}/run", authMW(throttle.Middleware(http.HandlerFunc(h.RunScenario))))
	mux.Handle("GET /internal/runs/{id}", authMW(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /internal/tenants/{id}/digest", authMW(http.HandlerFunc(h.EnqueueDigest)))

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     middleware.RequestID(log)(mux),
			ReadTimeout: 10 * time.Second,
			// Synchronous runs may wait on Shopify retries and the renderer.
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
