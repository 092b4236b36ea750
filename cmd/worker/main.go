// Package main is the entry point for the shipsanity worker.
// The worker pulls scenario runs and digests off the job queue and executes
// them, at most one run per shop at a time.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipsanity/internal/app"
	"shipsanity/internal/config"
	"shipsanity/internal/logger"
	"shipsanity/internal/notify"
	"shipsanity/internal/observability"
	"shipsanity/internal/queue"
	"shipsanity/internal/shoplock"
	"shipsanity/internal/store"
	"shipsanity/internal/store/postgres"
	"shipsanity/internal/worker"

	"github.com/google/uuid"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: shipsanity.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slogger := logger.NewWithLevel(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.ServiceWorker, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, observability.ServiceWorker)
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	q := queue.New(db, queue.Config{
		KeepCompleted: cfg.CompletedJobRetention,
		KeepFailed:    cfg.FailedJobRetention,
	}, slogger)

	run, err := app.NewRunner(ctx, cfg, db, slogger)
	if err != nil {
		log.Fatalf("Failed to build runner: %v", err)
	}
	defer run.Close()

	locker := shoplock.New(db, shoplock.Config{
		TTL:          cfg.ShopLockTTL,
		PollInterval: cfg.ShopLockPollInterval,
	}, slogger)

	httpClient := &http.Client{Timeout: 15 * time.Second}
	digester := notify.NewDigester(db,
		&notify.Slack{HTTPClient: httpClient, Logger: slogger},
		&notify.Resend{APIKey: cfg.ResendAPIKey, From: cfg.ResendFrom, HTTPClient: httpClient, Logger: slogger},
		slogger,
	)

	scenarioHandler := worker.NewScenarioHandler(run, locker, db, cfg.StaleRunThreshold, slogger)
	agent := worker.New(q, map[store.JobKind]worker.Handler{
		store.JobKindScenarioRun: scenarioHandler,
		store.JobKindDigestEmail: worker.NewDigestHandler(digester),
	}, worker.AgentConfig{
		ID:                  "worker-" + uuid.NewString()[:8],
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		MaxBackoff:          cfg.WorkerMaxBackoff,
		HeartbeatInterval:   cfg.WorkerHeartbeatInterval,
		VisibilityExtension: cfg.VisibilityExtension,
		JobTimeout:          cfg.JobTimeout,
	}, slogger)

	log.Printf("Worker started with concurrency %d", cfg.WorkerConcurrency)
	go agent.Run(ctx)

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-agent.Done()
}
