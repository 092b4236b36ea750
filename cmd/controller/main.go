// Package main is the entry point for the shipsanity controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipsanity/internal/app"
	"shipsanity/internal/config"
	"shipsanity/internal/controller"
	"shipsanity/internal/controller/handlers"
	"shipsanity/internal/logger"
	"shipsanity/internal/observability"
	"shipsanity/internal/queue"
	"shipsanity/internal/scheduler"
	"shipsanity/internal/shoplock"
	"shipsanity/internal/store/postgres"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: shipsanity.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slogger := logger.NewWithLevel(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(store.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.ServiceController, cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, observability.ServiceController)
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	q := queue.New(store, queue.Config{
		KeepCompleted: cfg.CompletedJobRetention,
		KeepFailed:    cfg.FailedJobRetention,
	}, slogger)

	if _, err := observability.RegisterQueueDepth(q); err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	sched := scheduler.New(store, q, scheduler.Config{
		DigestDelay:    cfg.DigestDelay,
		StaleThreshold: cfg.StaleRunThreshold,
	}, slogger)

	run, err := app.NewRunner(ctx, cfg, store, slogger)
	if err != nil {
		log.Fatalf("Failed to build runner: %v", err)
	}
	defer run.Close()

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	locker := shoplock.New(store, shoplock.Config{
		TTL:          cfg.ShopLockTTL,
		PollInterval: cfg.ShopLockPollInterval,
	}, slogger)
	h := handlers.New(store, q, run, sched, locker, slogger)
	srv := controller.New(addr, h, controller.Options{
		InternalSecret: cfg.InternalSecret,
		Metrics:        metricsHandler,
		RunRPS:         1,
		RunBurst:       3,
		Logger:         slogger,
	})
	if cfg.InternalSecret == "" {
		log.Println("INTERNAL_SECRET is not set; /internal routes will answer 503")
	}

	go func() {
		log.Printf("Shipsanity Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
