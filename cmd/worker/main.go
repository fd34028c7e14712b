// Package main is the entry point for the opscore worker.
// The worker claims queued jobs, runs their handlers, and owns the
// platform's background housekeeping (stale reclaim, outbox dispatch,
// window pruning, credit expiry).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"opscore/internal/config"
	"opscore/internal/events"
	"opscore/internal/logger"
	"opscore/internal/observability"
	"opscore/internal/store"
	"opscore/internal/store/postgres"
	"opscore/internal/worker"

	"github.com/google/uuid"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	slog.SetDefault(logger.New())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()
	db.SetLockWait(cfg.LockWait)

	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(db.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "opscore-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Outbox events go to RabbitMQ when a broker is configured, otherwise
	// to the log so local development still drains the outbox.
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("Failed to connect to broker: %v", err)
		}
		publisher = amqpPub
		log.Println("Publishing events to RabbitMQ")
	} else {
		publisher = &events.LogPublisher{Logger: slog.Default()}
		log.Println("No broker configured, events will be logged")
	}
	defer publisher.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	breakerPolicy := store.BreakerPolicy{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
	}

	registry := worker.NewRegistry()
	worker.RegisterBuiltins(registry, worker.BuiltinDeps{
		Breakers:      db,
		BreakerPolicy: breakerPolicy,
		Queue:         db,
		Outbox:        db,
		Slots:         db,
		WorkerID:      workerID,
	})

	agent := worker.New(db, registry, worker.AgentConfig{
		ID:           workerID,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
	})

	maintenance := worker.NewMaintenance(db, db, db, db, publisher, worker.MaintenanceConfig{
		SweepInterval:   cfg.MaintenanceInterval,
		StaleAfter:      cfg.JobStaleAfter,
		WindowRetention: cfg.RateWindowRetention,
	})

	log.Printf("Worker %s started with concurrency %d", workerID, cfg.WorkerConcurrency)
	go agent.Run(ctx)
	go maintenance.Run(ctx)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("opscore-worker")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Start a dedicated metrics server on port 7072
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :7072")
		if err := http.ListenAndServe(":7072", mux); err != nil {
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
