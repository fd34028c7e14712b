// Package config handles environment variable loading for ports, database strings, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// RabbitMQ connection string for outbox delivery. Empty disables the
	// broker; events are then logged and marked sent, which keeps
	// single-box development working.
	AMQPURL string

	// OTLP endpoint for traces. Empty disables the exporter.
	OTELEndpoint string

	// Worker-specific configuration
	WorkerConcurrency int

	// Worker Poll Interval
	WorkerPollInterval time.Duration

	// How long a processing job may go without a heartbeat before the
	// reclaimer returns it to the queue.
	JobStaleAfter time.Duration

	// Cadence of the background sweeps (stale reclaim, outbox dispatch,
	// window pruning, credit expiry).
	MaintenanceInterval time.Duration

	// How long expired rate windows are kept for inspection.
	RateWindowRetention time.Duration

	// Upper bound on waiting for a contended resource lock.
	LockWait time.Duration

	// Circuit breaker defaults applied when a dependency is first seen.
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	// URL of the control plane (e.g., "http://localhost:7070")
	ControllerURL string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbUrl := os.Getenv("DATABASE_URL")
	if dbUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := envInt("PORT", 7070)
	if err != nil {
		return nil, err
	}

	concurrency, err := envInt("WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	pollInterval, err := envDuration("WORKER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}

	staleAfter, err := envDuration("JOB_STALE_AFTER", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	maintenance, err := envDuration("MAINTENANCE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	windowRetention, err := envDuration("RATE_WINDOW_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	lockWait, err := envDuration("LOCK_WAIT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	breakerFailures, err := envInt("BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}

	breakerSuccesses, err := envInt("BREAKER_SUCCESS_THRESHOLD", 2)
	if err != nil {
		return nil, err
	}

	breakerTimeout, err := envDuration("BREAKER_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	controllerURL := os.Getenv("CONTROLLER_URL")
	if controllerURL == "" {
		controllerURL = "http://localhost:7070"
	}

	return &Config{
		DatabaseURL:             dbUrl,
		HTTPPort:                port,
		AMQPURL:                 os.Getenv("AMQP_URL"),
		OTELEndpoint:            os.Getenv("OTEL_ENDPOINT"),
		WorkerConcurrency:       concurrency,
		WorkerPollInterval:      pollInterval,
		JobStaleAfter:           staleAfter,
		MaintenanceInterval:     maintenance,
		RateWindowRetention:     windowRetention,
		LockWait:                lockWait,
		BreakerFailureThreshold: breakerFailures,
		BreakerSuccessThreshold: breakerSuccesses,
		BreakerTimeout:          breakerTimeout,
		ControllerURL:           controllerURL,
	}, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
