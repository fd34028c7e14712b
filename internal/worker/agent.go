// Package worker contains the worker-specific logic for job execution.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"opscore/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval time.Duration // Interval between claim-extending heartbeats (default: 1m)
	JobTimeout        time.Duration // Per-job execution budget (default: 10m)
	JobTypes          []string      // Optional. Restricts which job types this agent claims.
}

// Agent is the main worker agent that runs the pull-loop for job execution.
type Agent struct {
	queue    store.Queue
	handlers *Registry
	config   AgentConfig
	done     chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, handlers *Registry, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 1 * time.Minute
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}

	return &Agent{
		queue:    q,
		handlers: handlers,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops claiming new work and allows in-flight jobs to finish.
func (a *Agent) Run(ctx context.Context) error {
	log.Printf("Agent %s starting with concurrency %d", a.config.ID, a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	// Helper to trigger immediate non-blocking re-poll
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			log.Println("Context cancelled, waiting for running jobs to finish...")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			// Timer-based poll (with backoff)
			triggerPoll()

		case <-pollNow:
			// Count available slots
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			// Batch claim up to available slots
			jobs, err := a.queue.ClaimBatch(ctx, a.config.ID, a.config.JobTypes, availableSlots)
			if err != nil {
				log.Printf("ClaimBatch error: %v", err)
				continue
			}

			if len(jobs) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			log.Printf("Claimed %d jobs", len(jobs))

			// Dispatch each job to a worker goroutine
			for _, job := range jobs {
				// Acquire semaphore slot
				sem <- struct{}{}

				wg.Add(1)
				go func(job store.Job) {
					defer wg.Done()
					defer func() {
						<-sem
						// Signal that a slot is now available - trigger immediate re-poll
						triggerPoll()
					}()
					a.processJob(ctx, job)
				}(job)
			}

			// If we got jobs and there are still slots available, poll again immediately
			if len(jobs) > 0 && len(jobs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processJob runs a single claimed job through its registered handler.
func (a *Agent) processJob(ctx context.Context, job store.Job) {
	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(ctx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", job.Type),
			attribute.String("tenant.id", job.TenantID.String()),
			attribute.Int("job.attempt", job.Attempts),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log.Printf("Processing job %s (%s)", job.ID, job.Type)

	handler, ok := a.handlers.Get(job.Type)
	if !ok {
		log.Printf("No handler registered for job type %q", job.Type)
		a.fail(job, "no handler registered for type "+job.Type)
		return
	}

	// The job gets its own deadline so a SIGTERM drains in-flight work
	// instead of killing it.
	jobCtx, cancel := context.WithTimeout(spanCtx, a.config.JobTimeout)
	defer cancel()

	// Extend the claim periodically; losing it cancels the job so two
	// workers never finish the same attempt.
	stopHeartbeat := a.startHeartbeat(job, cancel)
	defer stopHeartbeat()

	result, err := handler(jobCtx, &job)
	if err != nil {
		span.RecordError(err)
		log.Printf("Job %s failed: %v", job.ID, err)
		a.fail(job, err.Error())
		return
	}

	if err := a.queue.Complete(context.Background(), job.ID, a.config.ID, result); err != nil {
		if errors.Is(err, store.ErrStaleClaim) {
			log.Printf("Job %s was reclaimed before completion", job.ID)
			return
		}
		log.Printf("Failed to mark job %s complete: %v", job.ID, err)
		return
	}

	log.Printf("Job %s completed", job.ID)
}

// fail records the failure, tolerating a claim that was already reclaimed.
func (a *Agent) fail(job store.Job, msg string) {
	if err := a.queue.Fail(context.Background(), job.ID, a.config.ID, msg); err != nil {
		if errors.Is(err, store.ErrStaleClaim) {
			log.Printf("Job %s was reclaimed before failure could be recorded", job.ID)
			return
		}
		log.Printf("Failed to mark job %s failed: %v", job.ID, err)
	}
}

// startHeartbeat extends the job's claim until stopped. If the claim is
// gone (another worker owns the job now), the job context is cancelled.
func (a *Agent) startHeartbeat(job store.Job, cancel context.CancelFunc) func() {
	hbCtx, stop := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(a.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := a.queue.Heartbeat(context.Background(), job.ID, a.config.ID)
				if err == nil {
					continue
				}
				if errors.Is(err, store.ErrStaleClaim) {
					log.Printf("Lost claim on job %s, cancelling", job.ID)
					cancel()
					return
				}
				log.Printf("Heartbeat failed for %s: %v", job.ID, err)
			}
		}
	}()

	return stop
}
