// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"opscore/internal/controller/handlers"
	"opscore/internal/controller/middleware"
	"opscore/internal/store"
	"time"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, s handlers.StoreFactory, breakerPolicy store.BreakerPolicy, metricsHandler http.Handler) *Server {
	h := handlers.New(s, breakerPolicy)
	authMW := middleware.AuthMiddleware(s)
	rateMW := middleware.RateLimitMiddleware()

	// Auth resolves the tenant, then the per-tenant limiter throttles.
	guard := func(next http.HandlerFunc) http.Handler {
		return authMW(rateMW(next))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /tenants", h.CreateTenant)

	// Reservation slots
	mux.Handle("POST /slots", guard(h.BookSlot))
	mux.Handle("GET /slots", guard(h.ListSlots))
	mux.Handle("GET /slots/{id}", guard(h.GetSlot))
	mux.Handle("DELETE /slots/{id}", guard(h.CancelSlot))
	mux.Handle("POST /slots/{id}/reschedule", guard(h.RescheduleSlot))

	// Background jobs and their dead letters
	mux.Handle("POST /jobs", guard(h.EnqueueJob))
	mux.Handle("GET /jobs", guard(h.ListJobs))
	mux.Handle("GET /jobs/{id}", guard(h.GetJob))
	mux.Handle("GET /dlq", guard(h.ListDLQ))
	mux.Handle("POST /dlq/{job_id}/retry", guard(h.RetryDLQ))

	// Durable rate limiting for tenant-defined identifiers
	mux.Handle("POST /ratelimit/check", guard(h.CheckRate))

	// Circuit breakers
	mux.Handle("GET /breakers", guard(h.ListBreakers))
	mux.Handle("GET /breakers/{dependency}", guard(h.GetBreaker))
	mux.Handle("POST /breakers/{dependency}/check", guard(h.CheckBreaker))
	mux.Handle("POST /breakers/{dependency}/report", guard(h.ReportBreaker))
	mux.Handle("POST /breakers/{dependency}/reset", guard(h.ResetBreaker))

	// Balances and rewards
	mux.Handle("POST /balances/{subject}/credit", guard(h.Credit))
	mux.Handle("POST /balances/{subject}/debit", guard(h.Debit))
	mux.Handle("POST /balances/{subject}/redeem", guard(h.Redeem))
	mux.Handle("GET /balances/{subject}", guard(h.GetBalance))
	mux.Handle("GET /balances/{subject}/ledger", guard(h.ListLedger))
	mux.Handle("POST /rewards", guard(h.CreateReward))
	mux.Handle("GET /rewards", guard(h.ListRewards))

	// Probes and metrics
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestLogger(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
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
