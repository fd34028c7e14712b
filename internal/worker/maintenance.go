package worker

import (
	"context"
	"log"
	"time"

	"opscore/internal/events"
	"opscore/internal/store"
)

// MaintenanceConfig holds the cadences and batch sizes of the background
// sweeps. Zero values get defaults.
type MaintenanceConfig struct {
	SweepInterval    time.Duration // stale reclaim, window pruning, credit expiry (default: 30s)
	DispatchInterval time.Duration // outbox drain (default: 2s)
	StaleAfter       time.Duration // processing without heartbeat for this long gets reclaimed (default: 5m)
	WindowRetention  time.Duration // how long closed rate windows are kept (default: 24h)
	ExpiryBatch      int           // ledger entries expired per sweep (default: 100)
	OutboxBatch      int           // outbox events claimed per dispatch round (default: 50)
}

// Maintenance runs the periodic housekeeping every deployment needs
// exactly one of: returning stalled jobs to the queue, draining the
// outbox to the broker, pruning dead rate windows, and expiring credits.
// It is safe to run on several workers at once; every sweep is written to
// tolerate a concurrent twin.
type Maintenance struct {
	queue     store.Queue
	outbox    store.OutboxStore
	rates     store.RateLimitStore
	ledger    store.LedgerStore
	publisher events.Publisher
	config    MaintenanceConfig
}

// NewMaintenance creates the maintenance loop.
func NewMaintenance(q store.Queue, ob store.OutboxStore, rates store.RateLimitStore, ledger store.LedgerStore, pub events.Publisher, config MaintenanceConfig) *Maintenance {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.DispatchInterval <= 0 {
		config.DispatchInterval = 2 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}
	if config.WindowRetention <= 0 {
		config.WindowRetention = 24 * time.Hour
	}
	if config.ExpiryBatch <= 0 {
		config.ExpiryBatch = 100
	}
	if config.OutboxBatch <= 0 {
		config.OutboxBatch = 50
	}

	return &Maintenance{
		queue:     q,
		outbox:    ob,
		rates:     rates,
		ledger:    ledger,
		publisher: pub,
		config:    config,
	}
}

// Run blocks until the context is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	log.Printf("Maintenance loop starting (sweep every %s, dispatch every %s)",
		m.config.SweepInterval, m.config.DispatchInterval)

	sweep := time.NewTicker(m.config.SweepInterval)
	defer sweep.Stop()
	dispatch := time.NewTicker(m.config.DispatchInterval)
	defer dispatch.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dispatch.C:
			m.dispatchOutbox(ctx)
		case <-sweep.C:
			m.sweep(ctx)
		}
	}
}

// dispatchOutbox drains due outbox events to the broker, batch by batch,
// until the table has nothing due.
func (m *Maintenance) dispatchOutbox(ctx context.Context) {
	for {
		events, err := m.outbox.ClaimOutbox(ctx, m.config.OutboxBatch)
		if err != nil {
			log.Printf("Outbox claim failed: %v", err)
			return
		}
		if len(events) == 0 {
			return
		}

		for _, ev := range events {
			if err := m.publisher.Publish(ctx, ev); err != nil {
				log.Printf("Publish of event %d (%s) failed: %v", ev.ID, ev.Topic, err)
				if err := m.outbox.MarkOutboxFailed(ctx, ev.ID, err.Error()); err != nil {
					log.Printf("Failed to reschedule event %d: %v", ev.ID, err)
				}
				continue
			}
			if err := m.outbox.MarkOutboxSent(ctx, ev.ID); err != nil {
				log.Printf("Failed to mark event %d sent: %v", ev.ID, err)
			}
		}

		if len(events) < m.config.OutboxBatch {
			return
		}
	}
}

// sweep runs the slower housekeeping passes.
func (m *Maintenance) sweep(ctx context.Context) {
	if n, err := m.queue.ReclaimStale(ctx, m.config.StaleAfter); err != nil {
		log.Printf("Stale job reclaim failed: %v", err)
	} else if n > 0 {
		log.Printf("Reclaimed %d stalled jobs", n)
	}

	if n, err := m.rates.PruneWindows(ctx, m.config.WindowRetention); err != nil {
		log.Printf("Rate window pruning failed: %v", err)
	} else if n > 0 {
		log.Printf("Pruned %d expired rate windows", n)
	}

	if n, err := m.ledger.ExpireCredits(ctx, m.config.ExpiryBatch); err != nil {
		log.Printf("Credit expiry failed: %v", err)
	} else if n > 0 {
		log.Printf("Expired %d ledger credits", n)
	}
}
