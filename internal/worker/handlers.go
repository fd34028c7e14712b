package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"opscore/internal/store"

	"github.com/google/uuid"
)

// Job types handled by the built-in handlers.
const (
	JobTypeWebhook      = "webhook.deliver"
	JobTypeNotification = "notification.send"
	JobTypeReport       = "report.generate"
)

// HandlerFunc processes one claimed job. The returned bytes become the
// job's result payload; a returned error schedules a retry (or the DLQ
// once attempts run out).
type HandlerFunc func(ctx context.Context, job *store.Job) ([]byte, error)

// Registry maps job types to their handlers. Registration happens during
// startup before the agent runs, so lookups need no locking.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a job type to a handler, replacing any previous binding.
func (r *Registry) Register(jobType string, fn HandlerFunc) {
	r.handlers[jobType] = fn
}

// Get returns the handler for a job type.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	fn, ok := r.handlers[jobType]
	return fn, ok
}

// Types lists the registered job types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// BuiltinDeps wires the stores the built-in handlers work against.
type BuiltinDeps struct {
	Breakers      store.BreakerStore
	BreakerPolicy store.BreakerPolicy
	Queue         store.Queue
	Outbox        store.OutboxStore
	Slots         store.SlotStore
	WorkerID      string
	HTTPClient    *http.Client
}

// RegisterBuiltins registers the platform's standard job handlers.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	b := &builtins{deps: deps}
	reg.Register(JobTypeWebhook, b.deliverWebhook)
	reg.Register(JobTypeNotification, b.sendNotification)
	reg.Register(JobTypeReport, b.generateReport)
}

type builtins struct {
	deps BuiltinDeps
}

type webhookPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body,omitempty"`
	// Dependency names the breaker guarding this endpoint. Defaults to the
	// URL host, so all webhooks to one vendor share a breaker.
	Dependency string `json:"dependency,omitempty"`
}

// deliverWebhook posts the payload to an external endpoint behind the
// dependency's circuit breaker. An open breaker fails the attempt without
// making the call, which pushes the retry past the breaker's timeout.
func (b *builtins) deliverWebhook(ctx context.Context, job *store.Job) ([]byte, error) {
	var p webhookPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if p.URL == "" {
		return nil, errors.New("webhook payload missing url")
	}

	dep := p.Dependency
	if dep == "" {
		u, err := url.Parse(p.URL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid webhook url %q", p.URL)
		}
		dep = u.Host
	}

	decision, err := b.deps.Breakers.CanProceed(ctx, job.TenantID, dep, b.deps.BreakerPolicy)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("circuit open for %s, retry in %s", dep, decision.RetryAfter.Round(time.Second))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.deps.HTTPClient.Do(req)
	if err != nil {
		b.reportOutcome(job.TenantID, dep, false, err.Error())
		return nil, fmt.Errorf("webhook delivery to %s failed: %w", dep, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg := fmt.Sprintf("endpoint %s returned status %d", dep, resp.StatusCode)
		b.reportOutcome(job.TenantID, dep, false, msg)
		return nil, errors.New(msg)
	}

	// 4xx means the dependency is healthy but rejects this request, so the
	// breaker records a success while the job still fails.
	b.reportOutcome(job.TenantID, dep, true, "")
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint %s rejected delivery with status %d", dep, resp.StatusCode)
	}

	return json.Marshal(map[string]interface{}{
		"status_code":  resp.StatusCode,
		"delivered_at": time.Now().UTC(),
	})
}

// reportOutcome feeds a call outcome to the shared breaker. Failures here
// only lose one observation, so they are logged and swallowed.
func (b *builtins) reportOutcome(tenantID uuid.UUID, dep string, success bool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if success {
		_, err = b.deps.Breakers.RecordSuccess(ctx, tenantID, dep, b.deps.BreakerPolicy)
	} else {
		_, err = b.deps.Breakers.RecordFailure(ctx, tenantID, dep, errMsg, b.deps.BreakerPolicy)
	}
	if err != nil {
		log.Printf("Failed to record breaker outcome for %s: %v", dep, err)
	}
}

type notificationPayload struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel,omitempty"` // email, sms, push
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// sendNotification hands the message to the platform's fan-out: an outbox
// event that downstream consumers (mailers, push gateways) subscribe to.
func (b *builtins) sendNotification(ctx context.Context, job *store.Job) ([]byte, error) {
	var p notificationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid notification payload: %w", err)
	}
	if p.Recipient == "" || p.Body == "" {
		return nil, errors.New("notification payload missing recipient or body")
	}
	if p.Channel == "" {
		p.Channel = "email"
	}

	sentAt := time.Now().UTC()
	eventPayload, err := json.Marshal(map[string]interface{}{
		"recipient": p.Recipient,
		"channel":   p.Channel,
		"subject":   p.Subject,
		"body":      p.Body,
		"job_id":    job.ID.String(),
		"sent_at":   sentAt,
	})
	if err != nil {
		return nil, err
	}

	ev := &store.OutboxEvent{
		TenantID: job.TenantID,
		Topic:    "notification.sent",
		Payload:  eventPayload,
	}
	if err := b.deps.Outbox.AddOutboxEvent(ctx, nil, ev); err != nil {
		return nil, fmt.Errorf("failed to emit notification event: %w", err)
	}

	return json.Marshal(map[string]interface{}{
		"recipient": p.Recipient,
		"channel":   p.Channel,
		"sent_at":   sentAt,
	})
}

type reportPayload struct {
	Location string    `json:"location,omitempty"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	// DeliverTo optionally posts the finished report to a URL.
	DeliverTo string `json:"deliver_to,omitempty"`
}

// reportSnapshot is the cached phase-one aggregation. Phase is "gathered"
// after aggregation and "complete" once delivery succeeded.
type reportSnapshot struct {
	Phase      string         `json:"phase"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByLocation map[string]int `json:"by_location"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	GatheredAt time.Time      `json:"gathered_at"`
}

// generateReport aggregates slot activity in two phases. The aggregation
// is cached on the job after phase one, so a retry that failed during
// delivery skips straight to re-sending.
func (b *builtins) generateReport(ctx context.Context, job *store.Job) ([]byte, error) {
	var p reportPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid report payload: %w", err)
	}
	if p.From.IsZero() || p.To.IsZero() || !p.To.After(p.From) {
		return nil, errors.New("report payload needs from < to")
	}

	var snapshot reportSnapshot
	if len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, &snapshot); err != nil {
			snapshot = reportSnapshot{}
		}
	}

	if snapshot.Phase != "gathered" {
		slots, err := b.deps.Slots.ListSlots(ctx, job.TenantID, store.SlotFilter{
			Location: p.Location,
			From:     p.From,
			To:       p.To,
			Limit:    10000,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to gather slots: %w", err)
		}

		snapshot = reportSnapshot{
			Phase:      "gathered",
			Total:      len(slots),
			ByStatus:   make(map[string]int),
			ByLocation: make(map[string]int),
			From:       p.From,
			To:         p.To,
			GatheredAt: time.Now().UTC(),
		}
		for i := range slots {
			snapshot.ByStatus[string(slots[i].Status)]++
			snapshot.ByLocation[slots[i].Location]++
		}

		cached, err := json.Marshal(snapshot)
		if err != nil {
			return nil, err
		}
		if err := b.deps.Queue.CacheResult(ctx, job.ID, b.deps.WorkerID, cached); err != nil {
			return nil, fmt.Errorf("failed to cache report snapshot: %w", err)
		}
	}

	if p.DeliverTo != "" {
		body, err := json.Marshal(snapshot)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.DeliverTo, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.deps.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("report delivery failed: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("report delivery returned status %d", resp.StatusCode)
		}
	}

	snapshot.Phase = "complete"
	return json.Marshal(snapshot)
}
