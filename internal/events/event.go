// Package events publishes saga milestones to a topic exchange.
package events

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/orderbridge/pkg/telemetry/correlation"
)

const Exchange = "orderbridge.events"

const (
	EventOrderCreated    = "order.created"
	EventPaymentSettled  = "payment.settled"
	EventPaymentRefunded = "payment.refunded"
)

type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    map[string]any    `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Correlate stamps e with the correlation id and trace of ctx.
func (e Event) Correlate(ctx context.Context) Event {
	e.Metadata = correlation.Fields(correlation.Envelope(ctx, e.OccurredAt))
	return e
}

// Publisher delivers events. Publishing is best-effort for every caller.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically sortable event id.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// New stamps an event of type with a fresh id.
func New(eventType string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:         NewID(at),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() {}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of eventType.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
