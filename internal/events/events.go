// Package events defines the domain events emitted by the billing service
// and publishes them to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/correlation"
)

// Type is the routing key of an event.
type Type string

const (
	DepositRecorded     Type = "deposit.recorded"
	ExchangeRateApplied Type = "exchange_rate.applied"
	FundOverBudget      Type = "fund.over_budget"
	FundWarning         Type = "fund.warning"
	CostsIngested       Type = "costs.ingested"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Type          Type      `json:"type"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Data          any       `json:"data"`
}

// New builds an event carrying the correlation ID of ctx.
func New(ctx context.Context, typ Type, data any) Event {
	return Event{
		ID:            uuid.New(),
		Type:          typ,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlation.GetID(ctx),
		Data:          data,
	}
}

// ToJSON encodes the envelope.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events somewhere. Implementations are safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the types of the recorded events in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
