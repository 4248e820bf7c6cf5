package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventRefunded      EventType = "order.refunded"
)

// Event is published after a successful ledger write.
type Event struct {
	Type       EventType
	Order      Order
	Actor      string
	OccurredAt time.Time
}

// EventPublisher fans order events out to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
