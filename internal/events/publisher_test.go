package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

// --- Mock implementations ---

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
	deadline bool
}

type mockChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []published
	closed     bool
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if m.declareErr != nil {
		return m.declareErr
	}
	m.declared = append(m.declared, name+":"+kind)
	return nil
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	_, ok := ctx.Deadline()
	m.published = append(m.published, published{exchange: exchange, key: key, msg: msg, deadline: ok})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

// --- Helpers ---

func testEvent() order.Event {
	n := 12
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return order.Event{
		Type: order.EventCreated,
		Order: order.Order{
			ID:          "order-1",
			Items:       []order.LineItem{{ItemID: "latte", Quantity: 1}},
			Subtotal:    decimal.RequireFromString("4.50"),
			Tax:         decimal.RequireFromString("0.37"),
			Total:       decimal.RequireFromString("4.87"),
			Status:      order.StatusPending,
			CreatedAt:   at,
			UpdatedAt:   at,
			CashierID:   "c-1",
			OrderNumber: &n,
			PaymentType: order.PaymentCash,
		},
		Actor:      "c-1",
		OccurredAt: at,
	}
}

// --- Tests ---

func TestNewPublisher_DeclaresExchange(t *testing.T) {
	ch := &mockChannel{}
	_, err := NewPublisher(ch, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange + ":topic"}, ch.declared)
}

func TestNewPublisher_DeclareError(t *testing.T) {
	ch := &mockChannel{declareErr: errors.New("access refused")}
	_, err := NewPublisher(ch, "x", nil)
	require.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	ch := &mockChannel{}
	p, err := NewPublisher(ch, "pos", nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "pos", got.exchange)
	assert.Equal(t, "order.created", got.key)
	assert.True(t, got.deadline)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.NotEmpty(t, got.msg.MessageId)
	assert.JSONEq(t, `{
		"type": "order.created",
		"occurredAt": "2026-03-01T12:00:00Z",
		"actor": "c-1",
		"order": {
			"id": "order-1",
			"items": [{"itemId": "latte", "quantity": 1}],
			"subtotal": 4.50,
			"tax": 0.37,
			"total": 4.87,
			"status": "Pending",
			"timestamp": "2026-03-01T12:00:00Z",
			"updatedAt": "2026-03-01T12:00:00Z",
			"cashierId": "c-1",
			"orderNumber": 12,
			"paymentType": "Cash"
		}
	}`, string(got.msg.Body))
}

func TestPublisher_PublishError(t *testing.T) {
	ch := &mockChannel{publishErr: amqp.ErrClosed}
	p, err := NewPublisher(ch, "pos", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), testEvent())
	require.ErrorIs(t, err, amqp.ErrClosed)
}

func TestPublisher_Close(t *testing.T) {
	ch := &mockChannel{}
	p, err := NewPublisher(ch, "pos", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
