// Package events publishes order lifecycle events to RabbitMQ.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

// DefaultExchange is the topic exchange order events are routed through.
const DefaultExchange = "pos.orders"

const publishTimeout = 3 * time.Second

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ order.EventPublisher = (*Publisher)(nil)

// Publisher implements order.EventPublisher. Events are routed by their
// type, e.g. "order.created".
type Publisher struct {
	ch       Channel
	exchange string
	lg       *zap.Logger
}

// NewPublisher declares a durable topic exchange on ch and returns a
// Publisher writing to it.
func NewPublisher(ch Channel, exchange string, lg *zap.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &Publisher{ch: ch, exchange: exchange, lg: lg}, nil
}

// Dial connects to the broker and opens a publishing channel. Closing the
// returned Publisher closes both.
func Dial(url, exchange string, lg *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	p, err := NewPublisher(&connChannel{Channel: ch, conn: conn}, exchange, lg)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	chErr := c.Channel.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}

// Publish sends e as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	body := Encode(e)

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s for order %s", e.Type, e.Order.ID)
	}

	p.lg.Debug("Event published",
		zap.String("type", string(e.Type)),
		zap.String("order_id", e.Order.ID),
	)
	return nil
}

// Close closes the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Encode renders the event envelope with the order document embedded.
func Encode(e order.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("occurredAt", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		if e.Actor != "" {
			enc.Field("actor", func(enc *jx.Encoder) { enc.Str(e.Actor) })
		}
		enc.Field("order", func(enc *jx.Encoder) { e.Order.Encode(enc) })
	})
	return enc.Bytes()
}
