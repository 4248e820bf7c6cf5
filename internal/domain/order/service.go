package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/payment"
)

const tracerName = "github.com/xenking/kitchen-ledger/internal/domain/order"

// Payments captures and refunds card payments.
type Payments interface {
	Capture(ctx context.Context, amountMinor int64) (string, error)
	Refund(ctx context.Context, paymentID string, amountMinor int64) error
}

// Tender is how the customer pays at checkout.
type Tender struct {
	Method PaymentMethod
	// Tendered is the cash handed over; ignored for card.
	Tendered decimal.Decimal
}

// CheckoutResult holds a persisted order and the cash change due.
type CheckoutResult struct {
	Order  Order
	Change decimal.Decimal
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher sets the event publisher.
func WithPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service runs checkout, status changes and refunds against the ledger.
type Service struct {
	ledger   Ledger
	payments Payments
	events   EventPublisher
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(ledger Ledger, payments Payments, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:   ledger,
		payments: payments,
		events:   NopPublisher{},
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout takes payment for a draft and persists it as a Pending order.
//
// Card payments are captured before the ledger write. If that write fails
// the money has been taken and a *ReconciliationError is returned.
func (s *Service) Checkout(ctx context.Context, draft Order, tender Tender) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout",
		trace.WithAttributes(
			attribute.String("order.id", draft.ID),
			attribute.String("order.payment_method", string(tender.Method)),
		),
	)
	defer func() { endSpan(span, rerr) }()

	if draft.Status == "" {
		draft.Status = StatusPending
	}
	if draft.Status != StatusPending {
		return nil, &ValidationError{Field: "status", Reason: "draft must be Pending"}
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	o := draft.Clone()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	o.UpdatedAt = o.CreatedAt

	res := &CheckoutResult{Change: decimal.Zero}
	switch tender.Method {
	case PaymentCard:
		id, err := s.payments.Capture(ctx, payment.MinorUnits(o.Total))
		if err != nil {
			return nil, err
		}
		o.PaymentType = PaymentCard
		o.PaymentID = id
	case PaymentCash:
		change, err := payment.TenderCash(o.Total, tender.Tendered)
		if err != nil {
			return nil, err
		}
		o.PaymentType = PaymentCash
		o.PaymentID = ""
		res.Change = change
	default:
		return nil, &ValidationError{Field: "payment", Reason: "method must be Card or Cash"}
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	if err := s.ledger.Put(ctx, o); err != nil {
		if o.PaymentType == PaymentCard {
			lg.Error("Payment captured but order not recorded",
				zap.Bool("reconciliation", true),
				zap.String("payment_id", o.PaymentID),
				zap.String("total", o.Total.StringFixed(2)),
				zap.Error(err),
			)
			return nil, &ReconciliationError{Op: "capture", OrderID: o.ID, PaymentID: o.PaymentID, Err: err}
		}
		return nil, errors.Wrap(err, "put order")
	}
	lg.Info("Order placed",
		zap.String("payment_type", string(o.PaymentType)),
		zap.String("total", o.Total.StringFixed(2)),
	)

	s.publish(ctx, Event{Type: EventCreated, Order: o, Actor: o.CashierID, OccurredAt: o.CreatedAt})
	res.Order = o
	return res, nil
}

// UpdateStatus moves an order along the state machine and persists the
// new status. Refunds go through Refund.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor auth.Actor) (_ Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.status", string(to))),
	)
	defer func() { endSpan(span, rerr) }()

	if to == StatusRefunded {
		return Order{}, &IllegalTransitionError{To: to, Reason: "refunds must return the payment first"}
	}

	current, err := s.ledger.Get(ctx, id)
	if err != nil {
		return Order{}, errors.Wrap(err, "get order")
	}
	next, err := Transition(*current, to, actor, s.now())
	if err != nil {
		return Order{}, err
	}
	if err := s.ledger.UpdateFields(ctx, id, TransitionFields(current.Status, next.Status, next.UpdatedAt)); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return Order{}, &IllegalTransitionError{From: current.Status, To: to, Reason: err.Error(), Err: err}
		}
		return Order{}, errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.String("employee_id", actor.EmployeeID),
	)
	s.publish(ctx, Event{Type: EventStatusChanged, Order: next, Actor: actor.EmployeeID, OccurredAt: next.UpdatedAt})
	return next, nil
}

// Refund returns a completed card payment and marks the order Refunded.
// The external refund happens first; the ledger is written only after it
// succeeds.
func (s *Service) Refund(ctx context.Context, id string, actor auth.Actor) (_ Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Refund", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, rerr) }()

	current, err := s.ledger.Get(ctx, id)
	if err != nil {
		return Order{}, errors.Wrap(err, "get order")
	}
	next, err := Transition(*current, StatusRefunded, actor, s.now())
	if err != nil {
		return Order{}, err
	}
	if current.PaymentID == "" {
		return Order{}, &IllegalTransitionError{From: current.Status, To: StatusRefunded, Reason: "order has no payment id"}
	}

	if err := s.payments.Refund(ctx, current.PaymentID, payment.MinorUnits(current.Total)); err != nil {
		return Order{}, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", id), zap.String("payment_id", current.PaymentID))
	if err := s.ledger.UpdateFields(ctx, id, TransitionFields(current.Status, next.Status, next.UpdatedAt)); err != nil {
		lg.Error("Payment refunded but order status not recorded",
			zap.Bool("reconciliation", true),
			zap.String("total", current.Total.StringFixed(2)),
			zap.Error(err),
		)
		return Order{}, &ReconciliationError{Op: "refund", OrderID: id, PaymentID: current.PaymentID, Err: err}
	}
	lg.Info("Order refunded", zap.String("employee_id", actor.EmployeeID))

	s.publish(ctx, Event{Type: EventRefunded, Order: next, Actor: actor.EmployeeID, OccurredAt: next.UpdatedAt})
	return next, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Get")
	defer span.End()

	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// Search finds orders by their human-facing number and cashier, arranged by
// sort.
func (s *Service) Search(ctx context.Context, number int, cashierID string, sort SortOrder) (_ []Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Search")
	defer func() { endSpan(span, rerr) }()

	if number <= 0 {
		return nil, &ValidationError{Field: "orderNumber", Reason: "must be greater than 0"}
	}
	if cashierID == "" {
		return nil, &ValidationError{Field: "cashierId", Reason: "required"}
	}
	orders, err := s.ledger.FindByNumberAndCashier(ctx, number, cashierID)
	if err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	sort.Sort(orders)
	return orders, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.Order.ID),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
