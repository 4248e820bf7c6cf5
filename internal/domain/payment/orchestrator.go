package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "github.com/xenking/kitchen-ledger/internal/domain/payment"

// Operation outcomes recorded on the operations counter.
const (
	outcomeSuccess      = "success"
	outcomeDeclined     = "declined"
	outcomeCancelled    = "cancelled"
	outcomeFailed       = "failed"
	outcomeBusy         = "busy"
	outcomeInvalid      = "invalid"
	outcomeUnauthorized = "unauthorized"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMeterProvider sets the meter provider for payment metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) { o.meterProvider = mp }
}

// WithCurrency sets the ISO currency code sent to the terminal.
func WithCurrency(code string) Option {
	return func(o *Orchestrator) { o.currency = code }
}

// WithKeyGenerator replaces the idempotency key source.
func WithKeyGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newKey = f }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(o *Orchestrator) { o.lg = lg }
}

// Orchestrator serializes card captures and refunds against a Terminal.
// At most one capture or refund runs at a time; a concurrent call fails
// with *OperationInProgressError instead of waiting.
type Orchestrator struct {
	terminal Terminal
	creds    Credentials
	currency string
	newKey   func() string
	lg       *zap.Logger

	inFlight atomic.Bool

	authMu     sync.Mutex
	authorized bool

	meterProvider metric.MeterProvider
	operations    metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewOrchestrator creates an Orchestrator for terminal using creds.
func NewOrchestrator(terminal Terminal, creds Credentials, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		terminal:      terminal,
		creds:         creds,
		currency:      "USD",
		newKey:        func() string { return uuid.New().String() },
		lg:            zap.NewNop(),
		meterProvider: noop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := o.meterProvider.Meter(meterName)
	var err error
	if o.operations, err = meter.Int64Counter("pos.payment.operations",
		metric.WithDescription("Payment terminal operations by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create operations counter")
	}
	if o.duration, err = meter.Float64Histogram("pos.payment.duration",
		metric.WithDescription("Payment terminal operation latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	return o, nil
}

// Authorize establishes the terminal session. Calling it again after a
// success is a no-op.
func (o *Orchestrator) Authorize(ctx context.Context) error {
	o.authMu.Lock()
	defer o.authMu.Unlock()

	if o.authorized {
		return nil
	}
	if !o.creds.Complete() {
		return &AuthorizationError{Reason: "missing access token or location"}
	}
	if err := o.terminal.Authorize(ctx, o.creds); err != nil {
		return &AuthorizationError{Reason: "terminal rejected credentials", Err: err}
	}
	o.authorized = true
	o.lg.Info("Payment terminal authorized", zap.String("location_id", o.creds.LocationID))
	return nil
}

// Authorized reports whether a session is established.
func (o *Orchestrator) Authorized() bool {
	o.authMu.Lock()
	defer o.authMu.Unlock()
	return o.authorized
}

// Deauthorize drops the terminal session; the next capture authorizes again.
func (o *Orchestrator) Deauthorize() {
	o.authMu.Lock()
	o.authorized = false
	o.authMu.Unlock()
}

// Capture charges amountMinor on the terminal and returns the payment id.
// Every attempt uses a fresh idempotency key.
func (o *Orchestrator) Capture(ctx context.Context, amountMinor int64) (_ string, rerr error) {
	const op = "capture"
	start := time.Now()
	defer func() { o.record(ctx, op, start, rerr) }()

	if amountMinor <= 0 {
		return "", &InvalidAmountError{AmountMinor: amountMinor}
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return "", &OperationInProgressError{Op: op}
	}
	defer o.inFlight.Store(false)

	if err := o.Authorize(ctx); err != nil {
		return "", err
	}

	key := o.newKey()
	lg := o.lg.With(zap.String("idempotency_key", key), zap.Int64("amount_minor", amountMinor))
	lg.Info("Capturing payment")

	paymentID, err := o.terminal.Charge(ctx, ChargeRequest{
		IdempotencyKey: key,
		AmountMinor:    amountMinor,
		Currency:       o.currency,
	})
	switch {
	case err == nil:
		lg.Info("Payment captured", zap.String("payment_id", paymentID))
		return paymentID, nil
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), ctx.Err() != nil:
		lg.Warn("Payment cancelled", zap.Error(err))
		return "", &PaymentCancelledError{IdempotencyKey: key, Err: err}
	default:
		lg.Warn("Payment declined", zap.Error(err))
		return "", &PaymentDeclinedError{IdempotencyKey: key, Err: err}
	}
}

// Refund returns amountMinor of paymentID to the buyer. Order state is
// never touched here; callers write the ledger only after success.
func (o *Orchestrator) Refund(ctx context.Context, paymentID string, amountMinor int64) (rerr error) {
	const op = "refund"
	start := time.Now()
	defer func() { o.record(ctx, op, start, rerr) }()

	if amountMinor <= 0 {
		return &InvalidAmountError{AmountMinor: amountMinor}
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return &OperationInProgressError{Op: op}
	}
	defer o.inFlight.Store(false)

	if err := o.Authorize(ctx); err != nil {
		return &RefundFailedError{PaymentID: paymentID, Err: err}
	}

	err := o.terminal.Refund(ctx, RefundRequest{
		IdempotencyKey: o.newKey(),
		PaymentID:      paymentID,
		AmountMinor:    amountMinor,
		Currency:       o.currency,
	})
	if err != nil {
		o.lg.Warn("Refund failed", zap.String("payment_id", paymentID), zap.Error(err))
		return &RefundFailedError{PaymentID: paymentID, Err: err}
	}
	o.lg.Info("Payment refunded", zap.String("payment_id", paymentID), zap.Int64("amount_minor", amountMinor))
	return nil
}

// InFlight reports whether a capture or refund is running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

func (o *Orchestrator) record(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome(err)),
	)
	o.operations.Add(ctx, 1, attrs)
	o.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func outcome(err error) string {
	var (
		declined   *PaymentDeclinedError
		cancelled  *PaymentCancelledError
		busy       *OperationInProgressError
		invalid    *InvalidAmountError
		authFailed *AuthorizationError
	)
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.As(err, &declined):
		return outcomeDeclined
	case errors.As(err, &cancelled):
		return outcomeCancelled
	case errors.As(err, &busy):
		return outcomeBusy
	case errors.As(err, &invalid):
		return outcomeInvalid
	case errors.As(err, &authFailed):
		return outcomeUnauthorized
	default:
		return outcomeFailed
	}
}
