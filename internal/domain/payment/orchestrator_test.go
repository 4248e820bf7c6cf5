package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// --- Mock implementations ---

type mockTerminal struct {
	authErr    error
	authCalls  atomic.Int32
	chargeErr  error
	refundErr  error
	release    chan struct{} // when set, Charge blocks until closed
	entered    chan struct{}
	mu         sync.Mutex
	charges    []ChargeRequest
	refunds    []RefundRequest
	nextCharge atomic.Int32
}

func (m *mockTerminal) Authorize(_ context.Context, _ Credentials) error {
	m.authCalls.Add(1)
	return m.authErr
}

func (m *mockTerminal) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	m.mu.Lock()
	m.charges = append(m.charges, req)
	m.mu.Unlock()

	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.chargeErr != nil {
		return "", m.chargeErr
	}
	n := m.nextCharge.Add(1)
	return "pay-" + string(rune('0'+n)), nil
}

func (m *mockTerminal) Refund(_ context.Context, req RefundRequest) error {
	m.mu.Lock()
	m.refunds = append(m.refunds, req)
	m.mu.Unlock()
	return m.refundErr
}

// --- Helpers ---

var testCreds = Credentials{AccessToken: "tok", LocationID: "loc", DeviceID: "dev"}

func newOrchestrator(t *testing.T, term Terminal, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(term, testCreds, opts...)
	require.NoError(t, err)
	return o
}

// --- Tests ---

func TestAuthorize_Idempotent(t *testing.T) {
	term := &mockTerminal{}
	o := newOrchestrator(t, term)

	require.NoError(t, o.Authorize(context.Background()))
	require.NoError(t, o.Authorize(context.Background()))
	assert.Equal(t, int32(1), term.authCalls.Load())
	assert.True(t, o.Authorized())

	o.Deauthorize()
	assert.False(t, o.Authorized())
	require.NoError(t, o.Authorize(context.Background()))
	assert.Equal(t, int32(2), term.authCalls.Load())
}

func TestAuthorize_MissingCredentials(t *testing.T) {
	term := &mockTerminal{}
	o, err := NewOrchestrator(term, Credentials{LocationID: "loc"})
	require.NoError(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, o.Authorize(context.Background()), &authErr)
	assert.Zero(t, term.authCalls.Load())
}

func TestAuthorize_TerminalRejects(t *testing.T) {
	o := newOrchestrator(t, &mockTerminal{authErr: errors.New("401")})

	_, err := o.Capture(context.Background(), 100)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, o.InFlight())
}

func TestCapture_InvalidAmount(t *testing.T) {
	term := &mockTerminal{}
	o := newOrchestrator(t, term)

	for _, amount := range []int64{0, -5} {
		_, err := o.Capture(context.Background(), amount)
		var invalid *InvalidAmountError
		require.ErrorAs(t, err, &invalid)
	}
	assert.Empty(t, term.charges)
}

func TestCapture_FreshKeyPerAttempt(t *testing.T) {
	term := &mockTerminal{}
	o := newOrchestrator(t, term, WithCurrency("CAD"))

	_, err := o.Capture(context.Background(), 974)
	require.NoError(t, err)
	_, err = o.Capture(context.Background(), 974)
	require.NoError(t, err)

	require.Len(t, term.charges, 2)
	assert.NotEqual(t, term.charges[0].IdempotencyKey, term.charges[1].IdempotencyKey)
	assert.Equal(t, "CAD", term.charges[0].Currency)
	assert.Equal(t, int64(974), term.charges[0].AmountMinor)
}

func TestCapture_Outcomes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "declined",
			err:  errors.Wrap(ErrDeclined, "card expired"),
			check: func(t *testing.T, err error) {
				var target *PaymentDeclinedError
				require.ErrorAs(t, err, &target)
				assert.NotEmpty(t, target.IdempotencyKey)
			},
		},
		{
			name: "buyer cancelled",
			err:  errors.Wrap(ErrCancelled, "buyer"),
			check: func(t *testing.T, err error) {
				var target *PaymentCancelledError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name: "unexpected failure is a decline",
			err:  errors.New("device offline"),
			check: func(t *testing.T, err error) {
				var target *PaymentDeclinedError
				require.ErrorAs(t, err, &target)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, &mockTerminal{chargeErr: tt.err})
			_, err := o.Capture(context.Background(), 100)
			tt.check(t, err)
			assert.False(t, o.InFlight())
		})
	}
}

func TestCapture_ContextCancelled(t *testing.T) {
	term := &mockTerminal{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	o := newOrchestrator(t, term)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Capture(ctx, 100)
		done <- err
	}()

	<-term.entered
	cancel()

	err := <-done
	var target *PaymentCancelledError
	require.ErrorAs(t, err, &target)
	assert.False(t, o.InFlight())
}

func TestCapture_Concurrent(t *testing.T) {
	term := &mockTerminal{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	o := newOrchestrator(t, term)

	first := make(chan error, 1)
	var firstID string
	go func() {
		id, err := o.Capture(context.Background(), 100)
		firstID = id
		first <- err
	}()
	<-term.entered

	_, err := o.Capture(context.Background(), 100)
	require.ErrorIs(t, err, ErrOperationInProgress)
	var busy *OperationInProgressError
	require.ErrorAs(t, err, &busy)

	err = o.Refund(context.Background(), "pay-x", 100)
	require.ErrorIs(t, err, ErrOperationInProgress)

	close(term.release)
	require.NoError(t, <-first)
	assert.NotEmpty(t, firstID)
	assert.Len(t, term.charges, 1)
	assert.False(t, o.InFlight())
}

func TestRefund(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		term := &mockTerminal{}
		o := newOrchestrator(t, term)
		require.NoError(t, o.Refund(context.Background(), "pay-1", 974))
		require.Len(t, term.refunds, 1)
		assert.Equal(t, "pay-1", term.refunds[0].PaymentID)
		assert.NotEmpty(t, term.refunds[0].IdempotencyKey)
	})

	t.Run("failure", func(t *testing.T) {
		o := newOrchestrator(t, &mockTerminal{refundErr: errors.New("status 500")})
		err := o.Refund(context.Background(), "pay-1", 974)
		var target *RefundFailedError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, "pay-1", target.PaymentID)
		assert.False(t, o.InFlight())
	})
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o := newOrchestrator(t, &mockTerminal{}, WithMeterProvider(mp))

	_, err := o.Capture(context.Background(), 100)
	require.NoError(t, err)
	_, err = o.Capture(context.Background(), 0)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pos.payment.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestCapture_Timeout(t *testing.T) {
	term := &mockTerminal{release: make(chan struct{})}
	o := newOrchestrator(t, term)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Capture(ctx, 100)
	var target *PaymentCancelledError
	require.ErrorAs(t, err, &target)
}
