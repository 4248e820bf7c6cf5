package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/payment"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
	"github.com/xenking/kitchen-ledger/pkg/httpmiddleware"
)

// badRequestError is a request body or query that could not be parsed.
type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &badRequestError{msg: msg, err: err}
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	var (
		badReq       *badRequestError
		validation   *order.ValidationError
		invalidAmt   *payment.InvalidAmountError
		insufficient *payment.InsufficientTenderError
		jurisdiction *tax.UnknownJurisdictionError
		illegal      *order.IllegalTransitionError
		cancelled    *payment.PaymentCancelledError
		staff        *auth.AuthorizationError
		terminal     *payment.AuthorizationError
		declined     *payment.PaymentDeclinedError
		refund       *payment.RefundFailedError
		reconcile    *order.ReconciliationError
		ledger       *order.LedgerError
	)
	// Payment and reconciliation errors wrap the cause reported by the
	// terminal or the ledger, so they are classified first.
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest
	case errors.As(err, &reconcile):
		return http.StatusInternalServerError
	case errors.As(err, &refund):
		return http.StatusBadGateway
	case errors.As(err, &declined):
		return http.StatusPaymentRequired
	case errors.As(err, &cancelled):
		return http.StatusConflict
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation),
		errors.As(err, &invalidAmt),
		errors.As(err, &insufficient),
		errors.As(err, &jurisdiction),
		errors.Is(err, tax.ErrNegativeRate):
		return http.StatusUnprocessableEntity
	case errors.As(err, &illegal),
		errors.Is(err, payment.ErrOperationInProgress):
		return http.StatusConflict
	case errors.As(err, &staff), errors.As(err, &terminal):
		return http.StatusForbidden
	case errors.As(err, &ledger):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the error body. Messages
// of unclassified errors are not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()

	lg := zctx.From(r.Context())
	var reconcile *order.ReconciliationError
	switch {
	case errors.As(err, &reconcile):
		lg.Error("Reconciliation required", zap.Error(err))
	case status == http.StatusServiceUnavailable:
		lg.Warn("Ledger unavailable", zap.Error(err))
		msg = "order ledger unavailable"
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	httpmiddleware.WriteError(w, status, msg)
}
