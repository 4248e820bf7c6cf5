package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an order does not exist in the ledger.
var ErrNotFound = errors.New("order not found")

// ErrStatusChanged is returned by a conditional ledger write when the stored
// status no longer matches the one the transition was checked against.
var ErrStatusChanged = errors.New("order status changed concurrently")

// ValidationError indicates malformed input: an empty cart, a bad quantity,
// a negative rate or an unknown catalog item.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IllegalTransitionError indicates a status edge the state machine rejects.
type IllegalTransitionError struct {
	From   Status
	To     Status
	Reason string
	Err    error
}

func (e *IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return e.Err }

// LedgerError wraps a transport or storage failure of the ledger.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// ReconciliationError reports that an external payment operation succeeded
// but the matching ledger write did not. The order and the payment provider
// disagree until an operator reconciles them.
type ReconciliationError struct {
	Op        string
	OrderID   string
	PaymentID string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s of order %s (payment %s): %v", e.Op, e.OrderID, e.PaymentID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
