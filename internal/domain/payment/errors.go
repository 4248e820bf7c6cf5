package payment

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Terminal outcome sentinels. Terminal implementations wrap these so the
// orchestrator can classify a failed charge.
var (
	ErrDeclined  = errors.New("payment declined")
	ErrCancelled = errors.New("payment cancelled")
)

// ErrOperationInProgress matches any *OperationInProgressError.
var ErrOperationInProgress = errors.New("payment operation in progress")

// OperationInProgressError is returned when a capture or refund is attempted
// while another one is active.
type OperationInProgressError struct {
	Op string
}

func (e *OperationInProgressError) Error() string {
	return fmt.Sprintf("%s: another payment operation is in progress", e.Op)
}

func (e *OperationInProgressError) Is(target error) bool {
	return target == ErrOperationInProgress
}

// AuthorizationError indicates the terminal session could not be established.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorize terminal: %s: %v", e.Reason, e.Err)
	}
	return "authorize terminal: " + e.Reason
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// InvalidAmountError rejects non-positive capture or refund amounts.
type InvalidAmountError struct {
	AmountMinor int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: must be greater than 0", e.AmountMinor)
}

// PaymentDeclinedError is a failed charge. The order stays payable.
type PaymentDeclinedError struct {
	IdempotencyKey string
	Err            error
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined (key %s): %v", e.IdempotencyKey, e.Err)
}

func (e *PaymentDeclinedError) Unwrap() error { return e.Err }

// PaymentCancelledError is a charge cancelled by the buyer, the cashier or
// the caller's context.
type PaymentCancelledError struct {
	IdempotencyKey string
	Err            error
}

func (e *PaymentCancelledError) Error() string {
	return fmt.Sprintf("payment cancelled (key %s): %v", e.IdempotencyKey, e.Err)
}

func (e *PaymentCancelledError) Unwrap() error { return e.Err }

// RefundFailedError is any refund that the provider did not confirm.
type RefundFailedError struct {
	PaymentID string
	Err       error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund payment %s: %v", e.PaymentID, e.Err)
}

func (e *RefundFailedError) Unwrap() error { return e.Err }

// InsufficientTenderError is a cash tender below the order total.
type InsufficientTenderError struct {
	Total    decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientTenderError) Error() string {
	return fmt.Sprintf("tendered %s is less than total %s", e.Tendered.StringFixed(2), e.Total.StringFixed(2))
}
