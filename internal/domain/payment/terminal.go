// Package payment drives card capture and refund against a payment terminal.
package payment

import "context"

// Credentials identify the merchant account and the paired device.
type Credentials struct {
	AccessToken string
	LocationID  string
	DeviceID    string
}

// Complete reports whether the fields required for authorization are set.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.LocationID != ""
}

// ChargeRequest asks the terminal to collect a card payment.
type ChargeRequest struct {
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
}

// RefundRequest asks the provider to return money for a payment.
type RefundRequest struct {
	IdempotencyKey string
	PaymentID      string
	AmountMinor    int64
	Currency       string
}

// Terminal is the card-payment provider.
//
// Charge returns an error wrapping ErrDeclined or ErrCancelled for the
// corresponding outcomes. It is not reentrant.
type Terminal interface {
	Authorize(ctx context.Context, creds Credentials) error
	Charge(ctx context.Context, req ChargeRequest) (paymentID string, err error)
	Refund(ctx context.Context, req RefundRequest) error
}
