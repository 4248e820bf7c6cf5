package payment

import "github.com/shopspring/decimal"

// TenderCash validates a cash tender and returns the change due.
func TenderCash(total, tendered decimal.Decimal) (decimal.Decimal, error) {
	if tendered.LessThan(total) {
		return decimal.Zero, &InsufficientTenderError{Total: total, Tendered: tendered}
	}
	return tendered.Sub(total).Round(2), nil
}

// MinorUnits converts a currency amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
