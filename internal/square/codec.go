package square

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kitchen-ledger/internal/domain/payment"
)

// APIError is a non-200 response from Square.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
}

// ErrorDetail is one entry of the errors array Square returns.
type ErrorDetail struct {
	Category string
	Code     string
	Detail   string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("square: http %d", e.StatusCode)
	}
	parts := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		parts[i] = d.Code
		if d.Detail != "" {
			parts[i] += ": " + d.Detail
		}
	}
	return fmt.Sprintf("square: http %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

type checkout struct {
	ID           string
	Status       string
	CancelReason string
	PaymentIDs   []string
}

func encodeMoney(e *jx.Encoder, amount int64, currency string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
	})
}

func encodeCreateCheckout(req payment.ChargeRequest, deviceID string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(req.IdempotencyKey) })
		e.Field("checkout", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("amount_money", func(e *jx.Encoder) { encodeMoney(e, req.AmountMinor, req.Currency) })
				e.Field("device_options", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("device_id", func(e *jx.Encoder) { e.Str(deviceID) })
					})
				})
			})
		})
	})
	return e.Bytes()
}

func encodeRefund(req payment.RefundRequest) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("idempotency_key", func(e *jx.Encoder) { e.Str(req.IdempotencyKey) })
		e.Field("payment_id", func(e *jx.Encoder) { e.Str(req.PaymentID) })
		e.Field("amount_money", func(e *jx.Encoder) { encodeMoney(e, req.AmountMinor, req.Currency) })
	})
	return e.Bytes()
}

func decodeCheckoutResponse(data []byte) (checkout, error) {
	var co checkout
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "checkout" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				co.ID, err = d.Str()
			case "status":
				co.Status, err = d.Str()
			case "cancel_reason":
				co.CancelReason, err = d.Str()
			case "payment_ids":
				err = d.Arr(func(d *jx.Decoder) error {
					id, err := d.Str()
					if err != nil {
						return err
					}
					co.PaymentIDs = append(co.PaymentIDs, id)
					return nil
				})
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return checkout{}, errors.Wrap(err, "decode checkout")
	}
	if co.ID == "" {
		return checkout{}, errors.New("decode checkout: missing id")
	}
	return co, nil
}

// decodeAPIError never fails; an unreadable body yields an APIError with
// only the status code.
func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(data) == 0 {
		return apiErr
	}
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "errors" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var detail ErrorDetail
			err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "category":
					detail.Category, err = d.Str()
				case "code":
					detail.Code, err = d.Str()
				case "detail":
					detail.Detail, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
			if err != nil {
				return err
			}
			apiErr.Errors = append(apiErr.Errors, detail)
			return nil
		})
	})
	return apiErr
}
