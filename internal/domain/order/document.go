package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Document JSON field names.
const (
	fieldID          = "id"
	fieldItems       = "items"
	fieldSubtotal    = "subtotal"
	fieldTax         = "tax"
	fieldTotal       = "total"
	fieldStatus      = "status"
	fieldTimestamp   = "timestamp"
	fieldUpdatedAt   = "updatedAt"
	fieldCashierID   = "cashierId"
	fieldOrderNumber = "orderNumber"
	fieldStationID   = "stationId"
	fieldPriority    = "priority"
	fieldPaymentID   = "paymentId"
	fieldPaymentType = "paymentType"
	fieldItemID      = "itemId"
	fieldQuantity    = "quantity"
)

// Encode writes o as the order document. Optional fields are omitted when
// empty and money is written as a bare number with two decimals.
func (o Order) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.Field(fieldID, func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field(fieldItems, func(e *jx.Encoder) { EncodeItems(e, o.Items) })
	e.Field(fieldSubtotal, func(e *jx.Encoder) { EncodeMoney(e, o.Subtotal) })
	e.Field(fieldTax, func(e *jx.Encoder) { EncodeMoney(e, o.Tax) })
	e.Field(fieldTotal, func(e *jx.Encoder) { EncodeMoney(e, o.Total) })
	e.Field(fieldStatus, func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field(fieldTimestamp, func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	if !o.UpdatedAt.IsZero() {
		e.Field(fieldUpdatedAt, func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339Nano)) })
	}
	e.Field(fieldCashierID, func(e *jx.Encoder) { e.Str(o.CashierID) })
	if o.OrderNumber != nil {
		e.Field(fieldOrderNumber, func(e *jx.Encoder) { e.Int(*o.OrderNumber) })
	}
	optional := []struct{ name, value string }{
		{fieldStationID, o.StationID},
		{fieldPriority, string(o.Priority)},
		{fieldPaymentID, o.PaymentID},
		{fieldPaymentType, string(o.PaymentType)},
	}
	for _, f := range optional {
		if f.value == "" {
			continue
		}
		e.Field(f.name, func(e *jx.Encoder) { e.Str(f.value) })
	}
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (o Order) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	o.Encode(&e)
	return e.Bytes(), nil
}

// Decode reads an order document. Unknown fields are skipped.
func (o *Order) Decode(d *jx.Decoder) error {
	*o = Order{}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case fieldID:
			o.ID, err = d.Str()
		case fieldItems:
			o.Items, err = DecodeItems(d)
		case fieldSubtotal:
			o.Subtotal, err = DecodeMoney(d)
		case fieldTax:
			o.Tax, err = DecodeMoney(d)
		case fieldTotal:
			o.Total, err = DecodeMoney(d)
		case fieldStatus:
			var s string
			s, err = d.Str()
			o.Status = Status(s)
		case fieldTimestamp:
			o.CreatedAt, err = decodeTime(d)
		case fieldUpdatedAt:
			o.UpdatedAt, err = decodeTime(d)
		case fieldCashierID:
			o.CashierID, err = d.Str()
		case fieldOrderNumber:
			var n int
			n, err = d.Int()
			o.OrderNumber = &n
		case fieldStationID:
			o.StationID, err = d.Str()
		case fieldPriority:
			var s string
			s, err = d.Str()
			o.Priority = Priority(s)
		case fieldPaymentID:
			o.PaymentID, err = d.Str()
		case fieldPaymentType:
			var s string
			s, err = d.Str()
			o.PaymentType = PaymentMethod(s)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Order) UnmarshalJSON(data []byte) error {
	return o.Decode(jx.DecodeBytes(data))
}

// EncodeItems writes line items as [{"itemId","quantity"}].
func EncodeItems(e *jx.Encoder, items []LineItem) {
	e.ArrStart()
	for _, li := range items {
		e.Obj(func(e *jx.Encoder) {
			e.Field(fieldItemID, func(e *jx.Encoder) { e.Str(li.ItemID) })
			e.Field(fieldQuantity, func(e *jx.Encoder) { e.Int(li.Quantity) })
		})
	}
	e.ArrEnd()
}

// DecodeItems reads a line item array.
func DecodeItems(d *jx.Decoder) ([]LineItem, error) {
	var items []LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		li, err := decodeLineItem(d)
		if err != nil {
			return err
		}
		items = append(items, li)
		return nil
	})
	return items, err
}

func decodeLineItem(d *jx.Decoder) (LineItem, error) {
	var li LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case fieldItemID:
			li.ItemID, err = d.Str()
		case fieldQuantity:
			li.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return li, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// EncodeMoney writes v as a bare JSON number with two decimals.
func EncodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

// DecodeMoney reads a JSON number or numeric string into a decimal.
func DecodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}
