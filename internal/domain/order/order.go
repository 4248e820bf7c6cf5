package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses. Wire strings are exactly these values.
const (
	StatusPending   Status = "Pending"
	StatusHeld      Status = "Held"
	StatusCompleted Status = "Completed"
	StatusRefunded  Status = "Refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusHeld, StatusCompleted, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether items and totals are frozen in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// Priority marks orders the kitchen should prepare first.
type Priority string

const (
	PriorityNormal Priority = ""
	PriorityRush   Priority = "Rush"
)

// PaymentMethod records how an order was tendered.
type PaymentMethod string

const (
	PaymentCard    PaymentMethod = "Card"
	PaymentCash    PaymentMethod = "Cash"
	PaymentPending PaymentMethod = "Pending"
)

// LineItem is a catalog item reference with a quantity of at least one.
type LineItem struct {
	ItemID   string
	Quantity int
}

// Order is a submitted transaction. Total equals Subtotal plus Tax once
// persisted, and ID never changes.
type Order struct {
	ID          string
	Items       []LineItem
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CashierID   string
	OrderNumber *int
	StationID   string
	Priority    Priority
	PaymentID   string
	PaymentType PaymentMethod
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]LineItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.OrderNumber != nil {
		n := *o.OrderNumber
		c.OrderNumber = &n
	}
	return c
}

// Validate checks an order is fit to be submitted.
func (o Order) Validate() error {
	if o.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if len(o.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one line item required"}
	}
	for _, li := range o.Items {
		if li.ItemID == "" {
			return &ValidationError{Field: "items", Reason: "item id required"}
		}
		if li.Quantity < 1 {
			return &ValidationError{Field: "items", Reason: "quantity must be at least 1 for " + li.ItemID}
		}
	}
	if o.Subtotal.IsNegative() || o.Tax.IsNegative() {
		return &ValidationError{Field: "total", Reason: "amounts must not be negative"}
	}
	if !o.Total.Equal(o.Subtotal.Add(o.Tax)) {
		return &ValidationError{Field: "total", Reason: "total must equal subtotal plus tax"}
	}
	if !o.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(o.Status)}
	}
	return nil
}

// Number returns the order number or zero when unset.
func (o Order) Number() int {
	if o.OrderNumber == nil {
		return 0
	}
	return *o.OrderNumber
}

// Fields is a subset of order fields to upsert. Nil fields are left unchanged.
type Fields struct {
	Status      *Status
	UpdatedAt   *time.Time
	PaymentID   *string
	PaymentType *PaymentMethod

	// IfStatus makes the write conditional: the ledger returns
	// ErrStatusChanged unless the stored status equals it.
	IfStatus *Status
}

// StatusFields returns Fields setting status and update time.
func StatusFields(s Status, at time.Time) Fields {
	return Fields{Status: &s, UpdatedAt: &at}
}

// TransitionFields returns StatusFields guarded on the status the
// transition was checked against.
func TransitionFields(from, to Status, at time.Time) Fields {
	f := StatusFields(to, at)
	f.IfStatus = &from
	return f
}

// Allows reports whether the precondition holds for current.
func (f Fields) Allows(current Status) bool {
	return f.IfStatus == nil || *f.IfStatus == current
}

// Apply writes the non-nil fields onto o.
func (f Fields) Apply(o *Order) {
	if f.Status != nil {
		o.Status = *f.Status
	}
	if f.UpdatedAt != nil {
		o.UpdatedAt = *f.UpdatedAt
	}
	if f.PaymentID != nil {
		o.PaymentID = *f.PaymentID
	}
	if f.PaymentType != nil {
		o.PaymentType = *f.PaymentType
	}
}

// Empty reports whether no field is set.
func (f Fields) Empty() bool {
	return f.Status == nil && f.UpdatedAt == nil && f.PaymentID == nil && f.PaymentType == nil
}
