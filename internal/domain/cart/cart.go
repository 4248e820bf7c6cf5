// Package cart builds order drafts from catalog items and computes tax.
package cart

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

// Line is a cart entry with the unit price captured when first added.
type Line struct {
	Item      menu.Item
	Quantity  int
	UnitPrice decimal.Decimal
}

// Amount returns unit price times quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Option configures a Cart.
type Option func(*Cart)

// WithClock overrides the time source used for draft creation times.
func WithClock(now func() time.Time) Option {
	return func(c *Cart) { c.now = now }
}

// WithIDGenerator overrides draft id generation.
func WithIDGenerator(f func() string) Option {
	return func(c *Cart) { c.newID = f }
}

// Cart is a single register's working order. It does no I/O and is not
// safe for concurrent use.
type Cart struct {
	catalog menu.Resolver
	profile tax.Profile
	now     func() time.Time
	newID   func() string

	lines    []Line
	subtotal decimal.Decimal
	tax      decimal.Decimal
}

// New creates an empty cart priced with profile.
func New(catalog menu.Resolver, profile tax.Profile, opts ...Option) *Cart {
	c := &Cart{
		catalog:  catalog,
		profile:  profile,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		subtotal: decimal.Zero,
		tax:      decimal.Zero,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddItem adds one unit of item, merging with an existing line of the same id.
func (c *Cart) AddItem(item menu.Item) {
	for i := range c.lines {
		if c.lines[i].Item.ID == item.ID {
			c.lines[i].Quantity++
			c.recompute()
			return
		}
	}
	c.lines = append(c.lines, Line{Item: item, Quantity: 1, UnitPrice: item.Price})
	c.recompute()
}

// AddItemByID resolves id in the catalog and adds one unit.
func (c *Cart) AddItemByID(id string) error {
	item, ok := c.catalog.Resolve(id)
	if !ok {
		return &order.ValidationError{Field: "itemId", Reason: "unknown catalog item " + id}
	}
	c.AddItem(item)
	return nil
}

// RemoveOneUnit decrements the line at index and drops it at zero.
func (c *Cart) RemoveOneUnit(index int) error {
	if index < 0 || index >= len(c.lines) {
		return &order.ValidationError{Field: "line", Reason: "no line at index " + strconv.Itoa(index)}
	}
	c.lines[index].Quantity--
	if c.lines[index].Quantity <= 0 {
		c.lines = append(c.lines[:index], c.lines[index+1:]...)
	}
	c.recompute()
	return nil
}

// SetTaxRate replaces the rate and recomputes totals.
func (c *Cart) SetTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return &order.ValidationError{Field: "taxRate", Reason: "must not be negative"}
	}
	c.profile.Rate = rate
	c.recompute()
	return nil
}

// SetProfile switches to another tax profile.
func (c *Cart) SetProfile(p tax.Profile) error {
	if err := p.Validate(); err != nil {
		return &order.ValidationError{Field: "taxRate", Reason: err.Error()}
	}
	c.profile = p
	c.recompute()
	return nil
}

// Profile returns the tax profile in use.
func (c *Cart) Profile() tax.Profile { return c.profile }

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Subtotal() decimal.Decimal { return c.subtotal }

func (c *Cart) Tax() decimal.Decimal { return c.tax }

// Total is subtotal plus tax.
func (c *Cart) Total() decimal.Decimal { return c.subtotal.Add(c.tax) }

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool { return len(c.lines) == 0 }

// Reset clears all lines.
func (c *Cart) Reset() {
	c.lines = nil
	c.recompute()
}

func (c *Cart) recompute() {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.Amount())
	}
	c.subtotal = sum.Round(2)
	c.tax = c.profile.Apply(c.subtotal)
}

type draftOptions struct {
	stationID string
	priority  order.Priority
}

// DraftOption sets optional draft fields.
type DraftOption func(*draftOptions)

// WithStation pins the draft to a kitchen station.
func WithStation(id string) DraftOption {
	return func(o *draftOptions) { o.stationID = id }
}

// WithPriority tags the draft, e.g. order.PriorityRush.
func WithPriority(p order.Priority) DraftOption {
	return func(o *draftOptions) { o.priority = p }
}

// ToOrder snapshots the cart as a Pending draft with a fresh id.
// The cart itself is left unchanged.
func (c *Cart) ToOrder(cashierID string, orderNumber int, opts ...DraftOption) (order.Order, error) {
	if len(c.lines) == 0 {
		return order.Order{}, &order.ValidationError{Field: "items", Reason: "cart is empty"}
	}
	if cashierID == "" {
		return order.Order{}, &order.ValidationError{Field: "cashierId", Reason: "required"}
	}
	if orderNumber <= 0 {
		return order.Order{}, &order.ValidationError{Field: "orderNumber", Reason: "must be greater than 0"}
	}

	var do draftOptions
	for _, opt := range opts {
		opt(&do)
	}

	items := make([]order.LineItem, len(c.lines))
	for i, l := range c.lines {
		items[i] = order.LineItem{ItemID: l.Item.ID, Quantity: l.Quantity}
	}
	num := orderNumber
	now := c.now()
	return order.Order{
		ID:          c.newID(),
		Items:       items,
		Subtotal:    c.subtotal,
		Tax:         c.tax,
		Total:       c.Total(),
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CashierID:   cashierID,
		OrderNumber: &num,
		StationID:   do.stationID,
		Priority:    do.priority,
		PaymentType: order.PaymentPending,
	}, nil
}
