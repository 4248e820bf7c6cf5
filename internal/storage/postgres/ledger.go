package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

const orderColumns = `id, items, subtotal, tax, total, status, created_at, updated_at, cashier_id, order_number,
		COALESCE(station_id, ''), COALESCE(priority, ''), COALESCE(payment_id, ''), payment_type`

const (
	putOrderSQL = `INSERT INTO orders (id, items, subtotal, tax, total, status, created_at, updated_at,
		cashier_id, order_number, station_id, priority, payment_id, payment_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			items = EXCLUDED.items,
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			total = EXCLUDED.total,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			cashier_id = EXCLUDED.cashier_id,
			order_number = EXCLUDED.order_number,
			station_id = EXCLUDED.station_id,
			priority = EXCLUDED.priority,
			payment_id = EXCLUDED.payment_id,
			payment_type = EXCLUDED.payment_type`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	findOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE order_number = $1 AND cashier_id = $2 ORDER BY created_at, id`

	ordersByIDsSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = ANY($1)`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

// DefaultCoalesce is the window over which change notifications are merged
// into a single batch.
const DefaultCoalesce = 50 * time.Millisecond

var _ order.Ledger = (*Ledger)(nil)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithCoalesce sets the notification coalescing window.
func WithCoalesce(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.coalesce = d }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) LedgerOption {
	return func(l *Ledger) { l.lg = lg }
}

// Ledger implements order.Ledger backed by PostgreSQL. Watches LISTEN on
// the orders_changed channel fed by a row trigger.
type Ledger struct {
	db       DB
	listener Listener
	coalesce time.Duration
	lg       *zap.Logger
}

// NewLedger returns a Ledger that queries db and watches through listener.
func NewLedger(db DB, listener Listener, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:       db,
		listener: listener,
		coalesce: DefaultCoalesce,
		lg:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Put creates the order or replaces every mutable column.
func (l *Ledger) Put(ctx context.Context, o order.Order) error {
	var items jx.Encoder
	order.EncodeItems(&items, o.Items)

	_, err := l.db.Exec(ctx, putOrderSQL,
		o.ID,
		items.Bytes(),
		o.Subtotal,
		o.Tax,
		o.Total,
		string(o.Status),
		o.CreatedAt,
		o.UpdatedAt,
		o.CashierID,
		o.OrderNumber,
		nullString(o.StationID),
		nullString(string(o.Priority)),
		nullString(o.PaymentID),
		paymentType(o.PaymentType),
	)
	if err != nil {
		return &order.LedgerError{Op: "put", Err: err}
	}
	return nil
}

// UpdateFields sets the non-nil fields of f on an existing order. A status
// precondition becomes part of the WHERE clause, so the check and the write
// are one statement.
func (l *Ledger) UpdateFields(ctx context.Context, id string, f order.Fields) error {
	if f.Empty() {
		return nil
	}

	args := []any{id}
	var sets []string
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.Status != nil {
		set("status", string(*f.Status))
	}
	if f.UpdatedAt != nil {
		set("updated_at", *f.UpdatedAt)
	}
	if f.PaymentID != nil {
		set("payment_id", nullString(*f.PaymentID))
	}
	if f.PaymentType != nil {
		set("payment_type", paymentType(*f.PaymentType))
	}

	sql := "UPDATE orders SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if f.IfStatus != nil {
		args = append(args, string(*f.IfStatus))
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	tag, err := l.db.Exec(ctx, sql, args...)
	if err != nil {
		return &order.LedgerError{Op: "update", Err: err}
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if f.IfStatus == nil {
		return order.ErrNotFound
	}

	var exists bool
	if err := l.db.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return &order.LedgerError{Op: "update", Err: err}
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusChanged
}

// Get returns a single order or order.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := l.db.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, &order.LedgerError{Op: "get", Err: err}
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, &order.LedgerError{Op: "get", Err: err}
	}
	return &o, nil
}

// FindByNumberAndCashier returns matching orders, oldest first.
func (l *Ledger) FindByNumberAndCashier(ctx context.Context, number int, cashierID string) ([]order.Order, error) {
	rows, err := l.db.Query(ctx, findOrdersSQL, number, cashierID)
	if err != nil {
		return nil, &order.LedgerError{Op: "find", Err: err}
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, &order.LedgerError{Op: "find", Err: err}
	}
	return orders, nil
}

// queryOrders returns the orders matching q, with the station filter
// pushed down into SQL.
func (l *Ledger) queryOrders(ctx context.Context, q order.Query) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if q.StationID != "" {
		args = append(args, q.StationID)
		where = append(where, fmt.Sprintf("(station_id IS NULL OR station_id = $%d)", len(args)))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"

	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (l *Ledger) ordersByIDs(ctx context.Context, ids []string) ([]order.Order, error) {
	rows, err := l.db.Query(ctx, ordersByIDsSQL, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		items       []byte
		subtotal    decimal.Decimal
		tax         decimal.Decimal
		total       decimal.Decimal
		status      string
		orderNumber *int
		priority    string
		payType     string
	)
	err := row.Scan(
		&o.ID,
		&items,
		&subtotal,
		&tax,
		&total,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.CashierID,
		&orderNumber,
		&o.StationID,
		&priority,
		&o.PaymentID,
		&payType,
	)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "scan order")
	}
	if o.Items, err = order.DecodeItems(jx.DecodeBytes(items)); err != nil {
		return order.Order{}, errors.Wrapf(err, "decode items of order %q", o.ID)
	}

	o.Subtotal = subtotal
	o.Tax = tax
	o.Total = total
	o.Status = order.Status(status)
	o.OrderNumber = orderNumber
	o.Priority = order.Priority(priority)
	o.PaymentType = order.PaymentMethod(payType)
	return o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func paymentType(m order.PaymentMethod) string {
	if m == "" {
		return string(order.PaymentPending)
	}
	return string(m)
}
