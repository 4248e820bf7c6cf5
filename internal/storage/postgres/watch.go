package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

// ChangesChannel is the NOTIFY channel the orders trigger publishes ids on.
const ChangesChannel = "orders_changed"

// Listener opens dedicated connections subscribed to a NOTIFY channel.
type Listener interface {
	Listen(ctx context.Context, channel string) (Notifications, error)
}

// Notifications is a connection receiving NOTIFY payloads.
type Notifications interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// PoolListener acquires listening connections from a pool.
type PoolListener struct {
	pool *pgxpool.Pool
}

// NewPoolListener returns a PoolListener over pool.
func NewPoolListener(pool *pgxpool.Pool) *PoolListener {
	return &PoolListener{pool: pool}
}

// Listen acquires a connection and issues LISTEN on channel.
func (p *PoolListener) Listen(ctx context.Context, channel string) (Notifications, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire listen connection")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, "listen")
	}
	return &poolNotifications{conn: conn}, nil
}

type poolNotifications struct {
	conn *pgxpool.Conn
}

func (n *poolNotifications) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return n.conn.Conn().WaitForNotification(ctx)
}

// Release unsubscribes before returning the connection to the pool. A
// connection that cannot be reset is closed instead.
func (n *poolNotifications) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := n.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = n.conn.Conn().Close(ctx)
	}
	n.conn.Release()
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

// Watch streams orders matching q. It LISTENs before reading the initial
// snapshot, so no write between the two is lost. Notifications arriving
// within the coalescing window are merged and the touched orders re-read
// as one incremental batch.
func (l *Ledger) Watch(ctx context.Context, q order.Query) (<-chan order.Batch, error) {
	conn, err := l.listener.Listen(ctx, ChangesChannel)
	if err != nil {
		return nil, &order.LedgerError{Op: "watch", Err: err}
	}

	out := make(chan order.Batch)
	go l.watch(ctx, conn, q, out)
	return out, nil
}

func (l *Ledger) watch(ctx context.Context, conn Notifications, q order.Query, out chan<- order.Batch) {
	defer close(out)
	defer conn.Release()

	rctx, stop := context.WithCancel(ctx)
	notes := readNotifications(rctx, conn)
	defer func() {
		stop()
		for range notes.ids {
		}
	}()

	lg := l.lg.With(zap.String("station_id", q.StationID))

	snapshot, err := l.queryOrders(ctx, q)
	if err != nil {
		l.fail(ctx, lg, out, err)
		return
	}
	known := make(map[string]struct{}, len(snapshot))
	for _, o := range snapshot {
		known[o.ID] = struct{}{}
	}
	if !send(ctx, out, order.Batch{Full: true, Orders: snapshot}) {
		return
	}

	for {
		ids, err := l.collect(ctx, notes)
		if err != nil {
			l.fail(ctx, lg, out, err)
			return
		}

		changes, err := l.diff(ctx, q, ids, known)
		if err != nil {
			l.fail(ctx, lg, out, err)
			return
		}
		if len(changes) == 0 {
			continue
		}
		if !send(ctx, out, order.Batch{Changes: changes}) {
			return
		}
	}
}

// notificationReader owns the listening connection while a watch runs.
// ids is closed once the connection fails or the context ends, after err
// is set.
type notificationReader struct {
	ids chan string
	err error
}

func readNotifications(ctx context.Context, conn Notifications) *notificationReader {
	r := &notificationReader{ids: make(chan string, 64)}
	go func() {
		defer close(r.ids)
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				r.err = err
				return
			}
			select {
			case r.ids <- n.Payload:
			case <-ctx.Done():
				r.err = ctx.Err()
				return
			}
		}
	}()
	return r
}

// collect blocks for one notification and then gathers more until the
// coalescing window closes.
func (l *Ledger) collect(ctx context.Context, notes *notificationReader) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	select {
	case id, ok := <-notes.ids:
		if !ok {
			return nil, notes.err
		}
		add(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	window := time.NewTimer(l.coalesce)
	defer window.Stop()
	for {
		select {
		case id, ok := <-notes.ids:
			if !ok {
				return nil, notes.err
			}
			add(id)
		case <-window.C:
			return ids, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// diff re-reads ids and classifies each against the known result set,
// updating known in place.
func (l *Ledger) diff(ctx context.Context, q order.Query, ids []string, known map[string]struct{}) ([]order.Change, error) {
	orders, err := l.ordersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	found := make(map[string]struct{}, len(orders))
	var changes []order.Change
	for _, o := range orders {
		found[o.ID] = struct{}{}
		_, was := known[o.ID]
		is := q.Matches(o)
		switch {
		case was && is:
			changes = append(changes, order.Change{Kind: order.ChangeModified, Order: o})
		case is:
			known[o.ID] = struct{}{}
			changes = append(changes, order.Change{Kind: order.ChangeAdded, Order: o})
		case was:
			delete(known, o.ID)
			changes = append(changes, order.Change{Kind: order.ChangeRemoved, Order: o})
		}
	}
	// Deleted rows.
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if _, was := known[id]; was {
			delete(known, id)
			changes = append(changes, order.Change{Kind: order.ChangeRemoved, Order: order.Order{ID: id}})
		}
	}
	return changes, nil
}

func (l *Ledger) fail(ctx context.Context, lg *zap.Logger, out chan<- order.Batch, err error) {
	if ctx.Err() != nil {
		return
	}
	lg.Warn("Order watch failed", zap.Error(err))
	send(ctx, out, order.Batch{Err: &order.LedgerError{Op: "watch", Err: err}})
}

func send(ctx context.Context, out chan<- order.Batch, b order.Batch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}
