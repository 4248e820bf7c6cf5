// Package memory provides an in-process order ledger for development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

var _ order.Ledger = (*Ledger)(nil)

// Ledger keeps orders in memory and streams changes to watchers. Writers
// never block on slow watchers; pending changes are coalesced into the
// next batch.
type Ledger struct {
	mu       sync.RWMutex
	orders   map[string]order.Order
	watchers map[*watcher]struct{}
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		orders:   make(map[string]order.Order),
		watchers: make(map[*watcher]struct{}),
	}
}

// Put creates or replaces an order.
func (l *Ledger) Put(_ context.Context, o order.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, existed := l.orders[o.ID]
	next := o.Clone()
	l.orders[o.ID] = next
	l.notify(prev, existed, next)
	return nil
}

// UpdateFields merges f into an existing order. The status precondition is
// checked under the same lock as the write.
func (l *Ledger) UpdateFields(_ context.Context, id string, f order.Fields) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if !f.Allows(prev.Status) {
		return order.ErrStatusChanged
	}
	next := prev.Clone()
	f.Apply(&next)
	l.orders[id] = next
	l.notify(prev, true, next)
	return nil
}

// Get returns a copy of the order.
func (l *Ledger) Get(_ context.Context, id string) (*order.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := o.Clone()
	return &c, nil
}

// FindByNumberAndCashier returns matching orders, oldest first.
func (l *Ledger) FindByNumberAndCashier(_ context.Context, number int, cashierID string) ([]order.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []order.Order
	for _, o := range l.orders {
		if o.Number() == number && o.CashierID == cashierID {
			out = append(out, o.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// Watch streams orders matching q, starting with a full snapshot.
func (l *Ledger) Watch(ctx context.Context, q order.Query) (<-chan order.Batch, error) {
	w := &watcher{
		query:  q,
		out:    make(chan order.Batch),
		signal: make(chan struct{}, 1),
	}

	l.mu.Lock()
	var snapshot []order.Order
	for _, o := range l.orders {
		if q.Matches(o) {
			snapshot = append(snapshot, o.Clone())
		}
	}
	l.watchers[w] = struct{}{}
	l.mu.Unlock()

	sortByCreated(snapshot)
	go l.serve(ctx, w, snapshot)
	return w.out, nil
}

func (l *Ledger) serve(ctx context.Context, w *watcher, snapshot []order.Order) {
	defer func() {
		l.mu.Lock()
		delete(l.watchers, w)
		l.mu.Unlock()
		close(w.out)
	}()

	select {
	case w.out <- order.Batch{Full: true, Orders: snapshot}:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
		}
		changes := w.take()
		if len(changes) == 0 {
			continue
		}
		select {
		case w.out <- order.Batch{Changes: changes}:
		case <-ctx.Done():
			return
		}
	}
}

// notify must be called with l.mu held.
func (l *Ledger) notify(prev order.Order, existed bool, next order.Order) {
	for w := range l.watchers {
		was := existed && w.query.Matches(prev)
		is := w.query.Matches(next)

		var kind order.ChangeKind
		switch {
		case was && is:
			kind = order.ChangeModified
		case is:
			kind = order.ChangeAdded
		case was:
			kind = order.ChangeRemoved
		default:
			continue
		}
		w.push(order.Change{Kind: kind, Order: next.Clone()})
	}
}

type watcher struct {
	query  order.Query
	out    chan order.Batch
	signal chan struct{}

	mu      sync.Mutex
	pending []order.Change
}

func (w *watcher) push(c order.Change) {
	w.mu.Lock()
	w.pending = append(w.pending, c)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) take() []order.Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = nil
	return out
}

func sortByCreated(orders []order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
