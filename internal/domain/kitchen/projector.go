package kitchen

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

// ErrStreamClosed is reported when the ledger ends a watch without an error.
var ErrStreamClosed = errors.New("order stream closed")

// StatusUpdater applies a status change through the state machine and the
// ledger.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, to order.Status, actor auth.Actor) (order.Order, error)
}

// View is a complete, ordered station queue. Consumers replace their whole
// display with each View.
type View struct {
	Orders []order.Order
	// Err is the sticky subscription error; Orders then holds the last good
	// view.
	Err error
}

// Projector opens station queues over the ledger's change stream.
type Projector struct {
	ledger  order.Watcher
	catalog menu.Resolver
	updater StatusUpdater
	lg      *zap.Logger
}

// NewProjector creates a Projector.
func NewProjector(ledger order.Watcher, catalog menu.Resolver, updater StatusUpdater, lg *zap.Logger) *Projector {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Projector{
		ledger:  ledger,
		catalog: catalog,
		updater: updater,
		lg:      lg,
	}
}

// Subscribe opens a live queue for f. The queue stays open until Close or
// ctx is done. A transport failure ends it; call Subscribe again to
// reconnect.
func (p *Projector) Subscribe(ctx context.Context, f Filter) (*Queue, error) {
	if f.Category == "" {
		return nil, &order.ValidationError{Field: "category", Reason: "required"}
	}

	ctx, cancel := context.WithCancel(ctx)
	batches, err := p.ledger.Watch(ctx, order.Query{
		Statuses:  Outstanding,
		StationID: f.StationID,
	})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "watch orders")
	}

	q := &Queue{
		filter:  f,
		catalog: p.catalog,
		lg: p.lg.With(
			zap.String("category", string(f.Category)),
			zap.String("station_id", f.StationID),
		),
		updates: make(chan View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run(ctx, batches)
	return q, nil
}

// UpdateStatus changes an order's status. The queue's view is not touched;
// the change arrives through the stream like any other write.
func (p *Projector) UpdateStatus(ctx context.Context, id string, to order.Status, actor auth.Actor) (order.Order, error) {
	return p.updater.UpdateStatus(ctx, id, to, actor)
}

// Queue is one station's subscription. A single goroutine applies batches
// and computes views, so views are never computed concurrently.
type Queue struct {
	filter  Filter
	catalog menu.Resolver
	lg      *zap.Logger

	updates chan View
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.RWMutex
	current View
}

// Updates delivers views, latest first: a slow consumer only misses
// intermediate views. The channel is closed when the queue ends.
func (q *Queue) Updates() <-chan View {
	return q.updates
}

// Current returns the latest view.
func (q *Queue) Current() View {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// Err returns the sticky subscription error, if any.
func (q *Queue) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current.Err
}

// Done is closed once the queue goroutine exits.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close cancels the subscription and waits for the queue to stop. Batches
// still in flight are discarded.
func (q *Queue) Close() {
	q.cancel()
	<-q.done
}

func (q *Queue) run(ctx context.Context, batches <-chan order.Batch) {
	defer close(q.done)
	defer close(q.updates)

	working := make(map[string]order.Order)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-batches:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				q.fail(&order.LedgerError{Op: "watch", Err: ErrStreamClosed})
				return
			}
			if b.Err != nil {
				q.fail(b.Err)
				return
			}
			apply(working, b)
			q.publish(View{Orders: q.project(working)})
		}
	}
}

func (q *Queue) project(working map[string]order.Order) []order.Order {
	docs := make([]order.Order, 0, len(working))
	for _, o := range working {
		docs = append(docs, o)
	}
	return Project(docs, q.filter, q.catalog)
}

func (q *Queue) fail(err error) {
	q.lg.Warn("Station queue stopped", zap.Error(err))
	last := q.Current()
	q.publish(View{Orders: last.Orders, Err: err})
}

// publish replaces the pending view, if any, with v. Current observes v
// only once it is deliverable on the channel.
func (q *Queue) publish(v View) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = v

	select {
	case q.updates <- v:
		return
	default:
	}
	select {
	case <-q.updates:
	default:
	}
	q.updates <- v
}

func apply(working map[string]order.Order, b order.Batch) {
	if b.Full {
		clear(working)
		for _, o := range b.Orders {
			working[o.ID] = o
		}
		return
	}
	for _, c := range b.Changes {
		switch c.Kind {
		case order.ChangeAdded, order.ChangeModified:
			working[c.Order.ID] = c.Order
		case order.ChangeRemoved:
			delete(working, c.Order.ID)
		}
	}
}
