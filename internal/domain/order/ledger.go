package order

import (
	"context"
	"slices"
	"strconv"
	"strings"
)

// Ledger is the durable order store with a live query stream.
type Ledger interface {
	Writer
	Watcher
	// Put creates the order or replaces it entirely.
	Put(ctx context.Context, o Order) error
	// Get returns ErrNotFound when id is absent.
	Get(ctx context.Context, id string) (*Order, error)
	// FindByNumberAndCashier returns matches oldest first.
	FindByNumberAndCashier(ctx context.Context, number int, cashierID string) ([]Order, error)
}

// Writer updates a subset of an order's fields.
type Writer interface {
	UpdateFields(ctx context.Context, id string, f Fields) error
}

// Watcher streams the set of orders matching a query.
//
// The first batch is a full snapshot. Later batches carry incremental
// changes. The channel is closed when ctx is done or after a batch with Err
// set.
type Watcher interface {
	Watch(ctx context.Context, q Query) (<-chan Batch, error)
}

// SortOrder arranges search results by creation time. Ties are broken by id.
type SortOrder int

const (
	OldestFirst SortOrder = iota
	NewestFirst
)

// ParseSortOrder reads the "sort" parameter of order history lookups:
// "timestamp" or "" for oldest first, "-timestamp" for newest first.
func ParseSortOrder(s string) (SortOrder, error) {
	switch s {
	case "", "timestamp":
		return OldestFirst, nil
	case "-timestamp":
		return NewestFirst, nil
	default:
		return 0, &ValidationError{Field: "sort", Reason: "unknown sort " + strconv.Quote(s)}
	}
}

// Sort arranges orders in place.
func (s SortOrder) Sort(orders []Order) {
	slices.SortStableFunc(orders, func(a, b Order) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if s == NewestFirst {
			return -c
		}
		return c
	})
}

// Query selects orders for a watch.
type Query struct {
	Statuses []Status
	// StationID, when set, also admits orders with no station.
	StationID string
}

// Matches reports whether o belongs to the query's result set.
func (q Query) Matches(o Order) bool {
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, o.Status) {
		return false
	}
	if q.StationID != "" && o.StationID != "" && o.StationID != q.StationID {
		return false
	}
	return true
}

// ChangeKind describes an incremental change.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one document entering, changing in, or leaving a result set.
type Change struct {
	Kind  ChangeKind
	Order Order
}

// Batch is a unit of delivery on a watch stream.
type Batch struct {
	// Full marks a snapshot replacing the whole working set.
	Full    bool
	Orders  []Order
	Changes []Change
	Err     error
}
