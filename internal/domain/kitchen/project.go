// Package kitchen projects live per-station queues of outstanding orders.
package kitchen

import (
	"sort"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

// Filter selects what a station sees.
type Filter struct {
	Category menu.Category
	// StationID hides orders pinned to other stations. Empty shows all.
	StationID string
}

// Outstanding lists the statuses a kitchen queue shows.
var Outstanding = []order.Status{order.StatusPending, order.StatusHeld}

// Project filters docs down to the lines prepared under f.Category and
// returns them Rush first, then oldest first. Orders with no matching line,
// including those whose items are all unknown to catalog, are dropped.
func Project(docs []order.Order, f Filter, catalog menu.Resolver) []order.Order {
	out := make([]order.Order, 0, len(docs))
	for _, doc := range docs {
		if doc.Status != order.StatusPending && doc.Status != order.StatusHeld {
			continue
		}
		if f.StationID != "" && doc.StationID != "" && doc.StationID != f.StationID {
			continue
		}

		var lines []order.LineItem
		for _, li := range doc.Items {
			item, ok := catalog.Resolve(li.ItemID)
			if !ok || item.Category != f.Category {
				continue
			}
			lines = append(lines, li)
		}
		if len(lines) == 0 {
			continue
		}

		o := doc.Clone()
		o.Items = lines
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

func less(a, b order.Order) bool {
	ar, br := a.Priority == order.PriorityRush, b.Priority == order.PriorityRush
	if ar != br {
		return ar
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
