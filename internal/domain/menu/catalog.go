package menu

import (
	"context"

	"github.com/go-faster/errors"
)

var _ Resolver = (*Catalog)(nil)

// Catalog is the read-only, in-memory menu shared by the cart engine and the
// kitchen projectors. It is built once and never mutated, so it is safe for
// concurrent readers.
type Catalog struct {
	byID  map[string]Item
	items []Item
}

// NewCatalog indexes items by id. Later duplicates replace earlier ones.
func NewCatalog(items []Item) *Catalog {
	c := &Catalog{
		byID:  make(map[string]Item, len(items)),
		items: make([]Item, 0, len(items)),
	}
	pos := make(map[string]int, len(items))
	for _, it := range items {
		if i, dup := pos[it.ID]; dup {
			c.items[i] = it
		} else {
			pos[it.ID] = len(c.items)
			c.items = append(c.items, it)
		}
		c.byID[it.ID] = it
	}
	return c
}

// LoadCatalog reads the catalog source once.
func LoadCatalog(ctx context.Context, repo Repository) (*Catalog, error) {
	items, err := repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list menu items")
	}
	return NewCatalog(items), nil
}

// Resolve returns the item with the given id.
func (c *Catalog) Resolve(id string) (Item, bool) {
	it, ok := c.byID[id]
	return it, ok
}

// List returns a copy of all items in source order.
func (c *Catalog) List() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of catalog items.
func (c *Catalog) Len() int {
	return len(c.items)
}
