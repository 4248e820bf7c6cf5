package menu

import (
	"context"

	"github.com/shopspring/decimal"
)

// Category groups menu items by the station that prepares them.
type Category string

// Categories served by the store.
const (
	CategoryDrink     Category = "Drink"
	CategoryToast     Category = "Toast"
	CategoryKickers   Category = "Kickers"
	CategoryKolas     Category = "Kolas"
	CategoryKwenchers Category = "Kwenchers"
)

// Item is an immutable catalog entry.
type Item struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category Category
}

// Resolver looks up catalog items by id.
type Resolver interface {
	Resolve(id string) (Item, bool)
}

// Repository defines read operations for the catalog source.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
}
