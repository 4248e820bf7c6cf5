package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
)

const listMenuItemsSQL = `SELECT id, name, price, category FROM menu_items ORDER BY id`

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository reads the catalog from the menu_items table.
type MenuRepository struct {
	db DB
}

// NewMenuRepository returns a MenuRepository that uses db.
func NewMenuRepository(db DB) *MenuRepository {
	return &MenuRepository{db: db}
}

// List returns every catalog item.
func (r *MenuRepository) List(ctx context.Context) ([]menu.Item, error) {
	rows, err := r.db.Query(ctx, listMenuItemsSQL)
	if err != nil {
		return nil, &LoadError{Table: "menu_items", Err: err}
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (menu.Item, error) {
		var (
			it       menu.Item
			price    decimal.Decimal
			category string
		)
		if err := row.Scan(&it.ID, &it.Name, &price, &category); err != nil {
			return menu.Item{}, err
		}
		it.Price = price
		it.Category = menu.Category(category)
		return it, nil
	})
	if err != nil {
		return nil, &LoadError{Table: "menu_items", Err: err}
	}
	return items, nil
}

// UpsertMenuItems inserts or replaces catalog items in one batch.
func UpsertMenuItems(ctx context.Context, db Batcher, items []menu.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO menu_items (id, name, price, category) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, category = EXCLUDED.category`,
			it.ID, it.Name, it.Price, string(it.Category))
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return &LoadError{Table: "menu_items", Err: err}
	}
	return nil
}
