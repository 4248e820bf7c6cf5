package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

const listTaxRatesSQL = `SELECT city, total_rate FROM sales_tax_rates ORDER BY city`

var _ tax.Repository = (*TaxRateRepository)(nil)

// LoadError reports a failed read or write of a reference table.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Batcher sends queued statements in one round trip.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TaxRateRepository reads jurisdictions from the sales_tax_rates table.
type TaxRateRepository struct {
	db DB
}

// NewTaxRateRepository returns a TaxRateRepository that uses db.
func NewTaxRateRepository(db DB) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// List returns every jurisdiction and its combined rate.
func (r *TaxRateRepository) List(ctx context.Context) ([]tax.Profile, error) {
	rows, err := r.db.Query(ctx, listTaxRatesSQL)
	if err != nil {
		return nil, &LoadError{Table: "sales_tax_rates", Err: err}
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tax.Profile, error) {
		var (
			p    tax.Profile
			rate decimal.Decimal
		)
		if err := row.Scan(&p.Jurisdiction, &rate); err != nil {
			return tax.Profile{}, err
		}
		p.Rate = rate
		return p, nil
	})
	if err != nil {
		return nil, &LoadError{Table: "sales_tax_rates", Err: err}
	}
	return profiles, nil
}

// UpsertTaxRates inserts or replaces jurisdiction rates in one batch.
func UpsertTaxRates(ctx context.Context, db Batcher, profiles []tax.Profile) error {
	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(`INSERT INTO sales_tax_rates (city, total_rate) VALUES ($1, $2)
			ON CONFLICT (city) DO UPDATE SET total_rate = EXCLUDED.total_rate`,
			p.Jurisdiction, p.Rate)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return &LoadError{Table: "sales_tax_rates", Err: err}
	}
	return nil
}
