// Command seed-catalog imports menu and sales tax CSV exports into
// PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/catalogfile"
	"github.com/xenking/kitchen-ledger/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		menuFile    string
		taxFile     string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuFile, "menu-file", "data/menu.csv", "menu CSV (id,name,price,category), optionally .gz")
	flag.StringVar(&taxFile, "tax-file", "data/sales_tax_rates.csv", "tax rate CSV (city,total_rate), optionally .gz")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, menuFile, taxFile); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
	lg.Info("Catalog import completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, menuFile, taxFile string) error {
	lg.Info("Reading exports", zap.String("menu", menuFile), zap.String("tax", taxFile))
	c, err := catalogfile.Load(ctx, menuFile, taxFile)
	if err != nil {
		return errors.Wrap(err, "read exports")
	}
	lg.Info("Exports parsed", zap.Int("menu_items", len(c.Items)), zap.Int("tax_rates", len(c.Profiles)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.UpsertMenuItems(ctx, pool, c.Items); err != nil {
		return errors.Wrap(err, "upsert menu items")
	}
	if err := postgres.UpsertTaxRates(ctx, pool, c.Profiles); err != nil {
		return errors.Wrap(err, "upsert tax rates")
	}
	return nil
}
