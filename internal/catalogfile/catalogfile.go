// Package catalogfile reads menu and sales tax exports. Files are CSV with a
// header row and may be gzip-compressed (".gz").
package catalogfile

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

// RowError points at a malformed record.
type RowError struct {
	Path string
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return e.Path + ":" + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *RowError) Unwrap() error { return e.Err }

// Catalog is the content of a menu export and a tax rate export.
type Catalog struct {
	Items    []menu.Item
	Profiles []tax.Profile
}

// Load reads both exports concurrently. An empty path is skipped.
func Load(ctx context.Context, menuPath, taxPath string) (*Catalog, error) {
	var c Catalog
	g, ctx := errgroup.WithContext(ctx)
	if menuPath != "" {
		g.Go(func() error {
			items, err := readFile(ctx, menuPath, ReadMenu)
			c.Items = items
			return err
		})
	}
	if taxPath != "" {
		g.Go(func() error {
			profiles, err := readFile(ctx, taxPath, ReadTaxRates)
			c.Profiles = profiles
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &c, nil
}

func readFile[T any](ctx context.Context, path string, read func(ctx context.Context, path string, r io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return read(ctx, path, r)
}

// ReadMenu parses "id,name,price,category" records.
func ReadMenu(ctx context.Context, path string, r io.Reader) ([]menu.Item, error) {
	var items []menu.Item
	seen := make(map[string]int)
	err := scan(ctx, path, r, []string{"id", "name", "price", "category"}, func(line int, rec map[string]string) error {
		id := rec["id"]
		if id == "" {
			return errors.New("empty id")
		}
		if prev, dup := seen[id]; dup {
			return errors.Errorf("duplicate id %q (first on line %d)", id, prev)
		}
		seen[id] = line

		price, err := decimal.NewFromString(rec["price"])
		if err != nil {
			return errors.Wrap(err, "parse price")
		}
		if price.IsNegative() {
			return errors.Errorf("negative price %s", price)
		}
		if rec["category"] == "" {
			return errors.New("empty category")
		}
		items = append(items, menu.Item{
			ID:       id,
			Name:     rec["name"],
			Price:    price,
			Category: menu.Category(rec["category"]),
		})
		return nil
	})
	return items, err
}

// ReadTaxRates parses "city,total_rate" records. Rates are decimal fractions
// ("0.0825") or percentages ("8.25%").
func ReadTaxRates(ctx context.Context, path string, r io.Reader) ([]tax.Profile, error) {
	var profiles []tax.Profile
	err := scan(ctx, path, r, []string{"city", "total_rate"}, func(_ int, rec map[string]string) error {
		city := rec["city"]
		if city == "" {
			return errors.New("empty city")
		}
		rate, err := ParseRate(rec["total_rate"])
		if err != nil {
			return err
		}
		profiles = append(profiles, tax.Profile{Jurisdiction: city, Rate: rate})
		return nil
	})
	return profiles, err
}

// ParseRate parses a string-encoded tax rate.
func ParseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse rate %q", s)
	}
	if percent {
		rate = rate.Shift(-2)
	}
	if rate.IsNegative() {
		return decimal.Decimal{}, tax.ErrNegativeRate
	}
	return rate, nil
}

// scan maps each record by header name. Columns may appear in any order;
// every name in required must be present.
func scan(ctx context.Context, path string, r io.Reader, required []string, fn func(line int, rec map[string]string) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return &RowError{Path: path, Line: 1, Err: errors.Wrap(err, "read header")}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return &RowError{Path: path, Line: 1, Err: errors.Errorf("missing column %q", name)}
		}
	}

	rec := make(map[string]string, len(required))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// *csv.ParseError carries its own position.
			return errors.Wrap(err, path)
		}
		line, _ := cr.FieldPos(0)
		for _, name := range required {
			rec[name] = strings.TrimSpace(row[index[name]])
		}
		if err := fn(line, rec); err != nil {
			return &RowError{Path: path, Line: line, Err: err}
		}
	}
}
