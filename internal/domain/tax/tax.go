// Package tax holds sales tax profiles and the register's selected profile.
package tax

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
)

// ErrNegativeRate is returned for rates below zero.
var ErrNegativeRate = errors.New("tax rate must not be negative")

// UnknownJurisdictionError indicates the rate table has no entry for a label.
type UnknownJurisdictionError struct {
	Jurisdiction string
}

func (e *UnknownJurisdictionError) Error() string {
	return fmt.Sprintf("no tax rate for jurisdiction %q", e.Jurisdiction)
}

// Profile is a jurisdiction label and its rate as a decimal fraction
// (0.0825 for 8.25%).
type Profile struct {
	Jurisdiction string
	Rate         decimal.Decimal
}

// Validate checks the rate is non-negative.
func (p Profile) Validate() error {
	if p.Rate.IsNegative() {
		return ErrNegativeRate
	}
	return nil
}

// Apply returns the tax owed on subtotal, rounded to cents.
func (p Profile) Apply(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.Rate).Round(2)
}

// Repository lists the rate table.
type Repository interface {
	List(ctx context.Context) ([]Profile, error)
}

// Table is the locally cached rate table, keyed case-insensitively.
type Table struct {
	byName map[string]Profile
}

// NewTable indexes profiles, skipping invalid rates.
func NewTable(profiles []Profile) *Table {
	t := &Table{byName: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if p.Validate() != nil {
			continue
		}
		t.byName[strings.ToLower(p.Jurisdiction)] = p
	}
	return t
}

// LoadTable reads the rate table once.
func LoadTable(ctx context.Context, repo Repository) (*Table, error) {
	profiles, err := repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tax rates")
	}
	return NewTable(profiles), nil
}

// Lookup returns the profile for jurisdiction.
func (t *Table) Lookup(jurisdiction string) (Profile, error) {
	p, ok := t.byName[strings.ToLower(jurisdiction)]
	if !ok {
		return Profile{}, &UnknownJurisdictionError{Jurisdiction: jurisdiction}
	}
	return p, nil
}

// Profiles returns every profile sorted by jurisdiction.
func (t *Table) Profiles() []Profile {
	out := make([]Profile, 0, len(t.byName))
	for _, p := range t.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Jurisdiction < out[j].Jurisdiction })
	return out
}

// Session is the profile selected for a register session. Reads are shared;
// only a manager may change the selection.
type Session struct {
	table *Table

	mu      sync.RWMutex
	current Profile
}

// NewSession selects jurisdiction from table as the initial profile.
func NewSession(table *Table, jurisdiction string) (*Session, error) {
	p, err := table.Lookup(jurisdiction)
	if err != nil {
		return nil, err
	}
	return &Session{table: table, current: p}, nil
}

// Profile returns the selected profile.
func (s *Session) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select switches the session to another jurisdiction.
func (s *Session) Select(actor auth.Actor, jurisdiction string) (Profile, error) {
	if err := auth.RequireManager(actor, "change tax profile"); err != nil {
		return Profile{}, err
	}
	p, err := s.table.Lookup(jurisdiction)
	if err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return p, nil
}
