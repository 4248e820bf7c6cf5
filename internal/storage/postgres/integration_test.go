//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

func startPostgres(t *testing.T) *Ledger {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("pos"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(pool))
	// Idempotent.
	require.NoError(t, Migrate(pool))

	return NewLedger(pool, NewPoolListener(pool), WithCoalesce(20*time.Millisecond))
}

func TestIntegration_LedgerRoundTrip(t *testing.T) {
	l := startPostgres(t)
	ctx := context.Background()

	o := testOrder("order-1", order.StatusPending)
	o.PaymentID = ""
	o.PaymentType = order.PaymentCash
	require.NoError(t, l.Put(ctx, o))

	at := created.Add(time.Minute)
	require.NoError(t, l.UpdateFields(ctx, "order-1", order.StatusFields(order.StatusCompleted, at)))

	got, err := l.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	assert.True(t, got.UpdatedAt.Equal(at))
	assert.Equal(t, "9.74", got.Total.StringFixed(2))
	assert.Empty(t, got.PaymentID)

	found, err := l.FindByNumberAndCashier(ctx, 7, "c-1")
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.ErrorIs(t, l.UpdateFields(ctx, "missing", order.StatusFields(order.StatusHeld, at)), order.ErrNotFound)

	stale := order.TransitionFields(order.StatusPending, order.StatusHeld, at)
	require.ErrorIs(t, l.UpdateFields(ctx, "order-1", stale), order.ErrStatusChanged)
	got, err = l.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
}

func TestIntegration_LedgerWatch(t *testing.T) {
	l := startPostgres(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Put(ctx, testOrder("a", order.StatusPending)))

	ch, err := l.Watch(ctx, order.Query{Statuses: []order.Status{order.StatusPending, order.StatusHeld}})
	require.NoError(t, err)

	snap := recv(t, ch)
	require.True(t, snap.Full)
	require.Len(t, snap.Orders, 1)

	require.NoError(t, l.Put(ctx, testOrder("b", order.StatusPending)))
	b := recv(t, ch)
	require.NoError(t, b.Err)
	require.Len(t, b.Changes, 1)
	assert.Equal(t, order.ChangeAdded, b.Changes[0].Kind)

	require.NoError(t, l.UpdateFields(ctx, "a", order.StatusFields(order.StatusCompleted, time.Now())))
	b = recv(t, ch)
	require.Len(t, b.Changes, 1)
	assert.Equal(t, order.ChangeRemoved, b.Changes[0].Kind)
}

func TestIntegration_Catalog(t *testing.T) {
	l := startPostgres(t)
	ctx := context.Background()
	pool := l.db.(Batcher)

	require.NoError(t, UpsertMenuItems(ctx, pool, []menu.Item{
		{ID: "latte", Name: "Latte", Price: decimal.RequireFromString("4.50"), Category: menu.CategoryDrink},
	}))
	require.NoError(t, UpsertTaxRates(ctx, pool, []tax.Profile{
		{Jurisdiction: "Chicago", Rate: decimal.RequireFromString("0.1025")},
	}))

	items, err := NewMenuRepository(l.db).List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	rates, err := NewTaxRateRepository(l.db).List(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "0.1025", rates[0].Rate.String())
}
