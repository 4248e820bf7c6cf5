//go:build integration

package app

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
	"github.com/xenking/kitchen-ledger/internal/storage/postgres"
)

func seededDatabase(t *testing.T) string {
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

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.Migrate(pool))

	require.NoError(t, postgres.UpsertMenuItems(ctx, pool, []menu.Item{
		{ID: "latte", Name: "Latte", Price: decimal.RequireFromString("4.50"), Category: menu.CategoryDrink},
		{ID: "toast", Name: "Toast", Price: decimal.RequireFromString("3.00"), Category: menu.CategoryToast},
	}))
	require.NoError(t, postgres.UpsertTaxRates(ctx, pool, []tax.Profile{
		{Jurisdiction: "Austin", Rate: decimal.RequireFromString("0.0825")},
	}))
	return dsn
}

func TestIntegration_CheckoutReachesStationQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := &Config{
		Ledger:      LedgerPostgres,
		DatabaseURL: seededDatabase(t),
		JWTSecret:   "integration-secret",
		Tax:         TaxConfig{Jurisdiction: "Austin"},
		Square:      SquareConfig{Currency: "USD", PollInterval: time.Second},
		Watch:       WatchConfig{Coalesce: 20 * time.Millisecond},
		RateLimit:   RateLimitConfig{Max: 1000, Window: time.Minute},
	}
	s, err := Build(ctx, zaptest.NewLogger(t), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg)
	require.NoError(t, err)
	defer s.Close()

	srv := httptest.NewServer(s.Handler)
	defer srv.Close()

	tokens := auth.NewTokens([]byte(cfg.JWTSecret))
	bearer := func(a auth.Actor) string {
		tok, err := tokens.Issue(a, time.Minute)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	cashier := bearer(auth.Actor{EmployeeID: "c-1", Role: auth.RoleCashier})
	cook := bearer(auth.Actor{EmployeeID: "k-1", Role: auth.RoleKitchen})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stations/Drink/queue", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", cook)
	stream, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	events := bufio.NewReader(stream.Body)

	assert.JSONEq(t, `{"orders":[]}`, nextData(t, events))

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/orders", strings.NewReader(
		`{"items":[{"itemId":"latte","quantity":2},{"itemId":"toast","quantity":1}],"orderNumber":1,"payment":{"method":"Cash","tendered":20}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", cashier)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := nextData(t, events)
	assert.Contains(t, data, `"itemId":"latte"`)
	assert.NotContains(t, data, `"itemId":"toast"`)
	assert.Contains(t, data, `"total":12.99`)
}

func nextData(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: "); ok {
			return data
		}
	}
}
