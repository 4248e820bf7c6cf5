package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/pkg/httpmiddleware"
)

// --- Helpers ---

func envOnly() aconfig.Config {
	return aconfig.Config{SkipFlags: true, SkipFiles: true}
}

func catalogFiles(t *testing.T) (menuPath, taxPath string) {
	t.Helper()
	dir := t.TempDir()
	menuPath = filepath.Join(dir, "menu.csv")
	taxPath = filepath.Join(dir, "tax.csv")
	require.NoError(t, os.WriteFile(menuPath, []byte("id,name,price,category\nlatte,Latte,4.50,Drink\n"), 0o600))
	require.NoError(t, os.WriteFile(taxPath, []byte("city,total_rate\nAustin,8%\n"), 0o600))
	return menuPath, taxPath
}

func memoryConfig(t *testing.T) *Config {
	t.Helper()
	menuPath, taxPath := catalogFiles(t)
	t.Setenv("POS_LEDGER", LedgerMemory)
	t.Setenv("POS_JWT_SECRET", "test-secret")
	t.Setenv("POS_CATALOG_MENU_FILE", menuPath)
	t.Setenv("POS_CATALOG_TAX_FILE", taxPath)
	t.Setenv("POS_RATE_LIMIT_MAX", "1000")

	cfg, err := loadConfig(envOnly())
	require.NoError(t, err)
	return cfg
}

// --- Tests ---

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("POS_JWT_SECRET", "s")
	t.Setenv("POS_DATABASE_URL", "postgres://localhost/pos")

	cfg, err := loadConfig(envOnly())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, LedgerPostgres, cfg.Ledger)
	assert.Equal(t, "Austin", cfg.Tax.Jurisdiction)
	assert.Equal(t, "USD", cfg.Square.Currency)
	assert.Equal(t, 5*time.Minute, cfg.Square.CheckoutTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Coalesce)
	assert.Equal(t, "pos.orders", cfg.AMQP.Exchange)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("POS_JWT_SECRET", "s")
	t.Setenv("DATABASE_URL", "postgres://platform/pos")
	t.Setenv("PORT", "9090")

	cfg, err := loadConfig(envOnly())
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/pos", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no secret", Config{Ledger: LedgerMemory}, "JWT secret"},
		{"postgres without url", Config{JWTSecret: "s", Ledger: LedgerPostgres}, "database URL"},
		{"memory without files", Config{JWTSecret: "s", Ledger: LedgerMemory}, "memory ledger"},
		{"unknown ledger", Config{JWTSecret: "s", Ledger: "redis"}, "unknown ledger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := memoryConfig(t)
	s, err := Build(ctx, zaptest.NewLogger(t), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg)
	require.NoError(t, err)
	defer s.Close()

	// Liveness does not need auth.
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httpmiddleware.HeaderRequestID))

	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready until Run flips the gate")

	tok, err := auth.NewTokens([]byte(cfg.JWTSecret)).Issue(auth.Actor{EmployeeID: "c-1", Role: auth.RoleCashier}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(
		`{"items":[{"itemId":"latte","quantity":1}],"orderNumber":1,"payment":{"method":"Cash","tendered":5}}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":4.86`)
	assert.Contains(t, w.Body.String(), `"change":0.14`)

	// Card checkout without a configured terminal.
	req = httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(
		`{"items":[{"itemId":"latte","quantity":1}],"orderNumber":2,"payment":{"method":"Card"}}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}

func TestBuild_RequestLogCarriesRequestID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zap.InfoLevel)
	s, err := Build(ctx, zap.New(core), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), memoryConfig(t))
	require.NoError(t, err)
	defer s.Close()

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(httpmiddleware.HeaderRequestID, "till-3-0042")
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "till-3-0042", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "/livez", entries[0].ContextMap()["route"])
}

func TestBuild_UnknownJurisdiction(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Tax.Jurisdiction = "Atlantis"

	_, err := Build(context.Background(), zaptest.NewLogger(t), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")
}
