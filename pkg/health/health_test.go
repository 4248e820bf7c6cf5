package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, endpoint http.HandlerFunc) (int, response) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// --- Tests ---

func TestLiveEndpoint_Passing(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing())

	code, body := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestLiveEndpoint_FailsAfterThreshold(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))
	p := h.probes[0]
	ctx := context.Background()

	p.run(ctx)
	p.run(ctx)
	code, _ := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "two failures stay under the threshold")

	p.run(ctx)
	code, body := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestReadyEndpoint_Gate(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing())

	code, body := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestReadyEndpoint_IgnoresLiveness(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "goroutines", Kind: Liveness, Func: failing("too many"), FailureThreshold: 1})
	h.probes[0].run(context.Background())

	code, _ := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestProbe_Recovers(t *testing.T) {
	var (
		mu  sync.Mutex
		err = errors.New("down")
	)
	h := New()
	h.Add(Check{
		Name:             "terminal",
		Kind:             Readiness,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return err
		},
	})
	h.SetReady(true)
	p := h.probes[0]
	ctx := context.Background()

	p.run(ctx)
	assert.False(t, h.IsReady())

	mu.Lock()
	err = nil
	mu.Unlock()
	p.run(ctx)
	assert.False(t, h.IsReady(), "one pass is below the success threshold")
	p.run(ctx)
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	h := New()
	ran := make(chan struct{}, 1)
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	h.Start(context.Background(), time.Hour)
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("check did not run on start")
	}
	h.Stop()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	require.Error(t, GoroutineCountCheck(0)(ctx))

	require.NoError(t, PingCheck(pinger{})(ctx))
	require.ErrorContains(t, PingCheck(pinger{err: errors.New("refused")})(ctx), "refused")

	authorized := false
	check := TerminalCheck(func() bool { return authorized })
	require.Error(t, check(ctx))
	authorized = true
	require.NoError(t, check(ctx))
}
