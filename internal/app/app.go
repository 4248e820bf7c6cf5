// Package app wires the order ledger, payment terminal, kitchen queues and
// HTTP API into a running server.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/catalogfile"
	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/kitchen"
	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/payment"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
	"github.com/xenking/kitchen-ledger/internal/events"
	"github.com/xenking/kitchen-ledger/internal/handler"
	"github.com/xenking/kitchen-ledger/internal/square"
	"github.com/xenking/kitchen-ledger/internal/storage/memory"
	"github.com/xenking/kitchen-ledger/internal/storage/postgres"
	"github.com/xenking/kitchen-ledger/pkg/health"
	"github.com/xenking/kitchen-ledger/pkg/httpmiddleware"
)

const serviceName = "pos-server"

// Server is the assembled application.
type Server struct {
	Handler  http.Handler
	Health   *health.Health
	Terminal *payment.Orchestrator

	closers []func()
}

// Close releases everything Build opened, last opened first.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type storage struct {
	ledger  order.Ledger
	catalog *menu.Catalog
	table   *tax.Table
}

// Build creates all dependencies and the HTTP handler. Probes are registered
// but not started.
func Build(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *Server, rerr error) {
	s := &Server{Health: health.New()}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	st, err := s.openStorage(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	lg.Info("Catalog loaded",
		zap.String("ledger", cfg.Ledger),
		zap.Int("menu_items", st.catalog.Len()),
		zap.Int("tax_profiles", len(st.table.Profiles())),
	)
	session, err := tax.NewSession(st.table, cfg.Tax.Jurisdiction)
	if err != nil {
		return nil, errors.Wrap(err, "select tax profile")
	}

	// Card terminal.
	terminal := square.NewClient(
		square.WithBaseURL(cfg.Square.BaseURL),
		square.WithPollInterval(cfg.Square.PollInterval),
		square.WithLogger(lg.Named("square")),
		square.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		}),
	)
	orchestrator, err := payment.NewOrchestrator(terminal, payment.Credentials{
		AccessToken: cfg.Square.AccessToken,
		LocationID:  cfg.Square.LocationID,
		DeviceID:    cfg.Square.DeviceID,
	},
		payment.WithCurrency(cfg.Square.Currency),
		payment.WithMeterProvider(mp),
		payment.WithLogger(lg.Named("payment")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment orchestrator")
	}
	s.Terminal = orchestrator
	if cfg.Square.Required {
		s.Health.AddReadinessCheck("terminal", time.Second, health.TerminalCheck(orchestrator.Authorized))
	}

	// Order events.
	var publisher order.EventPublisher = order.NopPublisher{}
	if cfg.AMQP.URL != "" {
		p, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, lg.Named("events"))
		if err != nil {
			return nil, errors.Wrap(err, "connect order events")
		}
		s.closers = append(s.closers, func() { _ = p.Close() })
		publisher = p
	}

	// Domain services.
	orders := order.NewService(st.ledger, orchestrator,
		order.WithPublisher(publisher),
		order.WithTracerProvider(tp),
	)
	projector := kitchen.NewProjector(st.ledger, st.catalog, orders, lg.Named("kitchen"))
	tokens := auth.NewTokens([]byte(cfg.JWTSecret))

	h := handler.New(
		handler.Config{
			Heartbeat: cfg.Watch.Heartbeat,
			RateLimit: httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.EmployeeMax,
				Window: cfg.RateLimit.Window,
			},
			CheckoutTimeout: cfg.Square.CheckoutTimeout,
		},
		orders,
		projector,
		orchestrator,
		st.catalog,
		session,
		tokens,
	)

	s.Health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	r := chi.NewRouter()
	r.Get("/livez", s.Health.LiveEndpoint)
	r.Get("/readyz", s.Health.ReadyEndpoint)
	h.Mount(r)

	// The logger and request id come first so every later log line,
	// including recovered panics, carries the request id.
	s.Handler = httpmiddleware.Wrap(r,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
	)
	return s, nil
}

func (s *Server) openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	switch cfg.Ledger {
	case LedgerMemory:
		c, err := catalogfile.Load(ctx, cfg.Catalog.MenuFile, cfg.Catalog.TaxFile)
		if err != nil {
			return nil, errors.Wrap(err, "load catalog files")
		}
		return &storage{
			ledger:  memory.NewLedger(),
			catalog: menu.NewCatalog(c.Items),
			table:   tax.NewTable(c.Profiles),
		}, nil

	case LedgerPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		s.closers = append(s.closers, pool.Close)

		if err := postgres.Migrate(pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		s.Health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		catalog, err := menu.LoadCatalog(ctx, postgres.NewMenuRepository(pool))
		if err != nil {
			return nil, errors.Wrap(err, "load menu")
		}
		table, err := tax.LoadTable(ctx, postgres.NewTaxRateRepository(pool))
		if err != nil {
			return nil, errors.Wrap(err, "load tax rates")
		}
		ledger := postgres.NewLedger(pool, postgres.NewPoolListener(pool),
			postgres.WithCoalesce(cfg.Watch.Coalesce),
			postgres.WithLogger(lg.Named("ledger")),
		)
		return &storage{ledger: ledger, catalog: catalog, table: table}, nil

	default:
		return nil, errors.Errorf("unknown ledger %q", cfg.Ledger)
	}
}

// Run builds the application, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("ledger", cfg.Ledger))

	s, err := Build(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Square.AccessToken != "" {
		go func() {
			actx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := s.Terminal.Authorize(actx); err != nil {
				lg.Warn("Payment terminal not authorized at startup", zap.Error(err))
			}
		}()
	}

	s.Health.Start(ctx, 10*time.Second)
	s.Health.SetReady(true)

	// Queue streams outlive WriteTimeout by clearing their deadline, so
	// shutdown cancels them through the base context.
	streams, cancelStreams := context.WithCancel(zctx.Base(context.Background(), lg))
	defer cancelStreams()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.Handler,
		BaseContext:       func(net.Listener) context.Context { return streams },
	}
	server.RegisterOnShutdown(cancelStreams)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		s.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
