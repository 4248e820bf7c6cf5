// Package handler exposes the register, kitchen and manager operations over
// HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kitchen-ledger/internal/domain/auth"
	"github.com/xenking/kitchen-ledger/internal/domain/cart"
	"github.com/xenking/kitchen-ledger/internal/domain/kitchen"
	"github.com/xenking/kitchen-ledger/internal/domain/menu"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
	"github.com/xenking/kitchen-ledger/pkg/httpmiddleware"
)

// Orders runs checkout, refunds and lookups.
type Orders interface {
	Checkout(ctx context.Context, draft order.Order, tender order.Tender) (*order.CheckoutResult, error)
	Refund(ctx context.Context, id string, actor auth.Actor) (order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	Search(ctx context.Context, number int, cashierID string, sort order.SortOrder) ([]order.Order, error)
}

// Kitchen opens station queues and moves orders through preparation.
type Kitchen interface {
	kitchen.StatusUpdater
	Subscribe(ctx context.Context, f kitchen.Filter) (*kitchen.Queue, error)
}

// Terminal manages the card terminal session.
type Terminal interface {
	Authorize(ctx context.Context) error
	Authorized() bool
	Deauthorize()
}

// Catalog is the menu served to registers.
type Catalog interface {
	menu.Resolver
	List() []menu.Item
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Heartbeat is the interval of SSE comment frames keeping idle queue
	// streams open through proxies. Zero disables them.
	Heartbeat time.Duration
	// RateLimit applies per authenticated employee. Zero Max disables it.
	RateLimit httpmiddleware.RateLimitConfig
	// CartOptions are passed to every checkout cart.
	CartOptions []cart.Option
	// CheckoutTimeout replaces the server write deadline on checkout, which
	// waits for the customer at the card terminal. Zero clears the deadline.
	CheckoutTimeout time.Duration
}

// Handler serves the /api routes.
type Handler struct {
	orders   Orders
	kitchen  Kitchen
	terminal Terminal
	catalog  Catalog
	tax      *tax.Session
	tokens   Verifier
	cfg      Config
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	orders Orders,
	kitchen Kitchen,
	terminal Terminal,
	catalog Catalog,
	taxSession *tax.Session,
	tokens Verifier,
) *Handler {
	return &Handler{
		orders:   orders,
		kitchen:  kitchen,
		terminal: terminal,
		catalog:  catalog,
		tax:      taxSession,
		tokens:   tokens,
		cfg:      cfg,
	}
}

// Mount registers the /api routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(h.tokens))
		if h.cfg.RateLimit.Max > 0 {
			rl := h.cfg.RateLimit
			if rl.KeyFunc == nil {
				rl.KeyFunc = actorKey
			}
			r.Use(httpmiddleware.RateLimit(rl))
		}

		r.Get("/menu", h.ListMenu)
		r.Get("/tax-profile", h.GetTaxProfile)
		r.Put("/tax-profile", h.SelectTaxProfile)

		r.Post("/payments/authorize", h.AuthorizeTerminal)
		r.Delete("/payments/authorize", h.DeauthorizeTerminal)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Checkout)
			r.Get("/", h.SearchOrders)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}/status", h.UpdateStatus)
			r.Post("/{id}/refund", h.Refund)
		})

		r.Get("/stations/{category}/queue", h.StationQueue)
	})
}

// actorKey buckets rate limits by employee, falling back to the client IP.
func actorKey(r *http.Request) string {
	if a, ok := auth.ActorFrom(r.Context()); ok {
		return "employee:" + a.EmployeeID
	}
	return httpmiddleware.ClientIP(r)
}
