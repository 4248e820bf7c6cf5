// Package square implements payment.Terminal on the Square REST API using
// Terminal checkouts on a paired device.
package square

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/payment"
)

const (
	// DefaultBaseURL is the production Square API.
	DefaultBaseURL = "https://connect.squareup.com"
	// APIVersion is sent as the Square-Version header.
	APIVersion = "2025-01-23"

	defaultPollInterval = time.Second
	cancelTimeout       = 5 * time.Second
	// maxPollFailures consecutive failed polls give up on the checkout.
	maxPollFailures = 3
)

// Checkout statuses reported by the Terminal API.
const (
	statusPending         = "PENDING"
	statusInProgress      = "IN_PROGRESS"
	statusCancelRequested = "CANCEL_REQUESTED"
	statusCanceled        = "CANCELED"
	statusCompleted       = "COMPLETED"
)

// ErrNotAuthorized is returned by Charge and Refund before Authorize
// succeeds.
var ErrNotAuthorized = errors.New("square client not authorized")

var _ payment.Terminal = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPollInterval sets how often a pending checkout is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) { c.lg = lg }
}

// Client talks to Square. It keeps the credentials of the last successful
// Authorize.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	lg           *zap.Logger

	mu    sync.RWMutex
	creds payment.Credentials
	ok    bool
}

// NewClient creates a Client with an otelhttp-instrumented transport.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		http:         &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		pollInterval: defaultPollInterval,
		lg:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize verifies the access token against the configured location.
func (c *Client) Authorize(ctx context.Context, creds payment.Credentials) error {
	path := "/v2/locations/" + url.PathEscape(creds.LocationID)
	if _, err := c.do(ctx, creds.AccessToken, http.MethodGet, path, nil); err != nil {
		return errors.Wrap(err, "retrieve location")
	}

	c.mu.Lock()
	c.creds = creds
	c.ok = true
	c.mu.Unlock()

	c.lg.Info("Square terminal authorized",
		zap.String("location_id", creds.LocationID),
		zap.String("device_id", creds.DeviceID),
	)
	return nil
}

func (c *Client) credentials() (payment.Credentials, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ok {
		return payment.Credentials{}, ErrNotAuthorized
	}
	return c.creds, nil
}

// Charge creates a Terminal checkout on the paired device and polls it to
// completion. Cancelling ctx cancels the checkout on the device. A failed
// poll is retried on the next tick; after maxPollFailures in a row the
// checkout is cancelled on the device, so it can never be paid behind a
// reported failure.
func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) (string, error) {
	creds, err := c.credentials()
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, creds.AccessToken, http.MethodPost, "/v2/terminals/checkouts",
		encodeCreateCheckout(req, creds.DeviceID))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", payment.ErrCancelled, err)
		}
		return "", fmt.Errorf("%w: %w", payment.ErrDeclined, err)
	}
	co, err := decodeCheckoutResponse(body)
	if err != nil {
		return "", err
	}

	lg := c.lg.With(zap.String("checkout_id", co.ID), zap.String("idempotency_key", req.IdempotencyKey))
	lg.Debug("Checkout created", zap.Int64("amount", req.AmountMinor))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	failures := 0
	for {
		switch co.Status {
		case statusCompleted:
			if len(co.PaymentIDs) == 0 {
				return "", errors.Errorf("checkout %s completed without a payment", co.ID)
			}
			return co.PaymentIDs[0], nil
		case statusCanceled:
			lg.Info("Checkout canceled", zap.String("reason", co.CancelReason))
			return "", errors.Wrapf(payment.ErrCancelled, "checkout %s: %s", co.ID, co.CancelReason)
		}

		select {
		case <-ctx.Done():
			c.cancelCheckout(creds, co.ID, lg)
			return "", errors.Wrapf(payment.ErrCancelled, "checkout %s", co.ID)
		case <-ticker.C:
		}

		body, err := c.do(ctx, creds.AccessToken, http.MethodGet, "/v2/terminals/checkouts/"+url.PathEscape(co.ID), nil)
		if err == nil {
			var next checkout
			if next, err = decodeCheckoutResponse(body); err == nil {
				co, failures = next, 0
				continue
			}
		}
		if ctx.Err() != nil {
			c.cancelCheckout(creds, co.ID, lg)
			return "", errors.Wrapf(payment.ErrCancelled, "checkout %s", co.ID)
		}
		failures++
		lg.Warn("Poll checkout failed", zap.Int("failures", failures), zap.Error(err))
		if failures >= maxPollFailures {
			c.cancelCheckout(creds, co.ID, lg)
			return "", fmt.Errorf("%w: checkout %s abandoned after %d failed polls: %w",
				payment.ErrCancelled, co.ID, failures, err)
		}
	}
}

// cancelCheckout runs detached from the caller's context, which is already
// done.
func (c *Client) cancelCheckout(creds payment.Credentials, id string, lg *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	path := "/v2/terminals/checkouts/" + url.PathEscape(id) + "/cancel"
	if _, err := c.do(ctx, creds.AccessToken, http.MethodPost, path, nil); err != nil {
		lg.Warn("Cancel checkout failed", zap.Error(err))
	}
}

// Refund returns money for a completed payment. Only HTTP 200 counts as
// success.
func (c *Client) Refund(ctx context.Context, req payment.RefundRequest) error {
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, creds.AccessToken, http.MethodPost, "/v2/refunds", encodeRefund(req)); err != nil {
		return errors.Wrapf(err, "refund payment %s", req.PaymentID)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Square-Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}
