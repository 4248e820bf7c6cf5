package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kitchen-ledger/internal/domain/cart"
	"github.com/xenking/kitchen-ledger/internal/domain/order"
)

const (
	maxBodyBytes = 64 << 10
	maxQuantity  = 99
)

type checkoutRequest struct {
	Items       []order.LineItem
	CashierID   string
	OrderNumber int
	StationID   string
	Priority    order.Priority
	Method      order.PaymentMethod
	Tendered    decimal.Decimal
}

func (c *checkoutRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				li, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				c.Items = append(c.Items, li)
				return nil
			})
		case "cashierId":
			c.CashierID, err = d.Str()
		case "orderNumber":
			c.OrderNumber, err = d.Int()
		case "stationId":
			c.StationID, err = d.Str()
		case "priority":
			var s string
			s, err = d.Str()
			c.Priority = order.Priority(s)
		case "payment":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "method":
					s, err := d.Str()
					c.Method = order.PaymentMethod(s)
					return err
				case "tendered":
					v, err := order.DecodeMoney(d)
					c.Tendered = v
					return err
				default:
					return d.Skip()
				}
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// Checkout builds a cart from the request, prices it with the session's
// tax profile and hands the draft to the order service.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeBody(r, req.Decode); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CashierID == "" {
		req.CashierID = actor(r).EmployeeID
	}
	if req.Priority != order.PriorityNormal && req.Priority != order.PriorityRush {
		writeError(w, r, &order.ValidationError{Field: "priority", Reason: "must be empty or Rush"})
		return
	}

	c := cart.New(h.catalog, h.tax.Profile(), h.cfg.CartOptions...)
	for _, li := range req.Items {
		if li.Quantity < 1 || li.Quantity > maxQuantity {
			writeError(w, r, &order.ValidationError{
				Field:  "quantity",
				Reason: "must be between 1 and " + strconv.Itoa(maxQuantity),
			})
			return
		}
		for range li.Quantity {
			if err := c.AddItemByID(li.ItemID); err != nil {
				writeError(w, r, err)
				return
			}
		}
	}
	draft, err := c.ToOrder(req.CashierID, req.OrderNumber,
		cart.WithStation(req.StationID),
		cart.WithPriority(req.Priority),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The response must outlive the server write timeout: once the card is
	// charged the cashier has to see the result.
	var deadline time.Time
	if h.cfg.CheckoutTimeout > 0 {
		deadline = time.Now().Add(h.cfg.CheckoutTimeout)
	}
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, r, errors.Wrap(err, "extend write deadline"))
		return
	}

	res, err := h.orders.Checkout(r.Context(), draft, order.Tender{Method: req.Method, Tendered: req.Tendered})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", res.Order.Encode)
		e.Field("change", func(e *jx.Encoder) { order.EncodeMoney(e, res.Change) })
	})
	writeJSON(w, http.StatusCreated, &e)
}

// GetOrder returns one order document.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	o.Encode(&e)
	writeJSON(w, http.StatusOK, &e)
}

// SearchOrders finds orders by receipt number and cashier. sort=-timestamp
// lists the newest first.
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	number, err := strconv.Atoi(q.Get("orderNumber"))
	if err != nil {
		writeError(w, r, badRequest("orderNumber must be an integer", nil))
		return
	}
	cashierID := q.Get("cashierId")
	if cashierID == "" {
		writeError(w, r, badRequest("cashierId is required", nil))
		return
	}
	sort, err := order.ParseSortOrder(q.Get("sort"))
	if err != nil {
		writeError(w, r, badRequest(err.Error(), err))
		return
	}

	orders, err := h.orders.Search(r.Context(), number, cashierID, sort)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrders(&e, orders)
	writeJSON(w, http.StatusOK, &e)
}

// UpdateStatus applies {"status": ...} through the kitchen workflow.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var to order.Status
	err := decodeBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "status" {
				return d.Skip()
			}
			s, err := d.Str()
			to = order.Status(s)
			return err
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !to.Valid() {
		writeError(w, r, &order.ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(string(to))})
		return
	}

	o, err := h.kitchen.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to, actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	o.Encode(&e)
	writeJSON(w, http.StatusOK, &e)
}

// Refund returns a completed order's payment. Managers only.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Refund(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	o.Encode(&e)
	writeJSON(w, http.StatusOK, &e)
}

func decodeLineItem(d *jx.Decoder) (order.LineItem, error) {
	var li order.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "itemId":
			li.ItemID, err = d.Str()
		case "quantity":
			li.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return li, err
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for _, o := range orders {
		o.Encode(e)
	}
	e.ArrEnd()
}

// decodeBody reads at most maxBodyBytes of the request body into decode.
func decodeBody(r *http.Request, decode func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return badRequest("read body", err)
	}
	if len(body) > maxBodyBytes {
		return badRequest("body too large", nil)
	}
	if err := decode(jx.DecodeBytes(body)); err != nil {
		return badRequest("malformed JSON body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
