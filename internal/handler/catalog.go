package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kitchen-ledger/internal/domain/order"
	"github.com/xenking/kitchen-ledger/internal/domain/tax"
)

// ListMenu returns the catalog ordered by category and name.
func (h *Handler) ListMenu(w http.ResponseWriter, _ *http.Request) {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range h.catalog.List() {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
			e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
			e.Field("price", func(e *jx.Encoder) { order.EncodeMoney(e, it.Price) })
			e.Field("category", func(e *jx.Encoder) { e.Str(string(it.Category)) })
		})
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetTaxProfile returns the session's selected tax profile.
func (h *Handler) GetTaxProfile(w http.ResponseWriter, _ *http.Request) {
	writeProfile(w, h.tax.Profile())
}

// SelectTaxProfile switches the session to {"jurisdiction": ...}.
// Managers only.
func (h *Handler) SelectTaxProfile(w http.ResponseWriter, r *http.Request) {
	var jurisdiction string
	err := decodeBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "jurisdiction" {
				return d.Skip()
			}
			var err error
			jurisdiction, err = d.Str()
			return err
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.tax.Select(actor(r), jurisdiction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProfile(w, p)
}

func writeProfile(w http.ResponseWriter, p tax.Profile) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("jurisdiction", func(e *jx.Encoder) { e.Str(p.Jurisdiction) })
		e.Field("rate", func(e *jx.Encoder) { e.Num(jx.Num(p.Rate.String())) })
	})
	writeJSON(w, http.StatusOK, &e)
}

// AuthorizeTerminal establishes the card terminal session.
func (h *Handler) AuthorizeTerminal(w http.ResponseWriter, r *http.Request) {
	if err := h.terminal.Authorize(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeTerminal(w, h.terminal.Authorized())
}

// DeauthorizeTerminal drops the card terminal session.
func (h *Handler) DeauthorizeTerminal(w http.ResponseWriter, _ *http.Request) {
	h.terminal.Deauthorize()
	writeTerminal(w, h.terminal.Authorized())
}

func writeTerminal(w http.ResponseWriter, authorized bool) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("authorized", func(e *jx.Encoder) { e.Bool(authorized) })
	})
	writeJSON(w, http.StatusOK, &e)
}
