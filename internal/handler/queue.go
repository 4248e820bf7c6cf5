package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kitchen-ledger/internal/domain/kitchen"
	"github.com/xenking/kitchen-ledger/internal/domain/menu"
)

// StationQueue streams a station's queue as Server-Sent Events. Every
// "queue" event carries the complete view; a failed subscription ends with
// one "error" event and the client is expected to reconnect.
func (h *Handler) StationQueue(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, badRequest("streaming unsupported", nil))
		return
	}

	filter := kitchen.Filter{
		Category:  menu.Category(chi.URLParam(r, "category")),
		StationID: r.URL.Query().Get("stationId"),
	}
	q, err := h.kitchen.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer q.Close()

	lg := zctx.From(r.Context()).With(zap.String("category", string(filter.Category)))
	lg.Debug("Queue stream opened")

	// The stream lives until the client leaves or the server shuts down.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var heartbeat <-chan time.Time
	if h.cfg.Heartbeat > 0 {
		t := time.NewTicker(h.cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			lg.Debug("Queue stream closed by client")
			return
		case <-heartbeat:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case v, ok := <-q.Updates():
			if !ok {
				return
			}
			if err := writeEvent(w, v); err != nil {
				return
			}
			flusher.Flush()
			if v.Err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, v kitchen.View) error {
	var e jx.Encoder
	name := "queue"
	if v.Err != nil {
		name = "error"
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(statusOf(v.Err)) })
			e.Field("message", func(e *jx.Encoder) { e.Str(v.Err.Error()) })
		})
	} else {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) { encodeOrders(e, v.Orders) })
		})
	}

	buf := make([]byte, 0, len(e.Bytes())+32)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, e.Bytes()...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
