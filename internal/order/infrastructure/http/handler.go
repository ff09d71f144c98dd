package http

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
	orchestrator "github.com/dmehra2102/order-placement/internal/orchestrator/application"
	orchestratordomain "github.com/dmehra2102/order-placement/internal/orchestrator/domain"
	"github.com/dmehra2102/order-placement/internal/order/domain"
)

const ActorHeader = "X-Actor"

type Placer interface {
	PlaceOrder(ctx context.Context, customerID string, lines []orchestrator.LineRequest) (domain.OrderID, error)
	GetOrder(ctx context.Context, id domain.OrderID) (domain.View, error)
	CurrentAvailable(ctx context.Context, sku string) (int, error)
	StreamAuditEvents(ctx context.Context, since int64) iter.Seq2[auditdomain.Event, error]
}

type Handler struct {
	log     *slog.Logger
	placer  Placer
	tracer  trace.Tracer
	idem    func(http.Handler) http.Handler
	maxPage int
}

func NewHandler(log *slog.Logger, placer Placer) *Handler {
	return &Handler{
		log:     log,
		placer:  placer,
		tracer:  otel.Tracer("order-http"),
		idem:    func(next http.Handler) http.Handler { return next },
		maxPage: 10_000,
	}
}

// WithIdempotency wraps POST /orders, typically with idempotency.Middleware.
func (h *Handler) WithIdempotency(mw func(http.Handler) http.Handler) *Handler {
	h.idem = mw
	return h
}

type placeOrderReq struct {
	CustomerID string                     `json:"customer_id"`
	Lines      []orchestrator.LineRequest `json:"lines"`
}

type placeOrderResp struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.With(h.idem).Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/inventory/{sku}", h.currentAvailable)
	r.Get("/audit", h.streamAudit)

	return r
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PlaceOrder")
	defer span.End()

	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ctx = auditapp.WithActor(ctx, r.Header.Get(ActorHeader))
	id, err := h.placer.PlaceOrder(ctx, req.CustomerID, req.Lines)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, placeOrderResp{OrderID: id.String(), Status: domain.StatusConfirmed})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.placer.GetOrder(r.Context(), domain.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) currentAvailable(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	n, err := h.placer.CurrentAvailable(r.Context(), sku)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sku": sku, "available": n})
}

// streamAudit writes one JSON event per line. Clients resume by passing the
// last seq they saw as since.
func (h *Handler) streamAudit(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0)
	if err != nil || since < 0 {
		http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", int64(h.maxPage))
	if err != nil || limit <= 0 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	var written int64
	for ev, err := range h.placer.StreamAuditEvents(r.Context(), since) {
		if err != nil {
			// Headers are gone by now; the short stream tells the client to resume.
			h.log.Error("audit stream failed", "since", since, "written", written, "err", err)
			return
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		written++
		if flusher != nil && written%100 == 0 {
			flusher.Flush()
		}
		if written >= limit {
			break
		}
	}
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "status", status, "err", err)
	}
	body := map[string]any{"error": err.Error()}
	var stockErr *inventorydomain.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["skus"] = stockErr.SKUs()
	}
	writeJSON(w, status, body)
}

// StatusFor maps placement and lookup errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, orchestratordomain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, inventorydomain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, inventorydomain.ErrConcurrencyTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestratordomain.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
