package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/storeit-dev/storeit/internal/inventory/domain"
	"github.com/storeit-dev/storeit/internal/order/application"
	"github.com/storeit-dev/storeit/internal/order/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/transition", h.transition)
	r.Post("/orders/{id}/checkout-session", h.attachCheckoutSession)
}

type orderItemReq struct {
	VariantID      int64  `json:"variant_id"`
	SKU            string `json:"sku"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type createOrderReq struct {
	CustomerEmail  string         `json:"customer_email"`
	CustomerName   string         `json:"customer_name"`
	Items          []orderItemReq `json:"items"`
	ReservationIDs []string       `json:"reservation_ids"`
}

type orderResponse struct {
	ID                string         `json:"id"`
	CustomerEmail     string         `json:"customer_email"`
	CustomerName      string         `json:"customer_name"`
	Status            string         `json:"status"`
	TotalCents        int64          `json:"total_cents"`
	CheckoutSessionID string         `json:"checkout_session_id,omitempty"`
	Items             []orderItemRes `json:"items"`
	ReservationIDs    []string       `json:"reservation_ids"`
	CreatedAt         time.Time      `json:"created_at"`
}

type orderItemRes struct {
	VariantID      int64  `json:"variant_id"`
	SKU            string `json:"sku"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	reservationIDs := make([]uuid.UUID, 0, len(req.ReservationIDs))
	for _, raw := range req.ReservationIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid reservation id", http.StatusBadRequest)
			return
		}
		reservationIDs = append(reservationIDs, id)
	}
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			VariantID:      item.VariantID,
			SKU:            item.SKU,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	o, err := h.service.Create(ctx, application.CreateOrder{
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		Items:          items,
		ReservationIDs: reservationIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	o, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.service.List(ctx, r.URL.Query().Get("email"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

type transitionReq struct {
	Status string `json:"status"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TransitionOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.Transition(ctx, id, domain.OrderStatus(req.Status)); err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type checkoutSessionReq struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) attachCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AttachCheckoutSession")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req checkoutSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.service.AttachCheckoutSession(ctx, id, req.SessionID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemRes, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemRes(item))
	}
	ids := make([]string, 0, len(o.ReservationIDs))
	for _, rid := range o.ReservationIDs {
		ids = append(ids, rid.String())
	}
	return orderResponse{
		ID:                o.ID.String(),
		CustomerEmail:     o.CustomerEmail,
		CustomerName:      o.CustomerName,
		Status:            string(o.Status),
		TotalCents:        o.TotalCents,
		CheckoutSessionID: o.CheckoutSessionID,
		Items:             items,
		ReservationIDs:    ids,
		CreatedAt:         o.CreatedAt,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "invalid_transition",
			"from":  string(invalid.From),
			"to":    string(invalid.To),
		})
	case errors.Is(err, domain.ErrConcurrentModification):
		http.Error(w, "order was modified concurrently, re-fetch and retry", http.StatusConflict)
	case errors.Is(err, application.ErrNotPending):
		http.Error(w, "order is not pending", http.StatusConflict)
	case errors.Is(err, invdomain.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, invdomain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.log.Error("order request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
