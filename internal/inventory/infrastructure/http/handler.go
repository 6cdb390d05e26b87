package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/storeit-dev/storeit/internal/inventory/application"
	"github.com/storeit-dev/storeit/internal/inventory/domain"
)

type Handler struct {
	log        *slog.Logger
	service    *application.Service
	defaultTTL time.Duration
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, defaultTTL time.Duration) *Handler {
	return &Handler{
		log:        log,
		service:    service,
		defaultTTL: defaultTTL,
		tracer:     otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/inventory/{variantID}", h.getStock)
	r.Post("/inventory/{variantID}/adjust", h.adjustStock)
	r.Post("/reservations", h.reserve)
	r.Get("/reservations/{id}", h.getReservation)
	r.Post("/reservations/{id}/release", h.release)
}

type stockResponse struct {
	VariantID   int64 `json:"variant_id"`
	TotalStock  int   `json:"total_stock"`
	ReservedQty int   `json:"reserved_qty"`
	Available   int   `json:"available"`
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetStock")
	defer span.End()

	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid variant id", http.StatusBadRequest)
		return
	}
	rec, err := h.service.GetRecord(ctx, variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		VariantID:   rec.VariantID,
		TotalStock:  rec.TotalStock,
		ReservedQty: rec.ReservedQty,
		Available:   rec.Available(),
	})
}

type adjustReq struct {
	Delta int `json:"delta"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustStock")
	defer span.End()

	variantID, err := strconv.ParseInt(chi.URLParam(r, "variantID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid variant id", http.StatusBadRequest)
		return
	}
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec, err := h.service.AdjustStock(ctx, variantID, req.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		VariantID:   rec.VariantID,
		TotalStock:  rec.TotalStock,
		ReservedQty: rec.ReservedQty,
		Available:   rec.Available(),
	})
}

type reserveReq struct {
	OwnerRef   string        `json:"owner_ref"`
	Items      []domain.Line `json:"items"`
	TTLSeconds int           `json:"ttl_seconds"`
}

type reservationResponse struct {
	ID        string    `json:"id"`
	VariantID int64     `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Reserve")
	defer span.End()

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.OwnerRef == "" {
		http.Error(w, "owner_ref is required", http.StatusBadRequest)
		return
	}
	ttl := h.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	reservations, err := h.service.Reserve(ctx, req.OwnerRef, req.Items, ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toReservationResponse(res))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetReservation")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid reservation id", http.StatusBadRequest)
		return
	}
	res, err := h.service.GetReservation(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Release")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid reservation id", http.StatusBadRequest)
		return
	}
	if err := h.service.Release(ctx, id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func toReservationResponse(res domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:        res.ID.String(),
		VariantID: res.VariantID,
		Quantity:  res.Quantity,
		Status:    string(res.Status),
		ExpiresAt: res.ExpiresAt,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient_stock",
			"variant_id": insufficient.VariantID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, "reservation not in required state", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidAdjustment):
		http.Error(w, "adjustment violates stock invariant", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.log.Error("inventory request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
