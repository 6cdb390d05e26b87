package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/storeit-dev/storeit/internal/payment/application"
	"github.com/storeit-dev/storeit/internal/payment/domain"
)

// maxBodyBytes caps webhook bodies; provider events are small.
const maxBodyBytes = 1 << 20

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.webhook)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentWebhook")
	defer span.End()

	// The signature covers the exact bytes on the wire, so the body must
	// not be decoded before verification.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.HandleWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrOrderNotFound):
		// The checkout session may beat the order write; a 5xx makes the
		// provider redeliver later.
		h.log.Warn("webhook for unknown checkout session", "err", err)
		http.Error(w, "order not ready", http.StatusInternalServerError)
		return
	default:
		h.log.Error("webhook processing failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"received": true,
		"outcome":  string(outcome),
	})
}
