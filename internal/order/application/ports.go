package application

import (
	"context"

	"github.com/google/uuid"

	invdomain "github.com/storeit-dev/storeit/internal/inventory/domain"
	"github.com/storeit-dev/storeit/internal/order/domain"
)

type OrderRepository interface {
	// SaveWithOutbox inserts the order, its items and its reservation
	// links together with the lifecycle event, in one transaction.
	SaveWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, traceparent string) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	List(ctx context.Context, customerEmail string) ([]domain.Order, error)
	// UpdateStatusWithOutbox performs the conditional status write and
	// appends the event only when a row actually changed. false means
	// the expected prior status no longer matched.
	UpdateStatusWithOutbox(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, eventType string, payload []byte, traceparent string) (bool, error)
	// SetCheckoutSession stores the payment-provider session id on a
	// still-pending order.
	SetCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error)
}

// ReservationService is the slice of the inventory service the order
// ledger needs: existence checks at creation and releases on cancel.
type ReservationService interface {
	GetReservation(ctx context.Context, id uuid.UUID) (invdomain.Reservation, error)
	Release(ctx context.Context, id uuid.UUID) error
}
