package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	invapp "github.com/storeit-dev/storeit/internal/inventory/application"
	orderdomain "github.com/storeit-dev/storeit/internal/order/domain"
)

// UnitOfWork runs webhook fulfillment exactly once per provider event.
// RunOnce opens a transaction, records the provider event id in the
// webhook ledger, and only calls fn if this delivery is the first to
// claim that id. applied is false when a previous delivery already
// committed the event; fn's effects and the ledger row commit together.
type UnitOfWork interface {
	RunOnce(ctx context.Context, providerEventID, eventType string, payload []byte, fn func(ctx context.Context, tx Tx) error) (applied bool, err error)
}

// Tx exposes the inventory and order write surfaces bound to the one
// transaction RunOnce opened, so consuming reservations, flipping the
// order status and appending outbox events commit or roll back as a unit.
type Tx interface {
	Stock() invapp.StockTx
	Orders() OrderTx
}

type OrderTx interface {
	// LockOrderByCheckoutSession locks the order row tied to the provider
	// session for the rest of the transaction.
	LockOrderByCheckoutSession(ctx context.Context, sessionID string) (orderdomain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to orderdomain.OrderStatus, at time.Time) (bool, error)
	AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error
}

// ReplayCache is the redis fast path for duplicate deliveries. It is
// advisory: correctness rests on the webhook ledger, not on the cache.
type ReplayCache interface {
	Key(provider, eventID string) string
	Seen(ctx context.Context, key string) bool
	Mark(ctx context.Context, key string) error
}
