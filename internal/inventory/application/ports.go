package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storeit-dev/storeit/internal/inventory/domain"
)

// StockRepository is the storage port for inventory records and
// reservations. InTx runs fn inside one transaction; every mutation the
// service performs goes through the StockTx handed to fn and commits or
// rolls back as a unit.
type StockRepository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StockTx) error) error
	GetRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error)
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

// StockTx is the transaction-scoped surface. LockRecord takes the
// per-variant row lock and holds it until the transaction ends; callers
// locking several variants must do so in ascending variant id order.
type StockTx interface {
	LockRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error)
	InsertRecord(ctx context.Context, rec domain.InventoryRecord) error
	UpdateStock(ctx context.Context, variantID int64, totalStock, reservedQty int) error

	FindReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	InsertReservation(ctx context.Context, r domain.Reservation) error
	// ResolveReservation flips status from->to and stamps resolved_at in a
	// single conditional update; false means another writer got there first.
	ResolveReservation(ctx context.Context, id uuid.UUID, from, to domain.ReservationStatus, at time.Time) (bool, error)

	AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error
}
