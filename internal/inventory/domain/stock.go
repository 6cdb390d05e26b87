package domain

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord is the authoritative stock row for one sellable
// variant. Mutations happen only under a row lock inside a transaction;
// the invariant 0 <= ReservedQty <= TotalStock holds at every commit.
type InventoryRecord struct {
	VariantID   int64
	TotalStock  int
	ReservedQty int
	UpdatedAt   time.Time
}

// Available is the stock a new reservation may claim.
func (r InventoryRecord) Available() int {
	return r.TotalStock - r.ReservedQty
}

// Valid reports whether the record satisfies the stock invariant.
func (r InventoryRecord) Valid() bool {
	return r.ReservedQty >= 0 && r.ReservedQty <= r.TotalStock
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationExpired  ReservationStatus = "expired"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is a time-bounded soft hold against one variant's stock.
// Once non-active only Status and ResolvedAt ever change.
type Reservation struct {
	ID         uuid.UUID
	VariantID  int64
	OwnerRef   string
	Quantity   int
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// Expired reports whether the hold's TTL has elapsed at the given time.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Line is one requested variant/quantity pair in a reservation request.
type Line struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

func NewReservation(variantID int64, quantity int, ownerRef string, ttl time.Duration, now time.Time) Reservation {
	return Reservation{
		ID:        uuid.New(),
		VariantID: variantID,
		OwnerRef:  ownerRef,
		Quantity:  quantity,
		Status:    ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
