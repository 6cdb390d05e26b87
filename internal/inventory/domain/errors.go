package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing inventory records and reservations.
	ErrNotFound = errors.New("inventory: not found")

	// ErrInvalidState is returned when a reservation transition is
	// attempted from a status that does not permit it. Consume treats
	// the already-consumed case as a no-op instead.
	ErrInvalidState = errors.New("inventory: reservation not in required state")

	// ErrInvalidAdjustment is returned when an admin stock adjustment
	// would push total stock below zero or below the reserved quantity.
	ErrInvalidAdjustment = errors.New("inventory: adjustment violates stock invariant")
)

// InsufficientStockError names the first variant that could not cover a
// reservation request. The whole request is rolled back.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}
