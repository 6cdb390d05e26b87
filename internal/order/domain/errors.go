package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order: not found")

	// ErrConcurrentModification means a conditional status update
	// matched zero rows: another writer transitioned the order first.
	// Callers re-fetch and decide whether their transition still applies.
	ErrConcurrentModification = errors.New("order: lost status update race")
)

// InvalidTransitionError reports an edge the state machine does not have.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: cannot transition from %s to %s", e.From, e.To)
}
