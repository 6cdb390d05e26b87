package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is one row of the transactional outbox. Rows are appended in the
// same transaction as the state change they describe and relayed to kafka
// asynchronously.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Event types emitted by the reservation and fulfillment core.
const (
	EventReservationCreated  = "ReservationCreated"
	EventReservationReleased = "ReservationReleased"
	EventReservationExpired  = "ReservationExpired"
	EventOrderCreated        = "OrderCreated"
	EventOrderPaid           = "OrderPaid"
	EventOrderCancelled      = "OrderCancelled"
	EventOrderTransitioned   = "OrderTransitioned"
	// EventFulfillmentStale flags a paid-for order whose reservations had
	// already expired; downstream reconciliation picks these up.
	EventFulfillmentStale = "FulfillmentStale"
)
