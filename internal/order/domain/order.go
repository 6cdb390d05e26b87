package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusPaid       OrderStatus = "paid"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

// Transitions is the order state machine. cancelled and refunded are
// terminal; every status update goes through a conditional write on the
// expected prior status, so a stale writer fails instead of clobbering.
var Transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range Transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID                uuid.UUID
	CustomerEmail     string
	CustomerName      string
	Status            OrderStatus
	TotalCents        int64
	CheckoutSessionID string
	Items             []OrderItem
	ReservationIDs    []uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem snapshots name and price at purchase time so later catalog
// edits never rewrite history.
type OrderItem struct {
	VariantID      int64
	SKU            string
	ProductName    string
	Quantity       int
	UnitPriceCents int64
	LineTotalCents int64
}

func NewOrder(customerEmail, customerName string, items []OrderItem, reservationIDs []uuid.UUID) Order {
	var total int64
	for i := range items {
		items[i].LineTotalCents = int64(items[i].Quantity) * items[i].UnitPriceCents
		total += items[i].LineTotalCents
	}
	now := time.Now().UTC()
	return Order{
		ID:             uuid.New(),
		CustomerEmail:  customerEmail,
		CustomerName:   customerName,
		Status:         StatusPending,
		TotalCents:     total,
		Items:          items,
		ReservationIDs: reservationIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
