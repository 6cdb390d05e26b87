package domain

// Outbox event payloads for order lifecycle changes.

type OrderCreated struct {
	OrderID       string   `json:"order_id"`
	CustomerEmail string   `json:"customer_email"`
	TotalCents    int64    `json:"total_cents"`
	Reservations  []string `json:"reservation_ids"`
}

type OrderTransitioned struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}
