package domain

import "time"

// Outbox event payloads for reservation lifecycle changes.

type ReservationCreated struct {
	ReservationID string    `json:"reservation_id"`
	VariantID     int64     `json:"variant_id"`
	Quantity      int       `json:"quantity"`
	OwnerRef      string    `json:"owner_ref"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReservationClosed reports a hold leaving the active state without a
// sale: Status is either "released" or "expired".
type ReservationClosed struct {
	ReservationID string `json:"reservation_id"`
	VariantID     int64  `json:"variant_id"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`
}
