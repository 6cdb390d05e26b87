package domain

import "errors"

// Event types delivered by the payment provider webhook.
const (
	EventCheckoutCompleted = "checkout.session.completed"
)

var (
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
	ErrOrderNotFound    = errors.New("payment: no order for checkout session")
)

// Event is the provider's webhook envelope. Only the fields the
// fulfillment flow needs are decoded; the raw payload is kept verbatim
// in the webhook ledger.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object EventObject `json:"object"`
}

// EventObject is the checkout session embedded in the event. The
// provider's session id is the key that links the event to an order.
type EventObject struct {
	SessionID string `json:"id"`
}

// Outcome describes what processing a webhook event actually did, for
// logging and for the HTTP response.
type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeStale     Outcome = "stale_reservations"
	OutcomeReplay    Outcome = "replay"
	OutcomeIgnored   Outcome = "ignored"
)
