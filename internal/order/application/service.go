package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	invdomain "github.com/storeit-dev/storeit/internal/inventory/domain"
	"github.com/storeit-dev/storeit/internal/order/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
	"github.com/storeit-dev/storeit/pkg/tracing"
)

// ErrNotPending is returned when an operation requires a pending order.
var ErrNotPending = errors.New("order: not in pending status")

type CreateOrder struct {
	CustomerEmail  string
	CustomerName   string
	Items          []domain.OrderItem
	ReservationIDs []uuid.UUID
}

// Service is the order ledger. It owns order rows and the state machine;
// it never mutates inventory directly — reservations are checked at
// creation and handed back to the inventory service on cancellation.
type Service struct {
	log          *slog.Logger
	repo         OrderRepository
	reservations ReservationService
	now          func() time.Time
}

func NewService(log *slog.Logger, repo OrderRepository, reservations ReservationService) *Service {
	return &Service{log: log, repo: repo, reservations: reservations, now: time.Now}
}

// Create converts validated checkout input into a pending order backed
// by active reservations. Prices arrive snapshotted from the caller.
func (s *Service) Create(ctx context.Context, in CreateOrder) (domain.Order, error) {
	if in.CustomerEmail == "" {
		return domain.Order{}, errors.New("order: customer email is required")
	}
	if len(in.Items) == 0 {
		return domain.Order{}, errors.New("order: at least one item is required")
	}
	if len(in.ReservationIDs) == 0 {
		return domain.Order{}, errors.New("order: at least one reservation is required")
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("order: quantity must be positive for variant %d", item.VariantID)
		}
		if item.UnitPriceCents < 0 {
			return domain.Order{}, fmt.Errorf("order: negative price for variant %d", item.VariantID)
		}
	}

	covered, err := s.activeCover(ctx, in.ReservationIDs)
	if err != nil {
		return domain.Order{}, err
	}
	for _, item := range in.Items {
		if covered[item.VariantID] < item.Quantity {
			return domain.Order{}, fmt.Errorf("order: variant %d is not covered by an active reservation: %w",
				item.VariantID, invdomain.ErrInvalidState)
		}
	}

	o := domain.NewOrder(in.CustomerEmail, in.CustomerName, in.Items, in.ReservationIDs)
	payload, err := json.Marshal(domain.OrderCreated{
		OrderID:       o.ID.String(),
		CustomerEmail: o.CustomerEmail,
		TotalCents:    o.TotalCents,
		Reservations:  uuidStrings(o.ReservationIDs),
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.SaveWithOutbox(ctx, o, outbox.EventOrderCreated, payload, tracing.Traceparent(ctx)); err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", "order_id", o.ID, "total_cents", o.TotalCents, "items", len(o.Items))
	return o, nil
}

// activeCover sums the active, unexpired quantity each reservation set
// holds per variant.
func (s *Service) activeCover(ctx context.Context, ids []uuid.UUID) (map[int64]int, error) {
	now := s.now()
	covered := make(map[int64]int, len(ids))
	for _, id := range ids {
		res, err := s.reservations.GetReservation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("order: reservation %s: %w", id, err)
		}
		if res.Status != invdomain.ReservationActive || res.Expired(now) {
			return nil, fmt.Errorf("order: reservation %s is not active: %w", id, invdomain.ErrInvalidState)
		}
		covered[res.VariantID] += res.Quantity
	}
	return covered, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, customerEmail string) ([]domain.Order, error) {
	return s.repo.List(ctx, customerEmail)
}

// Transition advances the order along the state machine with a
// conditional write. Cancelling a pending order hands its still-active
// reservations back to inventory.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to domain.OrderStatus) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	from := o.Status
	if !domain.CanTransition(from, to) {
		return &domain.InvalidTransitionError{From: from, To: to}
	}

	payload, err := json.Marshal(domain.OrderTransitioned{OrderID: id.String(), From: string(from), To: string(to)})
	if err != nil {
		return err
	}
	ok, err := s.repo.UpdateStatusWithOutbox(ctx, id, from, to, transitionEventType(to), payload, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrentModification
	}

	if to == domain.StatusCancelled && from == domain.StatusPending {
		s.releaseReservations(ctx, o.ReservationIDs)
	}
	s.log.Info("order transitioned", "order_id", id, "from", from, "to", to)
	return nil
}

// AttachCheckoutSession stores the payment-provider session reference
// used later to correlate webhook deliveries, on a pending order only.
func (s *Service) AttachCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	if sessionID == "" {
		return errors.New("order: checkout session id is required")
	}
	ok, err := s.repo.SetCheckoutSession(ctx, id, sessionID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotPending
}

func (s *Service) releaseReservations(ctx context.Context, ids []uuid.UUID) {
	for _, rid := range ids {
		err := s.reservations.Release(ctx, rid)
		if err != nil && !errors.Is(err, invdomain.ErrInvalidState) && !errors.Is(err, invdomain.ErrNotFound) {
			s.log.Error("releasing reservation on cancel failed", "reservation_id", rid, "err", err)
		}
	}
}

func transitionEventType(to domain.OrderStatus) string {
	switch to {
	case domain.StatusPaid:
		return outbox.EventOrderPaid
	case domain.StatusCancelled:
		return outbox.EventOrderCancelled
	default:
		return outbox.EventOrderTransitioned
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
