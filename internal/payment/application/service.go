package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	invapp "github.com/storeit-dev/storeit/internal/inventory/application"
	invdomain "github.com/storeit-dev/storeit/internal/inventory/domain"
	orderdomain "github.com/storeit-dev/storeit/internal/order/domain"
	"github.com/storeit-dev/storeit/internal/payment/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
	"github.com/storeit-dev/storeit/pkg/signature"
	"github.com/storeit-dev/storeit/pkg/tracing"
)

const providerName = "stripe"

type Service struct {
	log       *slog.Logger
	uow       UnitOfWork
	cache     ReplayCache
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewService(log *slog.Logger, uow UnitOfWork, cache ReplayCache, secret string, tolerance time.Duration) *Service {
	return &Service{
		log:       log,
		uow:       uow,
		cache:     cache,
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// HandleWebhook verifies and processes one provider delivery. The raw
// body must be passed exactly as received; the signature covers its
// bytes. Replays of an already-committed event report OutcomeReplay and
// succeed, so the provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (domain.Outcome, error) {
	if err := signature.Verify(s.secret, payload, sigHeader, s.tolerance); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	}

	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("%w: malformed event body: %w", domain.ErrInvalidSignature, err)
	}
	if event.ID == "" {
		return "", fmt.Errorf("%w: event id missing", domain.ErrInvalidSignature)
	}

	cacheKey := s.cache.Key(providerName, event.ID)
	if s.cache.Seen(ctx, cacheKey) {
		s.log.Info("webhook replay short-circuited", "event_id", event.ID)
		return domain.OutcomeReplay, nil
	}

	outcome := domain.OutcomeIgnored
	applied, err := s.uow.RunOnce(ctx, event.ID, event.Type, payload, func(ctx context.Context, tx Tx) error {
		if event.Type != domain.EventCheckoutCompleted {
			// Unknown event types are recorded in the ledger and acked so the
			// provider does not retry them forever.
			return nil
		}
		out, err := s.fulfill(ctx, tx, event)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		return "", err
	}
	if !applied {
		s.log.Info("webhook already processed", "event_id", event.ID)
		outcome = domain.OutcomeReplay
	}

	if err := s.cache.Mark(ctx, cacheKey); err != nil {
		s.log.Warn("replay cache write failed", "event_id", event.ID, "err", err)
	}
	return outcome, nil
}

// fulfill settles the order behind a completed checkout session. If
// every reservation on the order is still active the sale is finalized:
// each reservation is consumed and the order moves pending->paid. If any
// reservation has lapsed, nothing is consumed; the order is cancelled and
// the remaining active reservations are released.
func (s *Service) fulfill(ctx context.Context, tx Tx, event domain.Event) (domain.Outcome, error) {
	now := s.now()

	order, err := tx.Orders().LockOrderByCheckoutSession(ctx, event.Data.Object.SessionID)
	if err != nil {
		return "", err
	}
	if order.Status != orderdomain.StatusPending {
		// The order already settled through another path; keep the ledger
		// row and do nothing.
		s.log.Info("webhook for settled order", "order_id", order.ID, "status", order.Status)
		return domain.OutcomeReplay, nil
	}

	stock := tx.Stock()
	active := make([]invdomain.Reservation, 0, len(order.ReservationIDs))
	stale := false
	for _, id := range order.ReservationIDs {
		r, err := stock.FindReservation(ctx, id)
		if err != nil {
			return "", fmt.Errorf("reservation %s: %w", id, err)
		}
		if r.Status == invdomain.ReservationActive {
			active = append(active, r)
		} else {
			stale = true
		}
	}
	// Record locks are taken per reservation below; ascending variant order
	// keeps this path deadlock-free against concurrent reserves.
	sort.Slice(active, func(i, j int) bool { return active[i].VariantID < active[j].VariantID })

	if stale {
		for _, r := range active {
			if err := invapp.ReleaseTx(ctx, stock, r.ID, now); err != nil {
				return "", fmt.Errorf("release reservation %s: %w", r.ID, err)
			}
		}
		return domain.OutcomeStale, s.settle(ctx, tx, order, orderdomain.StatusCancelled, outbox.EventFulfillmentStale, now)
	}

	for _, r := range active {
		if err := invapp.ConsumeTx(ctx, stock, r.ID, now); err != nil {
			return "", fmt.Errorf("consume reservation %s: %w", r.ID, err)
		}
	}
	return domain.OutcomeFulfilled, s.settle(ctx, tx, order, orderdomain.StatusPaid, outbox.EventOrderPaid, now)
}

func (s *Service) settle(ctx context.Context, tx Tx, order orderdomain.Order, to orderdomain.OrderStatus, eventType string, now time.Time) error {
	ok, err := tx.Orders().UpdateStatus(ctx, order.ID, orderdomain.StatusPending, to, now)
	if err != nil {
		return err
	}
	if !ok {
		// The row is locked, so a lost conditional update means the status
		// read and the update disagree about the schema, not a race.
		return fmt.Errorf("order %s: conditional update to %s matched no row", order.ID, to)
	}
	payload, err := json.Marshal(orderdomain.OrderTransitioned{
		OrderID: order.ID.String(),
		From:    string(orderdomain.StatusPending),
		To:      string(to),
	})
	if err != nil {
		return err
	}
	return tx.Orders().AppendEvent(ctx, order.ID.String(), eventType, payload, tracing.Traceparent(ctx))
}
