package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/storeit-dev/storeit/internal/inventory/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
	"github.com/storeit-dev/storeit/pkg/tracing"
)

// Service is the reservation manager: it owns every mutation of
// inventory records and reservation holds.
type Service struct {
	log      *slog.Logger
	repo     StockRepository
	maxLines int
	now      func() time.Time
}

func NewService(log *slog.Logger, repo StockRepository, maxLines int) *Service {
	if maxLines <= 0 {
		maxLines = 20
	}
	return &Service{log: log, repo: repo, maxLines: maxLines, now: time.Now}
}

// GetAvailable returns the advisory available count for display. No lock
// is taken; the number may be stale by the time the caller acts on it.
func (s *Service) GetAvailable(ctx context.Context, variantID int64) (int, error) {
	rec, err := s.repo.GetRecord(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return rec.Available(), nil
}

// GetRecord returns the full stock row without locking.
func (s *Service) GetRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	return s.repo.GetRecord(ctx, variantID)
}

// GetReservation returns a reservation without locking.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// AdjustStock applies an admin restock or correction. It takes the same
// per-variant lock as Reserve so it cannot race an in-flight hold. A
// first positive adjustment creates the record.
func (s *Service) AdjustStock(ctx context.Context, variantID int64, delta int) (domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := s.repo.InTx(ctx, func(ctx context.Context, tx StockTx) error {
		rec, err := tx.LockRecord(ctx, variantID)
		if errors.Is(err, domain.ErrNotFound) {
			if delta < 0 {
				return domain.ErrNotFound
			}
			out = domain.InventoryRecord{VariantID: variantID, TotalStock: delta}
			return tx.InsertRecord(ctx, out)
		}
		if err != nil {
			return err
		}

		newTotal := rec.TotalStock + delta
		if newTotal < 0 || newTotal < rec.ReservedQty {
			return domain.ErrInvalidAdjustment
		}
		if err := tx.UpdateStock(ctx, variantID, newTotal, rec.ReservedQty); err != nil {
			return err
		}
		out = rec
		out.TotalStock = newTotal
		return nil
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.log.Info("stock adjusted", "variant_id", variantID, "delta", delta, "total", out.TotalStock)
	return out, nil
}

// Reserve places a soft hold on every requested line or none of them.
// Locks are acquired in ascending variant id order; two concurrent
// multi-line requests sharing variants therefore always contend in the
// same relative order and cannot deadlock.
func (s *Service) Reserve(ctx context.Context, ownerRef string, items []domain.Line, ttl time.Duration) ([]domain.Reservation, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("inventory: ttl must be positive, got %v", ttl)
	}
	lines, err := mergeAndSortLines(items)
	if err != nil {
		return nil, err
	}
	if len(lines) > s.maxLines {
		return nil, fmt.Errorf("inventory: request locks %d variants, limit is %d", len(lines), s.maxLines)
	}

	now := s.now()
	var reservations []domain.Reservation
	err = s.repo.InTx(ctx, func(ctx context.Context, tx StockTx) error {
		reservations = reservations[:0]

		// Phase one: lock every record in sorted order and check cover.
		records := make([]domain.InventoryRecord, 0, len(lines))
		for _, line := range lines {
			rec, err := tx.LockRecord(ctx, line.VariantID)
			if err != nil {
				return err
			}
			if rec.Available() < line.Quantity {
				return &domain.InsufficientStockError{
					VariantID: line.VariantID,
					Requested: line.Quantity,
					Available: rec.Available(),
				}
			}
			records = append(records, rec)
		}

		// Phase two: all lines are covered, apply the holds.
		for i, line := range lines {
			rec := records[i]
			if err := tx.UpdateStock(ctx, line.VariantID, rec.TotalStock, rec.ReservedQty+line.Quantity); err != nil {
				return err
			}
			r := domain.NewReservation(line.VariantID, line.Quantity, ownerRef, ttl, now)
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			payload, err := json.Marshal(domain.ReservationCreated{
				ReservationID: r.ID.String(),
				VariantID:     r.VariantID,
				Quantity:      r.Quantity,
				OwnerRef:      r.OwnerRef,
				ExpiresAt:     r.ExpiresAt,
			})
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, r.ID.String(), outbox.EventReservationCreated, payload, tracing.Traceparent(ctx)); err != nil {
				return err
			}
			reservations = append(reservations, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("stock reserved", "owner_ref", ownerRef, "lines", len(reservations), "ttl", ttl)
	return reservations, nil
}

// Consume finalizes a hold into a sale: stock leaves both the reserved
// and the on-hand count. Consuming an already-consumed reservation is a
// no-op success so a webhook replay racing the sweep stays harmless.
func (s *Service) Consume(ctx context.Context, id uuid.UUID) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx StockTx) error {
		return ConsumeTx(ctx, tx, id, s.now())
	})
}

// Release returns an active hold's stock, for explicitly abandoned
// checkouts. Non-active reservations fail with ErrInvalidState.
func (s *Service) Release(ctx context.Context, id uuid.UUID) error {
	err := s.repo.InTx(ctx, func(ctx context.Context, tx StockTx) error {
		return ReleaseTx(ctx, tx, id, s.now())
	})
	if err != nil {
		return err
	}
	s.log.Info("reservation released", "reservation_id", id)
	return nil
}

// Expire reclaims a hold whose TTL has elapsed. Only the sweep calls
// this; a reservation that is no longer active, or not yet past its
// expiry, fails with ErrInvalidState.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx StockTx) error {
		return ExpireTx(ctx, tx, id, s.now())
	})
}

// ConsumeTx runs the consume transition inside an existing transaction.
// Lock order everywhere: inventory record first, then reservation row.
func ConsumeTx(ctx context.Context, tx StockTx, id uuid.UUID, now time.Time) error {
	r, err := tx.FindReservation(ctx, id)
	if err != nil {
		return err
	}
	switch r.Status {
	case domain.ReservationConsumed:
		return nil
	case domain.ReservationActive:
	default:
		return domain.ErrInvalidState
	}

	rec, err := tx.LockRecord(ctx, r.VariantID)
	if err != nil {
		return err
	}
	ok, err := tx.ResolveReservation(ctx, id, domain.ReservationActive, domain.ReservationConsumed, now)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race. Re-read under the record lock to tell a
		// concurrent consume (fine) from a sweep expiry (not fine).
		r, err = tx.FindReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == domain.ReservationConsumed {
			return nil
		}
		return domain.ErrInvalidState
	}

	newTotal := rec.TotalStock - r.Quantity
	newReserved := rec.ReservedQty - r.Quantity
	if newTotal < 0 || newReserved < 0 {
		return fmt.Errorf("inventory: consume would corrupt variant %d: total %d reserved %d", r.VariantID, newTotal, newReserved)
	}
	return tx.UpdateStock(ctx, r.VariantID, newTotal, newReserved)
}

// ReleaseTx runs the release transition inside an existing transaction.
func ReleaseTx(ctx context.Context, tx StockTx, id uuid.UUID, now time.Time) error {
	return resolveToInactive(ctx, tx, id, domain.ReservationReleased, now)
}

// ExpireTx runs the expiry transition inside an existing transaction.
func ExpireTx(ctx context.Context, tx StockTx, id uuid.UUID, now time.Time) error {
	r, err := tx.FindReservation(ctx, id)
	if err != nil {
		return err
	}
	if !r.Expired(now) {
		return domain.ErrInvalidState
	}
	return resolveToInactive(ctx, tx, id, domain.ReservationExpired, now)
}

func resolveToInactive(ctx context.Context, tx StockTx, id uuid.UUID, to domain.ReservationStatus, now time.Time) error {
	r, err := tx.FindReservation(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != domain.ReservationActive {
		return domain.ErrInvalidState
	}

	rec, err := tx.LockRecord(ctx, r.VariantID)
	if err != nil {
		return err
	}
	ok, err := tx.ResolveReservation(ctx, id, domain.ReservationActive, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidState
	}

	newReserved := rec.ReservedQty - r.Quantity
	if newReserved < 0 {
		return fmt.Errorf("inventory: release would corrupt variant %d: reserved %d", r.VariantID, newReserved)
	}
	if err := tx.UpdateStock(ctx, r.VariantID, rec.TotalStock, newReserved); err != nil {
		return err
	}

	eventType := outbox.EventReservationReleased
	if to == domain.ReservationExpired {
		eventType = outbox.EventReservationExpired
	}
	payload, err := json.Marshal(domain.ReservationClosed{
		ReservationID: id.String(),
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		Status:        string(to),
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, id.String(), eventType, payload, tracing.Traceparent(ctx))
}

// mergeAndSortLines validates quantities, folds duplicate variants into
// one line and returns the result in ascending variant id order. This is
// the shared lock-ordering helper for every multi-variant entry point.
func mergeAndSortLines(items []domain.Line) ([]domain.Line, error) {
	if len(items) == 0 {
		return nil, errors.New("inventory: reservation request has no lines")
	}
	merged := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("inventory: quantity must be positive for variant %d", item.VariantID)
		}
		merged[item.VariantID] += item.Quantity
	}
	lines := make([]domain.Line, 0, len(merged))
	for id, qty := range merged {
		lines = append(lines, domain.Line{VariantID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].VariantID < lines[j].VariantID })
	return lines, nil
}
