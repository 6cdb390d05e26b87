package application

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storeit-dev/storeit/internal/inventory/domain"
)

// memStore is a serializable in-memory StockRepository. A transaction
// works on a copy of the state and commits it only when fn returns nil,
// mirroring rollback behaviour. The big mutex stands in for the row
// locks; lockTrace records the order LockRecord was called in so tests
// can assert the ascending-variant-id discipline.
type memStore struct {
	mu           sync.Mutex
	records      map[int64]domain.InventoryRecord
	reservations map[uuid.UUID]domain.Reservation
	events       []memEvent

	lockTrace []int64

	failUpdateVariant int64 // 0 = never fail
}

type memEvent struct {
	aggregateID string
	eventType   string
	payload     []byte
}

func newMemStore() *memStore {
	return &memStore{
		records:      make(map[int64]domain.InventoryRecord),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}
}

func (s *memStore) seed(variantID int64, total, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[variantID] = domain.InventoryRecord{VariantID: variantID, TotalStock: total, ReservedQty: reserved}
}

func (s *memStore) record(variantID int64) domain.InventoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[variantID]
}

func (s *memStore) reservation(id uuid.UUID) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[id]
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx StockTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		store:        s,
		records:      maps.Clone(s.records),
		reservations: maps.Clone(s.reservations),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.records = tx.records
	s.reservations = tx.reservations
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) GetRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[variantID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationActive && r.Expired(now) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memTx struct {
	store        *memStore
	records      map[int64]domain.InventoryRecord
	reservations map[uuid.UUID]domain.Reservation
	events       []memEvent
}

func (t *memTx) LockRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	t.store.lockTrace = append(t.store.lockTrace, variantID)
	rec, ok := t.records[variantID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (t *memTx) InsertRecord(ctx context.Context, rec domain.InventoryRecord) error {
	t.records[rec.VariantID] = rec
	return nil
}

func (t *memTx) UpdateStock(ctx context.Context, variantID int64, totalStock, reservedQty int) error {
	if t.store.failUpdateVariant != 0 && variantID == t.store.failUpdateVariant {
		return errContrived
	}
	rec := t.records[variantID]
	rec.TotalStock = totalStock
	rec.ReservedQty = reservedQty
	t.records[variantID] = rec
	return nil
}

func (t *memTx) FindReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

func (t *memTx) InsertReservation(ctx context.Context, r domain.Reservation) error {
	t.reservations[r.ID] = r
	return nil
}

func (t *memTx) ResolveReservation(ctx context.Context, id uuid.UUID, from, to domain.ReservationStatus, at time.Time) (bool, error) {
	r, ok := t.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ResolvedAt = &at
	t.reservations[id] = r
	return true, nil
}

func (t *memTx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error {
	t.events = append(t.events, memEvent{aggregateID: aggregateID, eventType: eventType, payload: payload})
	return nil
}
