package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/google/uuid"

	invapp "github.com/storeit-dev/storeit/internal/inventory/application"
	invdomain "github.com/storeit-dev/storeit/internal/inventory/domain"
	orderdomain "github.com/storeit-dev/storeit/internal/order/domain"
	"github.com/storeit-dev/storeit/internal/payment/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
	"github.com/storeit-dev/storeit/pkg/signature"
)

const testSecret = "whsec_test"

type appended struct {
	aggregateID string
	eventType   string
}

// memUOW mirrors the transactional semantics of the postgres unit of
// work: fn works on cloned state that only replaces the live state when
// fn returns nil, and a previously recorded event id skips fn entirely.
type memUOW struct {
	variants     map[int64]invdomain.InventoryRecord
	reservations map[uuid.UUID]invdomain.Reservation
	orders       map[uuid.UUID]orderdomain.Order
	ledger       map[string]bool
	events       []appended

	runs int
}

func newMemUOW() *memUOW {
	return &memUOW{
		variants:     map[int64]invdomain.InventoryRecord{},
		reservations: map[uuid.UUID]invdomain.Reservation{},
		orders:       map[uuid.UUID]orderdomain.Order{},
		ledger:       map[string]bool{},
	}
}

func (u *memUOW) RunOnce(ctx context.Context, providerEventID, eventType string, payload []byte, fn func(ctx context.Context, tx Tx) error) (bool, error) {
	u.runs++
	if u.ledger[providerEventID] {
		return false, nil
	}
	tx := &memTx{
		variants:     maps.Clone(u.variants),
		reservations: maps.Clone(u.reservations),
		orders:       maps.Clone(u.orders),
	}
	if err := fn(ctx, tx); err != nil {
		return false, err
	}
	u.variants = tx.variants
	u.reservations = tx.reservations
	u.orders = tx.orders
	u.events = append(u.events, tx.events...)
	u.ledger[providerEventID] = true
	return true, nil
}

type memTx struct {
	variants     map[int64]invdomain.InventoryRecord
	reservations map[uuid.UUID]invdomain.Reservation
	orders       map[uuid.UUID]orderdomain.Order
	events       []appended
}

func (t *memTx) Stock() invapp.StockTx { return (*memStockTx)(t) }
func (t *memTx) Orders() OrderTx       { return (*memOrderTx)(t) }

type memStockTx memTx

func (t *memStockTx) LockRecord(ctx context.Context, variantID int64) (invdomain.InventoryRecord, error) {
	rec, ok := t.variants[variantID]
	if !ok {
		return invdomain.InventoryRecord{}, invdomain.ErrNotFound
	}
	return rec, nil
}

func (t *memStockTx) InsertRecord(ctx context.Context, rec invdomain.InventoryRecord) error {
	t.variants[rec.VariantID] = rec
	return nil
}

func (t *memStockTx) UpdateStock(ctx context.Context, variantID int64, totalStock, reservedQty int) error {
	rec := t.variants[variantID]
	rec.TotalStock = totalStock
	rec.ReservedQty = reservedQty
	t.variants[variantID] = rec
	return nil
}

func (t *memStockTx) FindReservation(ctx context.Context, id uuid.UUID) (invdomain.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return invdomain.Reservation{}, invdomain.ErrNotFound
	}
	return r, nil
}

func (t *memStockTx) InsertReservation(ctx context.Context, r invdomain.Reservation) error {
	t.reservations[r.ID] = r
	return nil
}

func (t *memStockTx) ResolveReservation(ctx context.Context, id uuid.UUID, from, to invdomain.ReservationStatus, at time.Time) (bool, error) {
	r, ok := t.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ResolvedAt = &at
	t.reservations[id] = r
	return true, nil
}

func (t *memStockTx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error {
	t.events = append(t.events, appended{aggregateID: aggregateID, eventType: eventType})
	return nil
}

type memOrderTx memTx

func (t *memOrderTx) LockOrderByCheckoutSession(ctx context.Context, sessionID string) (orderdomain.Order, error) {
	for _, o := range t.orders {
		if o.CheckoutSessionID == sessionID {
			return o, nil
		}
	}
	return orderdomain.Order{}, domain.ErrOrderNotFound
}

func (t *memOrderTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to orderdomain.OrderStatus, at time.Time) (bool, error) {
	o, ok := t.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	t.orders[id] = o
	return true, nil
}

func (t *memOrderTx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error {
	t.events = append(t.events, appended{aggregateID: aggregateID, eventType: eventType})
	return nil
}

type memCache struct {
	keys map[string]bool
}

func newMemCache() *memCache { return &memCache{keys: map[string]bool{}} }

func (c *memCache) Key(provider, eventID string) string { return provider + ":" + eventID }
func (c *memCache) Seen(ctx context.Context, key string) bool {
	return c.keys[key]
}
func (c *memCache) Mark(ctx context.Context, key string) error {
	c.keys[key] = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(uow *memUOW, cache ReplayCache) *Service {
	return NewService(discardLogger(), uow, cache, testSecret, 5*time.Minute)
}

// seedSale stages a pending order with one reservation per variant, all
// active and backing the purchased quantities.
func seedSale(uow *memUOW, sessionID string, quantities map[int64]int) (orderdomain.Order, []uuid.UUID) {
	now := time.Now()
	var ids []uuid.UUID
	for variantID, qty := range quantities {
		uow.variants[variantID] = invdomain.InventoryRecord{
			VariantID:   variantID,
			TotalStock:  100,
			ReservedQty: qty,
			UpdatedAt:   now,
		}
		r := invdomain.Reservation{
			ID:        uuid.New(),
			VariantID: variantID,
			Quantity:  qty,
			Status:    invdomain.ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(15 * time.Minute),
		}
		uow.reservations[r.ID] = r
		ids = append(ids, r.ID)
	}
	o := orderdomain.Order{
		ID:                uuid.New(),
		CustomerEmail:     "ada@example.com",
		Status:            orderdomain.StatusPending,
		CheckoutSessionID: sessionID,
		ReservationIDs:    ids,
		CreatedAt:         now,
	}
	uow.orders[o.ID] = o
	return o, ids
}

func signedEvent(t *testing.T, eventID, eventType, sessionID string) (payload []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(domain.Event{
		ID:   eventID,
		Type: eventType,
		Data: domain.EventData{Object: domain.EventObject{SessionID: sessionID}},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, signature.Sign(testSecret, payload, time.Now())
}

func TestHandleWebhookFulfillsOrder(t *testing.T) {
	uow := newMemUOW()
	order, ids := seedSale(uow, "cs_123", map[int64]int{7: 2})
	svc := newTestService(uow, newMemCache())

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome != domain.OutcomeFulfilled {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeFulfilled)
	}

	if got := uow.orders[order.ID].Status; got != orderdomain.StatusPaid {
		t.Errorf("order status = %q, want paid", got)
	}
	if got := uow.reservations[ids[0]].Status; got != invdomain.ReservationConsumed {
		t.Errorf("reservation status = %q, want consumed", got)
	}
	rec := uow.variants[7]
	if rec.TotalStock != 98 || rec.ReservedQty != 0 {
		t.Errorf("variant 7 = total %d reserved %d, want 98/0", rec.TotalStock, rec.ReservedQty)
	}
	if !uow.ledger["evt_1"] {
		t.Error("event not recorded in ledger")
	}
	var paid bool
	for _, e := range uow.events {
		if e.eventType == outbox.EventOrderPaid && e.aggregateID == order.ID.String() {
			paid = true
		}
	}
	if !paid {
		t.Error("no OrderPaid outbox event appended")
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	uow := newMemUOW()
	seedSale(uow, "cs_123", map[int64]int{7: 2})
	svc := newTestService(uow, newMemCache())

	payload, _ := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	_, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_tampered")

	_, err := svc.HandleWebhook(context.Background(), payload, header)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
	if uow.runs != 0 {
		t.Error("unit of work touched for an unverified delivery")
	}
}

func TestHandleWebhookReplayIsHarmless(t *testing.T) {
	uow := newMemUOW()
	order, _ := seedSale(uow, "cs_123", map[int64]int{7: 2})
	svc := newTestService(uow, newMemCache())

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	if _, err := svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	snapshot := uow.variants[7]

	// Fresh cache forces the replay through the ledger path.
	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != domain.OutcomeReplay {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeReplay)
	}
	if uow.variants[7] != snapshot {
		t.Error("replay changed stock")
	}
	if got := uow.orders[order.ID].Status; got != orderdomain.StatusPaid {
		t.Errorf("order status = %q after replay, want paid", got)
	}
}

func TestHandleWebhookCacheShortCircuit(t *testing.T) {
	uow := newMemUOW()
	seedSale(uow, "cs_123", map[int64]int{7: 2})
	cache := newMemCache()
	svc := newTestService(uow, cache)

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	cache.keys[cache.Key("stripe", "evt_1")] = true

	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome != domain.OutcomeReplay {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeReplay)
	}
	if uow.runs != 0 {
		t.Error("cache hit still opened a transaction")
	}
}

func TestHandleWebhookStaleReservationCancelsOrder(t *testing.T) {
	uow := newMemUOW()
	order, ids := seedSale(uow, "cs_123", map[int64]int{7: 2, 11: 1})
	svc := newTestService(uow, newMemCache())

	// One reservation lapsed before the payment landed.
	var staleID, liveID uuid.UUID
	for _, id := range ids {
		if uow.reservations[id].VariantID == 7 {
			staleID = id
		} else {
			liveID = id
		}
	}
	stale := uow.reservations[staleID]
	stale.Status = invdomain.ReservationExpired
	uow.reservations[staleID] = stale
	rec := uow.variants[7]
	rec.ReservedQty = 0
	uow.variants[7] = rec

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome != domain.OutcomeStale {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeStale)
	}

	if got := uow.orders[order.ID].Status; got != orderdomain.StatusCancelled {
		t.Errorf("order status = %q, want cancelled", got)
	}
	if got := uow.reservations[liveID].Status; got != invdomain.ReservationReleased {
		t.Errorf("live reservation = %q, want released", got)
	}
	// Nothing was sold: total stock untouched on both variants.
	if got := uow.variants[7].TotalStock; got != 100 {
		t.Errorf("variant 7 total = %d, want 100", got)
	}
	if got, rec11 := uow.variants[11].TotalStock, uow.variants[11]; got != 100 || rec11.ReservedQty != 0 {
		t.Errorf("variant 11 = total %d reserved %d, want 100/0", got, rec11.ReservedQty)
	}
	var staleEvent bool
	for _, e := range uow.events {
		if e.eventType == outbox.EventFulfillmentStale {
			staleEvent = true
		}
	}
	if !staleEvent {
		t.Error("no FulfillmentStale outbox event appended")
	}
}

func TestHandleWebhookSettledOrderIsNoop(t *testing.T) {
	uow := newMemUOW()
	order, ids := seedSale(uow, "cs_123", map[int64]int{7: 2})
	o := uow.orders[order.ID]
	o.Status = orderdomain.StatusCancelled
	uow.orders[order.ID] = o
	svc := newTestService(uow, newMemCache())

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_123")
	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome != domain.OutcomeReplay {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeReplay)
	}
	if got := uow.reservations[ids[0]].Status; got != invdomain.ReservationActive {
		t.Errorf("reservation = %q, settled order must not touch reservations", got)
	}
	if !uow.ledger["evt_1"] {
		t.Error("delivery for settled order should still be recorded")
	}
}

func TestHandleWebhookUnknownEventTypeAcked(t *testing.T) {
	uow := newMemUOW()
	seedSale(uow, "cs_123", map[int64]int{7: 2})
	svc := newTestService(uow, newMemCache())

	payload, header := signedEvent(t, "evt_9", "invoice.created", "cs_123")
	outcome, err := svc.HandleWebhook(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if outcome != domain.OutcomeIgnored {
		t.Fatalf("outcome = %q, want %q", outcome, domain.OutcomeIgnored)
	}
	if !uow.ledger["evt_9"] {
		t.Error("unknown event type should still be recorded")
	}
}

func TestHandleWebhookUnknownSessionRetries(t *testing.T) {
	uow := newMemUOW()
	svc := newTestService(uow, newMemCache())

	payload, header := signedEvent(t, "evt_1", domain.EventCheckoutCompleted, "cs_missing")
	_, err := svc.HandleWebhook(context.Background(), payload, header)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
	// The ledger row must roll back with the failure so the provider's
	// retry gets a clean attempt once the order lands.
	if uow.ledger["evt_1"] {
		t.Error("failed delivery left a ledger row behind")
	}
}
