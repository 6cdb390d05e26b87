package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	invapp "github.com/storeit-dev/storeit/internal/inventory/application"
	invpg "github.com/storeit-dev/storeit/internal/inventory/infrastructure/postgres"
	orderdomain "github.com/storeit-dev/storeit/internal/order/domain"
	"github.com/storeit-dev/storeit/internal/payment/application"
	"github.com/storeit-dev/storeit/internal/payment/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
)

const aggregateOrder = "order"

// UnitOfWork binds webhook fulfillment to one database transaction.
// The webhook_events table is the authoritative dedupe record: the row
// insert and every fulfillment effect commit together, so a crash
// between them is impossible and the provider's retry starts clean.
type UnitOfWork struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewUnitOfWork(log *slog.Logger, pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{log: log, pool: pool}
}

func (u *UnitOfWork) EnsureSchema(ctx context.Context) error {
	_, err := u.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_events (
			provider_event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

func (u *UnitOfWork) RunOnce(ctx context.Context, providerEventID, eventType string, payload []byte, fn func(ctx context.Context, tx application.Tx) error) (bool, error) {
	pgtx, err := u.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = pgtx.Rollback(ctx)
	}()

	tag, err := pgtx.Exec(ctx, `INSERT INTO webhook_events (provider_event_id, event_type, payload)
		VALUES ($1,$2,$3) ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID, eventType, payload)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// A previous delivery already committed this event.
		return false, pgtx.Commit(ctx)
	}

	if err := fn(ctx, &uowTx{tx: pgtx}); err != nil {
		return false, err
	}
	return true, pgtx.Commit(ctx)
}

type uowTx struct {
	tx pgx.Tx
}

func (t *uowTx) Stock() invapp.StockTx       { return invpg.NewTx(t.tx) }
func (t *uowTx) Orders() application.OrderTx { return &orderTx{tx: t.tx} }

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) LockOrderByCheckoutSession(ctx context.Context, sessionID string) (orderdomain.Order, error) {
	var o orderdomain.Order
	err := t.tx.QueryRow(ctx, `SELECT id, customer_email, customer_name, status, total_cents,
		COALESCE(checkout_session_id, ''), created_at, updated_at
		FROM orders WHERE checkout_session_id=$1 FOR UPDATE`, sessionID).
		Scan(&o.ID, &o.CustomerEmail, &o.CustomerName, &o.Status, &o.TotalCents, &o.CheckoutSessionID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderdomain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return orderdomain.Order{}, err
	}

	rows, err := t.tx.Query(ctx, `SELECT reservation_id FROM order_reservations WHERE order_id=$1`, o.ID)
	if err != nil {
		return orderdomain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rid uuid.UUID
		if err := rows.Scan(&rid); err != nil {
			return orderdomain.Order{}, err
		}
		o.ReservationIDs = append(o.ReservationIDs, rid)
	}
	return o, rows.Err()
}

func (t *orderTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to orderdomain.OrderStatus, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		to, at, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *orderTx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error {
	return outbox.Append(ctx, t.tx, outbox.Event{
		AggregateType: aggregateOrder,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Traceparent:   traceparent,
	})
}
