package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeit-dev/storeit/internal/order/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
)

const aggregateOrder = "order"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_cents BIGINT NOT NULL DEFAULT 0,
			checkout_session_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS order_items (
			order_id UUID NOT NULL REFERENCES orders(id),
			variant_id BIGINT NOT NULL,
			sku TEXT NOT NULL,
			product_name TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			line_total_cents BIGINT NOT NULL,
			PRIMARY KEY (order_id, variant_id)
		);
		CREATE TABLE IF NOT EXISTS order_reservations (
			order_id UUID NOT NULL REFERENCES orders(id),
			reservation_id UUID NOT NULL,
			PRIMARY KEY (order_id, reservation_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_checkout_session
			ON orders (checkout_session_id) WHERE checkout_session_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_orders_customer_email ON orders (customer_email);
	`)
	return err
}

func (r *Repository) SaveWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, customer_email, customer_name, status, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.CustomerEmail, o.CustomerName, o.Status, o.TotalCents, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, variant_id, sku, product_name, quantity, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, item.VariantID, item.SKU, item.ProductName, item.Quantity, item.UnitPriceCents, item.LineTotalCents)
	}
	for _, rid := range o.ReservationIDs {
		batch.Queue(`INSERT INTO order_reservations (order_id, reservation_id) VALUES ($1,$2)`, o.ID, rid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	err = outbox.Append(ctx, tx, outbox.Event{
		AggregateType: aggregateOrder,
		AggregateID:   o.ID.String(),
		Type:          eventType,
		Payload:       payload,
		Traceparent:   traceparent,
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, customer_email, customer_name, status, total_cents,
		COALESCE(checkout_session_id, ''), created_at, updated_at FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.CustomerEmail, &o.CustomerName, &o.Status, &o.TotalCents, &o.CheckoutSessionID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if err := r.loadDetails(ctx, &o); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) List(ctx context.Context, customerEmail string) ([]domain.Order, error) {
	query := `SELECT id, customer_email, customer_name, status, total_cents,
		COALESCE(checkout_session_id, ''), created_at, updated_at FROM orders`
	args := []any{}
	if customerEmail != "" {
		query += ` WHERE customer_email=$1`
		args = append(args, customerEmail)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.CustomerEmail, &o.CustomerName, &o.Status, &o.TotalCents, &o.CheckoutSessionID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) loadDetails(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `SELECT variant_id, sku, product_name, quantity, unit_price_cents, line_total_cents
		FROM order_items WHERE order_id=$1 ORDER BY variant_id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.VariantID, &item.SKU, &item.ProductName, &item.Quantity, &item.UnitPriceCents, &item.LineTotalCents); err != nil {
			return err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	resRows, err := r.pool.Query(ctx, `SELECT reservation_id FROM order_reservations WHERE order_id=$1`, o.ID)
	if err != nil {
		return err
	}
	defer resRows.Close()
	for resRows.Next() {
		var rid uuid.UUID
		if err := resRows.Scan(&rid); err != nil {
			return err
		}
		o.ReservationIDs = append(o.ReservationIDs, rid)
	}
	return resRows.Err()
}

func (r *Repository) UpdateStatusWithOutbox(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, eventType string, payload []byte, traceparent string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	err = outbox.Append(ctx, tx, outbox.Event{
		AggregateType: aggregateOrder,
		AggregateID:   id.String(),
		Type:          eventType,
		Payload:       payload,
		Traceparent:   traceparent,
	})
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) SetCheckoutSession(ctx context.Context, id uuid.UUID, sessionID string) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET checkout_session_id=$2, updated_at=now() WHERE id=$1 AND status='pending'`,
		id, sessionID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
