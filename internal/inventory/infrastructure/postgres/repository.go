package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeit-dev/storeit/internal/inventory/application"
	"github.com/storeit-dev/storeit/internal/inventory/domain"
	"github.com/storeit-dev/storeit/pkg/outbox"
)

const aggregateReservation = "reservation"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inventory (
			variant_id BIGINT PRIMARY KEY,
			total_stock INT NOT NULL DEFAULT 0,
			reserved_qty INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (reserved_qty >= 0 AND reserved_qty <= total_stock)
		);
		CREATE TABLE IF NOT EXISTS inventory_reservations (
			id UUID PRIMARY KEY,
			variant_id BIGINT NOT NULL REFERENCES inventory(variant_id),
			owner_ref TEXT NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_reservations_expiry
			ON inventory_reservations (expires_at) WHERE status = 'active';
		CREATE INDEX IF NOT EXISTS idx_reservations_owner
			ON inventory_reservations (owner_ref);
	`)
	return err
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx application.StockTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &stockTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := r.pool.QueryRow(ctx,
		`SELECT variant_id, total_stock, reserved_qty, updated_at FROM inventory WHERE variant_id=$1`,
		variantID).Scan(&rec.VariantID, &rec.TotalStock, &rec.ReservedQty, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return rec, nil
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return scanReservation(r.pool.QueryRow(ctx, reservationColumns+` WHERE id=$1`, id))
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx,
		reservationColumns+` WHERE status='active' AND expires_at < $1 ORDER BY variant_id LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// NewTx wraps an existing transaction so other contexts (payment
// fulfillment) can run inventory operations atomically with their own.
func NewTx(tx pgx.Tx) application.StockTx {
	return &stockTx{tx: tx}
}

type stockTx struct {
	tx pgx.Tx
}

func (t *stockTx) LockRecord(ctx context.Context, variantID int64) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := t.tx.QueryRow(ctx,
		`SELECT variant_id, total_stock, reserved_qty, updated_at FROM inventory WHERE variant_id=$1 FOR UPDATE`,
		variantID).Scan(&rec.VariantID, &rec.TotalStock, &rec.ReservedQty, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InventoryRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return rec, nil
}

func (t *stockTx) InsertRecord(ctx context.Context, rec domain.InventoryRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventory (variant_id, total_stock, reserved_qty, updated_at) VALUES ($1,$2,$3,now())`,
		rec.VariantID, rec.TotalStock, rec.ReservedQty)
	return err
}

func (t *stockTx) UpdateStock(ctx context.Context, variantID int64, totalStock, reservedQty int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE inventory SET total_stock=$2, reserved_qty=$3, updated_at=now() WHERE variant_id=$1`,
		variantID, totalStock, reservedQty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *stockTx) FindReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return scanReservation(t.tx.QueryRow(ctx, reservationColumns+` WHERE id=$1`, id))
}

func (t *stockTx) InsertReservation(ctx context.Context, res domain.Reservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventory_reservations (id, variant_id, owner_ref, quantity, status, created_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.VariantID, res.OwnerRef, res.Quantity, res.Status, res.CreatedAt, res.ExpiresAt)
	return err
}

func (t *stockTx) ResolveReservation(ctx context.Context, id uuid.UUID, from, to domain.ReservationStatus, at time.Time) (bool, error) {
	ct, err := t.tx.Exec(ctx,
		`UPDATE inventory_reservations SET status=$3, resolved_at=$4 WHERE id=$1 AND status=$2`,
		id, from, to, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *stockTx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte, traceparent string) error {
	return outbox.Append(ctx, t.tx, outbox.Event{
		AggregateType: aggregateReservation,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Traceparent:   traceparent,
	})
}

const reservationColumns = `SELECT id, variant_id, owner_ref, quantity, status, created_at, expires_at, resolved_at FROM inventory_reservations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.ID, &res.VariantID, &res.OwnerRef, &res.Quantity, &res.Status, &res.CreatedAt, &res.ExpiresAt, &res.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}
