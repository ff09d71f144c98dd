package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-placement/internal/inventory/application"
	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{
		log:  log,
		pool: pool,
	}
}

func (r *Repository) Get(ctx context.Context, sku string) (domain.Record, bool, error) {
	rec := domain.Record{SKU: sku}
	err := r.pool.QueryRow(ctx, `SELECT available, reserved, version, updated_at FROM inventory_records WHERE sku=$1`, sku).
		Scan(&rec.Available, &rec.Reserved, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{SKU: sku}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

func (r *Repository) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	out := domain.Record{SKU: rec.SKU}
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_records (sku, available, reserved, version, updated_at)
		VALUES ($1,$2,0,1,$3)
		ON CONFLICT (sku) DO UPDATE SET available=$2, version=inventory_records.version+1, updated_at=$3
		RETURNING available, reserved, version, updated_at`,
		rec.SKU, rec.Available, rec.UpdatedAt,
	).Scan(&out.Available, &out.Reserved, &out.Version, &out.UpdatedAt)
	if err != nil {
		return domain.Record{}, err
	}
	return out, nil
}

// SaveReservation applies the record change only if the row still carries
// expectedVersion, and writes the reservation in the same transaction.
func (r *Repository) SaveReservation(ctx context.Context, rec domain.Record, expectedVersion int64, res domain.Reservation) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE inventory_records
		SET available=$2, reserved=$3, version=$4, updated_at=$5
		WHERE sku=$1 AND version=$6`,
		rec.SKU, rec.Available, rec.Reserved, rec.Version, rec.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}

	_, err = tx.Exec(ctx, `INSERT INTO reservations (token, sku, quantity, status, created_at, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (token) DO UPDATE SET status=$4, updated_at=$7`,
		res.Token.String(), res.SKU, res.Quantity, string(res.Status), res.CreatedAt, res.ExpiresAt, res.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetReservation(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	res := domain.Reservation{Token: token}
	var status string
	err := r.pool.QueryRow(ctx, `SELECT sku, quantity, status, created_at, expires_at, updated_at FROM reservations WHERE token=$1`, token.String()).
		Scan(&res.SKU, &res.Quantity, &status, &res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT token, sku, quantity, status, created_at, expires_at, updated_at
		FROM reservations
		WHERE status='reserved' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		var token, status string
		if err := rows.Scan(&token, &res.SKU, &res.Quantity, &status, &res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		res.Token = domain.Token(token)
		res.Status = domain.ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

var _ application.StockRepository = (*Repository)(nil)
