package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-placement/internal/order/application"
	"github.com/dmehra2102/order-placement/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders (id, customer_id, status, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5)`,
		o.ID.String(), o.CustomerID, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, line := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, line_no, sku, quantity, price_cents)
            VALUES ($1,$2,$3,$4,$5)`,
			o.ID.String(), i+1, line.SKU, line.Quantity, line.PriceCents)
	}
	batchResult := tx.SendBatch(ctx, batch)
	if err = batchResult.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) UpdateStatus(ctx context.Context, id domain.OrderID, from, to domain.OrderStatus, at time.Time) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id.String(), string(from), string(to), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id.String()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	return domain.TransitionError(domain.OrderStatus(current), to)
}

func (r *Repository) Get(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var o domain.Order
	var orderID, status string
	err := r.pool.QueryRow(ctx, `SELECT id, customer_id, status, created_at, updated_at FROM orders WHERE id=$1`, id.String()).
		Scan(&orderID, &o.CustomerID, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = domain.OrderID(orderID)
	o.Status = domain.OrderStatus(status)

	rows, err := r.pool.Query(ctx, `SELECT sku, quantity, price_cents FROM order_lines WHERE order_id=$1 ORDER BY line_no`, id.String())
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.SKU, &line.Quantity, &line.PriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Lines = append(o.Lines, line)
	}
	return o, rows.Err()
}

var _ application.OrderRepository = (*Repository)(nil)
