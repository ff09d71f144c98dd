package application

import (
	"context"
	"time"

	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

// StockRepository persists stock records and reservations. SaveReservation
// must write both rows atomically and fail with domain.ErrVersionConflict when
// the stored record version differs from expectedVersion.
type StockRepository interface {
	Get(ctx context.Context, sku string) (domain.Record, bool, error)
	Upsert(ctx context.Context, rec domain.Record) (domain.Record, error)
	SaveReservation(ctx context.Context, rec domain.Record, expectedVersion int64, res domain.Reservation) error
	GetReservation(ctx context.Context, token domain.Token) (domain.Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}
