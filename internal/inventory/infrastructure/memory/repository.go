// Package memory implements the stock repository in process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/order-placement/internal/inventory/application"
	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

type Repository struct {
	mu           sync.RWMutex
	records      map[string]domain.Record
	reservations map[domain.Token]domain.Reservation

	// failSave, when set, is returned by the next SaveReservation calls.
	failSave error
}

func NewRepository() *Repository {
	return &Repository{
		records:      make(map[string]domain.Record),
		reservations: make(map[domain.Token]domain.Reservation),
	}
}

func (r *Repository) Get(ctx context.Context, sku string) (domain.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sku]
	if !ok {
		return domain.Record{SKU: sku}, false, nil
	}
	return rec, true, nil
}

func (r *Repository) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.records[rec.SKU]; ok {
		rec.Reserved = cur.Reserved
		rec.Version = cur.Version + 1
	} else {
		rec.Reserved = 0
		rec.Version = 1
	}
	r.records[rec.SKU] = rec
	return rec, nil
}

func (r *Repository) SaveReservation(ctx context.Context, rec domain.Record, expectedVersion int64, res domain.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	cur := r.records[rec.SKU]
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	if rec.Available < 0 || rec.Reserved < 0 {
		return domain.ErrInsufficientStock
	}
	r.records[rec.SKU] = rec
	r.reservations[res.Token] = res
	return nil
}

func (r *Repository) GetReservation(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservation{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.reservations[token]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Reservation
	for _, res := range r.reservations {
		if res.Expired(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FailSaves makes SaveReservation return err until called again with nil.
func (r *Repository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSave = err
}

var _ application.StockRepository = (*Repository)(nil)
