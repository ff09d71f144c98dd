// Package memory implements the order repository in process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmehra2102/order-placement/internal/order/application"
	"github.com/dmehra2102/order-placement/internal/order/domain"
)

type Repository struct {
	mu     sync.RWMutex
	orders map[domain.OrderID]domain.Order

	failCreate error
	failUpdate error
}

func NewRepository() *Repository {
	return &Repository{
		orders: make(map[domain.OrderID]domain.Order),
	}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	r.orders[o.ID] = o
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id domain.OrderID, from, to domain.OrderStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate != nil {
		return r.failUpdate
	}
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.TransitionError(o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	r.orders[id] = o
	return nil
}

func (r *Repository) Get(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o, nil
}

// All returns every stored order, in no particular order.
func (r *Repository) All() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}

// FailCreates makes Create return err until called again with nil.
func (r *Repository) FailCreates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCreate = err
}

// FailUpdates makes UpdateStatus return err until called again with nil.
func (r *Repository) FailUpdates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdate = err
}

var _ application.OrderRepository = (*Repository)(nil)
