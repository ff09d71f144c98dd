package application

import (
	"context"
	"time"

	"github.com/dmehra2102/order-placement/internal/order/domain"
)

// OrderRepository persists orders with their lines. UpdateStatus changes the
// status only while it still equals from; otherwise it reports
// domain.ErrInvalidTransition, or domain.ErrOrderNotFound for unknown ids.
type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) error
	UpdateStatus(ctx context.Context, id domain.OrderID, from, to domain.OrderStatus, at time.Time) error
	Get(ctx context.Context, id domain.OrderID) (domain.Order, error)
}
