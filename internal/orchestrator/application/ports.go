package application

import (
	"context"
	"iter"

	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/order-placement/internal/order/domain"
)

// Ledger is satisfied by the in-process inventory ledger and by the gRPC client
// of the inventory service.
type Ledger interface {
	Reserve(ctx context.Context, sku string, qty int) (inventorydomain.Reservation, error)
	Commit(ctx context.Context, token inventorydomain.Token) (inventorydomain.Reservation, error)
	Release(ctx context.Context, token inventorydomain.Token) (inventorydomain.Reservation, error)
	Revert(ctx context.Context, token inventorydomain.Token) (inventorydomain.Reservation, error)
	CurrentAvailable(ctx context.Context, sku string) (int, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, customerID string, lines []orderdomain.OrderLine) (orderdomain.OrderID, error)
	UpdateStatus(ctx context.Context, id orderdomain.OrderID, next orderdomain.OrderStatus) (orderdomain.Order, error)
	GetOrder(ctx context.Context, id orderdomain.OrderID) (orderdomain.Order, error)
}

type AuditTrail interface {
	Append(ctx context.Context, events ...auditdomain.Event) ([]auditdomain.Event, error)
	Stream(ctx context.Context, since int64) iter.Seq2[auditdomain.Event, error]
}

type Catalog interface {
	GetCurrentPrice(ctx context.Context, sku string) (int64, error)
}

type Customers interface {
	CustomerExists(ctx context.Context, id string) (bool, error)
}
