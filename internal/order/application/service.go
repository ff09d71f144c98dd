package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/order-placement/internal/order/domain"
)

// Store owns orders and their lines. Prices arrive on the lines; the store
// never looks them up.
type Store struct {
	log  *slog.Logger
	repo OrderRepository
	now  func() time.Time
}

func NewStore(log *slog.Logger, repo OrderRepository) *Store {
	return &Store{
		log:  log,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateOrder persists a Pending order and returns its new id.
func (s *Store) CreateOrder(ctx context.Context, customerID string, lines []domain.OrderLine) (domain.OrderID, error) {
	id := domain.OrderID(uuid.NewString())
	o, err := domain.NewOrder(id, customerID, lines, s.now())
	if err != nil {
		return "", err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	s.log.Info("order created", "order_id", id, "customer_id", customerID, "lines", len(lines))
	return id, nil
}

// UpdateStatus moves an order along the status machine and returns the order
// as it was before the change.
func (s *Store) UpdateStatus(ctx context.Context, id domain.OrderID, next domain.OrderStatus) (domain.Order, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !current.Status.CanTransitionTo(next) {
		return domain.Order{}, domain.TransitionError(current.Status, next)
	}
	if err := s.repo.UpdateStatus(ctx, id, current.Status, next, s.now()); err != nil {
		return domain.Order{}, fmt.Errorf("update order %s: %w", id, err)
	}
	s.log.Info("order status changed", "order_id", id, "from", current.Status, "to", next)
	return current, nil
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}
