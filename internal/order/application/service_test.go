package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-placement/internal/order/application"
	"github.com/dmehra2102/order-placement/internal/order/domain"
	"github.com/dmehra2102/order-placement/internal/order/infrastructure/memory"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

func TestCreateOrderPersistsPending(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	store := application.NewStore(logging.Discard(), memory.NewRepository()).WithClock(func() time.Time { return fixed })

	id, err := store.CreateOrder(ctx, "c1", []domain.OrderLine{{SKU: "A", Quantity: 2, PriceCents: 999}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "c1", o.CustomerID)
	assert.Equal(t, fixed, o.CreatedAt)
	assert.Equal(t, []domain.OrderLine{{SKU: "A", Quantity: 2, PriceCents: 999}}, o.Lines)
}

func TestCreateOrderRejectsEmpty(t *testing.T) {
	store := application.NewStore(logging.Discard(), memory.NewRepository())
	_, err := store.CreateOrder(context.Background(), "c1", nil)
	require.ErrorIs(t, err, domain.ErrNoLines)
}

func TestCreateOrderSurfacesStorageFault(t *testing.T) {
	repo := memory.NewRepository()
	boom := errors.New("write timeout")
	repo.FailCreates(boom)
	store := application.NewStore(logging.Discard(), repo)

	_, err := store.CreateOrder(context.Background(), "c1", []domain.OrderLine{{SKU: "A", Quantity: 1}})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, repo.All())
}

func TestUpdateStatusFollowsMachine(t *testing.T) {
	ctx := context.Background()
	store := application.NewStore(logging.Discard(), memory.NewRepository())
	id, err := store.CreateOrder(ctx, "c1", []domain.OrderLine{{SKU: "A", Quantity: 1, PriceCents: 10}})
	require.NoError(t, err)

	before, err := store.UpdateStatus(ctx, id, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, before.Status)

	_, err = store.UpdateStatus(ctx, id, domain.StatusFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.UpdateStatus(ctx, id, domain.StatusCancelled)
	require.NoError(t, err)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, int64(10), o.Lines[0].PriceCents)
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	store := application.NewStore(logging.Discard(), memory.NewRepository())
	_, err := store.UpdateStatus(context.Background(), "missing", domain.StatusConfirmed)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = store.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// racingRepo lets another writer change the status between the read and the
// conditional update.
type racingRepo struct {
	*memory.Repository
	raced bool
}

func (r *racingRepo) UpdateStatus(ctx context.Context, id domain.OrderID, from, to domain.OrderStatus, at time.Time) error {
	if !r.raced {
		r.raced = true
		if err := r.Repository.UpdateStatus(ctx, id, from, domain.StatusFailed, at); err != nil {
			return err
		}
	}
	return r.Repository.UpdateStatus(ctx, id, from, to, at)
}

func TestUpdateStatusConcurrentChange(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{Repository: memory.NewRepository()}
	store := application.NewStore(logging.Discard(), repo)
	id, err := store.CreateOrder(ctx, "c1", []domain.OrderLine{{SKU: "A", Quantity: 1}})
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, id, domain.StatusConfirmed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, o.Status)
}
