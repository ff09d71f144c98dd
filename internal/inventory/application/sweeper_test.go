package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	auditmemory "github.com/dmehra2102/order-placement/internal/audit/infrastructure/memory"
	"github.com/dmehra2102/order-placement/internal/inventory/application"
	"github.com/dmehra2102/order-placement/internal/inventory/domain"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestSweeperReleasesExpiredReservations(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l, _ := newLedger(t, map[string]int{"A": 10}, application.WithClock(clk.Now), application.WithReservationTTL(time.Minute))

	auditRepo := auditmemory.NewRepository()
	trail := auditapp.NewTrail(logging.Discard(), auditRepo)
	sweeper := application.NewSweeper(logging.Discard(), l, trail, time.Second)

	stale, err := l.Reserve(ctx, "A", 3)
	require.NoError(t, err)
	done, err := l.Reserve(ctx, "A", 2)
	require.NoError(t, err)
	_, err = l.Commit(ctx, done.Token)
	require.NoError(t, err)

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has expired yet")

	clk.now = clk.now.Add(2 * time.Minute)
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 8, available(t, l, "A"))

	res, err := l.GetReservation(ctx, stale.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, res.Status)

	events, err := auditRepo.ListSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, auditdomain.EntityReservation, events[0].EntityType)
	assert.Equal(t, stale.Token.String(), events[0].EntityID)
	assert.Equal(t, auditdomain.ActionUpdate, events[0].Action)
	assert.Equal(t, application.SweeperActor, events[0].Actor)

	// A second pass finds nothing and writes nothing.
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, auditRepo.Len())
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	l, _ := newLedger(t, nil)
	sweeper := application.NewSweeper(logging.Discard(), l, auditapp.NewTrail(logging.Discard(), auditmemory.NewRepository()), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
