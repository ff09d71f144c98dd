package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-placement/internal/audit/application"
	"github.com/dmehra2102/order-placement/internal/audit/domain"
	"github.com/dmehra2102/order-placement/internal/audit/infrastructure/memory"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

func seed(t *testing.T, trail *application.Trail, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := trail.Append(context.Background(), domain.Event{
			EntityType: domain.EntityOrder,
			EntityID:   fmt.Sprintf("order-%d", i),
			Action:     domain.ActionCreate,
		})
		require.NoError(t, err)
	}
}

func collect(t *testing.T, trail *application.Trail, since int64) []domain.Event {
	t.Helper()
	var out []domain.Event
	for ev, err := range trail.Stream(context.Background(), since) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestAppendStampsActorAndTime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	trail := application.NewTrail(logging.Discard(), memory.NewRepository()).WithClock(func() time.Time { return fixed })

	ctx := application.WithActor(context.Background(), "alice")
	stored, err := trail.Append(ctx,
		domain.Event{EntityType: domain.EntityOrder, EntityID: "o1", Action: domain.ActionCreate},
		domain.Event{EntityType: domain.EntityOrder, EntityID: "o2", Action: domain.ActionCreate, Actor: "bob"},
	)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, int64(1), stored[0].Seq)
	assert.Equal(t, int64(2), stored[1].Seq)
	assert.Equal(t, "alice", stored[0].Actor)
	assert.Equal(t, "bob", stored[1].Actor)
	assert.Equal(t, fixed, stored[0].OccurredAt)
}

func TestActorDefaultsToSystem(t *testing.T) {
	assert.Equal(t, application.DefaultActor, application.ActorFrom(context.Background()))
	assert.Equal(t, application.DefaultActor, application.ActorFrom(application.WithActor(context.Background(), "")))
}

func TestStreamPagesInOrder(t *testing.T) {
	trail := application.NewTrail(logging.Discard(), memory.NewRepository()).WithPageSize(3)
	seed(t, trail, 10)

	all := collect(t, trail, 0)
	require.Len(t, all, 10)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestStreamResumesFromCursor(t *testing.T) {
	trail := application.NewTrail(logging.Discard(), memory.NewRepository()).WithPageSize(4)
	seed(t, trail, 7)

	var last int64
	n := 0
	for ev, err := range trail.Stream(context.Background(), 0) {
		require.NoError(t, err)
		last = ev.Seq
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, int64(3), last)

	rest := collect(t, trail, last)
	require.Len(t, rest, 4)
	assert.Equal(t, int64(4), rest[0].Seq)

	// A finished stream picks up events appended later.
	seed(t, trail, 2)
	assert.Len(t, collect(t, trail, rest[len(rest)-1].Seq), 2)
}

type failingRepo struct{ memory.Repository }

func (*failingRepo) ListSince(context.Context, int64, int) ([]domain.Event, error) {
	return nil, errors.New("connection reset")
}

func TestStreamYieldsStoreError(t *testing.T) {
	trail := application.NewTrail(logging.Discard(), &failingRepo{})
	var errs int
	for _, err := range trail.Stream(context.Background(), 0) {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
