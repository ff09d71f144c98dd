package application

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-placement/internal/audit/domain"
)

const (
	DefaultActor    = "system"
	defaultPageSize = 256
)

// Repository stores audit events. Append assigns Seq to each event in order and
// writes all of them or none. ListSince returns events with Seq > after in
// ascending order.
type Repository interface {
	Append(ctx context.Context, events []domain.Event) ([]domain.Event, error)
	ListSince(ctx context.Context, after int64, limit int) ([]domain.Event, error)
}

type Trail struct {
	log      *slog.Logger
	repo     Repository
	pageSize int
	now      func() time.Time
}

func NewTrail(log *slog.Logger, repo Repository) *Trail {
	return &Trail{
		log:      log,
		repo:     repo,
		pageSize: defaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (t *Trail) WithClock(now func() time.Time) *Trail {
	t.now = now
	return t
}

func (t *Trail) WithPageSize(n int) *Trail {
	if n > 0 {
		t.pageSize = n
	}
	return t
}

// Append stamps missing timestamps and actors, then stores the events.
func (t *Trail) Append(ctx context.Context, events ...domain.Event) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	now := t.now()
	actor := ActorFrom(ctx)
	stamped := make([]domain.Event, len(events))
	for i, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = now
		}
		if ev.Actor == "" {
			ev.Actor = actor
		}
		stamped[i] = ev
	}
	stored, err := t.repo.Append(ctx, stamped)
	if err != nil {
		return nil, fmt.Errorf("append audit events: %w", err)
	}
	return stored, nil
}

// Stream yields every event with Seq > since, fetching pages lazily. It ends
// when the store has nothing newer; resume by passing the last Seq seen.
func (t *Trail) Stream(ctx context.Context, since int64) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		cursor := since
		for {
			page, err := t.repo.ListSince(ctx, cursor, t.pageSize)
			if err != nil {
				yield(domain.Event{}, fmt.Errorf("list audit events after %d: %w", cursor, err))
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				cursor = ev.Seq
			}
			if len(page) < t.pageSize {
				return
			}
		}
	}
}

type actorKey struct{}

func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}
