// Package memory keeps the audit log in process, for tests and single-node runs.
package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/order-placement/internal/audit/application"
	"github.com/dmehra2102/order-placement/internal/audit/domain"
)

type Repository struct {
	mu     sync.RWMutex
	events []domain.Event
	seq    int64
}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Append(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]domain.Event, len(events))
	for i, ev := range events {
		r.seq++
		ev.Seq = r.seq
		stored[i] = ev
	}
	r.events = append(r.events, stored...)
	return stored, nil
}

func (r *Repository) ListSince(ctx context.Context, after int64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Seq starts at 1 and has no gaps, so the index of Seq n is n-1.
	start := int(after)
	if start < 0 {
		start = 0
	}
	if start >= len(r.events) {
		return nil, nil
	}
	end := len(r.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]domain.Event, end-start)
	copy(out, r.events[start:end])
	return out, nil
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

var _ application.Repository = (*Repository)(nil)
