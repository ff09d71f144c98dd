package application

import (
	"context"
	"slices"
	"sync"

	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

// Guard serializes work per SKU. Callers touching different SKUs never wait
// on each other.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*skuLock
}

type skuLock struct {
	sem  chan struct{}
	refs int
}

func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*skuLock)}
}

// Lock blocks until the SKU is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (g *Guard) Lock(ctx context.Context, sku string) (func(), error) {
	l := g.acquire(sku)
	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			g.drop(sku)
		}, nil
	case <-ctx.Done():
		g.drop(sku)
		return nil, domain.ErrConcurrencyTimeout
	}
}

// LockAll takes every SKU lock in sorted order so two callers holding
// overlapping sets cannot deadlock. Duplicates are locked once.
func (g *Guard) LockAll(ctx context.Context, skus []string) (func(), error) {
	sorted := slices.Clone(skus)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, sku := range sorted {
		unlock, err := g.Lock(ctx, sku)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (g *Guard) acquire(sku string) *skuLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[sku]
	if !ok {
		l = &skuLock{sem: make(chan struct{}, 1)}
		g.locks[sku] = l
	}
	l.refs++
	return l
}

func (g *Guard) drop(sku string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[sku]
	if !ok {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(g.locks, sku)
	}
}

// held is used by tests to check that idle SKUs do not leak entries.
func (g *Guard) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
