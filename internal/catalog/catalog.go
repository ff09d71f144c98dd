// Package catalog answers the two questions a placement asks outside its own
// bounded context: what a SKU costs right now, and whether a customer exists.
package catalog

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownSKU = errors.New("unknown sku")

// Static keeps prices and customers in memory. Prices can be changed at any
// time; orders already placed keep the price they captured.
type Static struct {
	mu        sync.RWMutex
	prices    map[string]int64
	customers map[string]struct{}
}

func NewStatic() *Static {
	return &Static{
		prices:    make(map[string]int64),
		customers: make(map[string]struct{}),
	}
}

func (s *Static) SetPrice(sku string, cents int64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[sku] = cents
	return s
}

func (s *Static) AddCustomer(ids ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.customers[id] = struct{}{}
	}
	return s
}

func (s *Static) GetCurrentPrice(_ context.Context, sku string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[sku]
	if !ok {
		return 0, ErrUnknownSKU
	}
	return p, nil
}

func (s *Static) CustomerExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.customers[id]
	return ok, nil
}
