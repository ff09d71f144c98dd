package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyTimeout  = errors.New("concurrency timeout")
	ErrVersionConflict     = errors.New("inventory version conflict")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
)

// Record is the per-SKU stock row. Available never goes below zero; Version
// increases on every write and guards compare-and-swap updates.
type Record struct {
	SKU       string    `json:"sku"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusReverted  ReservationStatus = "reverted"
)

type Token string

func (t Token) String() string { return string(t) }

type Reservation struct {
	Token     Token             `json:"token"`
	SKU       string            `json:"sku"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Expired reports whether a still-held reservation has outlived its lease.
func (r Reservation) Expired(now time.Time) bool {
	return r.Status == StatusReserved && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

type Shortage struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError carries the shortage that stopped a reservation. A
// placement stops at its first short line, so it holds one entry there.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.SKU, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func (e *InsufficientStockError) SKUs() []string {
	skus := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		skus = append(skus, s.SKU)
	}
	return skus
}
