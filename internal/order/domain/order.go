package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNoLines           = errors.New("order has no lines")
	ErrInvalidLine       = errors.New("order line needs a sku and a positive quantity")
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "Pending"
	StatusConfirmed OrderStatus = "Confirmed"
	StatusCancelled OrderStatus = "Cancelled"
	StatusFailed    OrderStatus = "Failed"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusConfirmed, StatusFailed},
	StatusConfirmed: {StatusCancelled},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

type OrderID string

func (id OrderID) String() string { return string(id) }

type Order struct {
	ID         OrderID
	CustomerID string
	Lines      []OrderLine
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderLine carries the unit price captured when the order was created. It is
// never recomputed from the catalog afterwards.
type OrderLine struct {
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

func NewOrder(id OrderID, customerID string, lines []OrderLine, now time.Time) (Order, error) {
	if len(lines) == 0 {
		return Order{}, ErrNoLines
	}
	for _, l := range lines {
		if l.SKU == "" || l.Quantity <= 0 || l.PriceCents < 0 {
			return Order{}, ErrInvalidLine
		}
	}
	owned := make([]OrderLine, len(lines))
	copy(owned, lines)
	return Order{
		ID:         id,
		CustomerID: customerID,
		Lines:      owned,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (o Order) TotalCents() int64 {
	var total int64
	for _, l := range o.Lines {
		total += int64(l.Quantity) * l.PriceCents
	}
	return total
}

// Transition moves the order to next if the status machine allows it.
func (o *Order) Transition(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return TransitionError(o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

func TransitionError(from, to OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
