package domain

import (
	"errors"
	"fmt"
	"time"

	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
)

var (
	ErrValidation  = errors.New("invalid placement request")
	ErrPersistence = errors.New("order persistence failed")
	// ErrReservationExpired means a reservation was swept before the placement
	// could commit it. It is a concurrency timeout as far as callers care.
	ErrReservationExpired = fmt.Errorf("reservation expired before commit: %w", inventorydomain.ErrConcurrencyTimeout)
)

type SagaState string

const (
	StateStarted     SagaState = "started"
	StateReserved    SagaState = "reserved"
	StatePersisted   SagaState = "persisted"
	StateCommitted   SagaState = "committed"
	StateConfirmed   SagaState = "confirmed"
	StateCompensated SagaState = "compensated"
)

type Step struct {
	State SagaState `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// Placement records how far one PlaceOrder call got. It travels in the
// PlacementFailed audit event so operators can see where a saga stopped.
type Placement struct {
	ID         string    `json:"placement_id"`
	CustomerID string    `json:"customer_id"`
	OrderID    string    `json:"order_id,omitempty"`
	State      SagaState `json:"state"`
	Steps      []Step    `json:"steps"`
}

func NewPlacement(id, customerID string, now time.Time) *Placement {
	p := &Placement{ID: id, CustomerID: customerID}
	p.Advance(StateStarted, now, "")
	return p
}

func (p *Placement) Advance(state SagaState, now time.Time, note string) {
	p.State = state
	p.Steps = append(p.Steps, Step{State: state, At: now, Note: note})
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
