package domain

import (
	"encoding/json"
	"time"
)

type Action string

const (
	ActionCreate            Action = "Create"
	ActionUpdate            Action = "Update"
	ActionDelete            Action = "Delete"
	ActionReservationFailed Action = "ReservationFailed"
	ActionPlacementFailed   Action = "PlacementFailed"
)

const (
	EntityOrder              = "Order"
	EntityOrderLine          = "OrderLine"
	EntityInventoryDecrement = "InventoryDecrement"
	EntityInventoryRecord    = "InventoryRecord"
	EntityReservation        = "Reservation"
	EntityPlacement          = "Placement"
)

// Event is an immutable audit entry. Seq is assigned by the store on append
// and is strictly increasing.
type Event struct {
	Seq        int64           `json:"seq"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor"`
	OccurredAt time.Time       `json:"occurred_at"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Snapshot marshals v for Before/After. Values that cannot be encoded are
// dropped rather than failing the write that is being audited.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
