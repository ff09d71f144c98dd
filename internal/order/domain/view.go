package domain

import "time"

// View is the read-only projection handed to reporting callers.
type View struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	Lines      []OrderLine `json:"lines"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (o Order) View() View {
	lines := make([]OrderLine, len(o.Lines))
	copy(lines, o.Lines)
	return View{
		OrderID:    o.ID.String(),
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Lines:      lines,
		TotalCents: o.TotalCents(),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
