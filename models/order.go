package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
)

// Order is one purchase attempt. It exclusively owns its ticket ids
// while they are reserved; a sold ticket outlives the order's
// mutability.
type Order struct {
	ID            string      `json:"id"`
	EventID       string      `json:"event_id"`
	CustomerID    string      `json:"customer_id"`
	TicketIDs     []string    `json:"ticket_ids"` // insertion order = allocation order
	Status        OrderStatus `json:"status"`
	TotalTickets  int         `json:"total_tickets"`
	RetryCount    int         `json:"retry_count"`
	Version       int64       `json:"version"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
}

// Terminal reports whether the order can no longer change state.
// Redelivered jobs against a terminal order are no-ops.
func (o *Order) Terminal() bool {
	return o.Status == OrderConfirmed || o.Status == OrderFailed
}

func (o *Order) CanTransition(next OrderStatus) bool {
	if o.Status != OrderPending {
		return false
	}
	return next == OrderConfirmed || next == OrderFailed
}
