package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketReserved TicketStatus = "reserved"
	TicketSold     TicketStatus = "sold"
	TicketExpired  TicketStatus = "expired"
)

// Ticket is one physical ticket. Once reserved it belongs to exactly
// one order until it is sold or the hold expires. Complimentary
// tickets are created directly in sold status with no order and no
// expiry.
type Ticket struct {
	ID                   string          `json:"id"`
	EventID              string          `json:"event_id"`
	Status               TicketStatus    `json:"status"`
	CustomerID           string          `json:"customer_id"`
	OrderID              string          `json:"order_id,omitempty"`
	FaceValue            decimal.Decimal `json:"face_value"`
	Note                 string          `json:"note,omitempty"`
	ReservedAt           time.Time       `json:"reserved_at"`
	ReservationExpiresAt *time.Time      `json:"reservation_expires_at,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ticket status machine: reserved -> sold, reserved -> expired.
// Sold and expired are terminal.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketReserved: {TicketSold, TicketExpired},
	TicketSold:     {},
	TicketExpired:  {},
}

// CanTransition reports whether moving from the ticket's current
// status to next is legal.
func (t *Ticket) CanTransition(next TicketStatus) bool {
	for _, s := range ticketTransitions[t.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// HoldExpired reports whether the reservation hold has lapsed at now.
// Tickets without an expiry (complimentary) never expire.
func (t *Ticket) HoldExpired(now time.Time) bool {
	return t.ReservationExpiresAt != nil && t.ReservationExpiresAt.Before(now)
}
