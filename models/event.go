package models

import (
	"time"

	"ticket-inventory/internal/status"
)

// Event owns the contended inventory counters. Every committed write
// bumps Version by one; all mutation goes through the reservation
// engine's conditional updates.
type Event struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Date                 time.Time `json:"date"`
	Location             string    `json:"location"`
	TotalCapacity        int       `json:"total_capacity"`
	AvailableTickets     int       `json:"available_tickets"`
	ReservedTickets      int       `json:"reserved_tickets"`
	ComplimentaryTickets int       `json:"complimentary_tickets"`
	Version              int64     `json:"version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewEvent validates and builds an event with the full capacity
// available.
func NewEvent(id, name, location string, date time.Time, totalCapacity int) (*Event, error) {
	if id == "" {
		return nil, status.Validation("event id is required")
	}
	if name == "" {
		return nil, status.Validation("event name is required")
	}
	if totalCapacity <= 0 {
		return nil, status.Validation("total capacity must be positive, got %d", totalCapacity)
	}

	now := time.Now().UTC()
	return &Event{
		ID:               id,
		Name:             name,
		Date:             date,
		Location:         location,
		TotalCapacity:    totalCapacity,
		AvailableTickets: totalCapacity,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CheckCounters verifies the accounting invariant: no counter is
// negative and available + reserved + complimentary sums to the total
// capacity. ReservedTickets covers both live holds and the sales they
// became, since selling consumes no extra inventory and release is the
// only credit path, so every committed state conserves the sum exactly.
func (e *Event) CheckCounters() error {
	if e.AvailableTickets < 0 {
		return status.Validation("event %s: available tickets negative (%d)", e.ID, e.AvailableTickets)
	}
	if e.ReservedTickets < 0 {
		return status.Validation("event %s: reserved tickets negative (%d)", e.ID, e.ReservedTickets)
	}
	if e.ComplimentaryTickets < 0 {
		return status.Validation("event %s: complimentary tickets negative (%d)", e.ID, e.ComplimentaryTickets)
	}
	if e.AvailableTickets+e.ReservedTickets+e.ComplimentaryTickets != e.TotalCapacity {
		return status.Validation("event %s: counters do not sum to total capacity", e.ID)
	}
	return nil
}
