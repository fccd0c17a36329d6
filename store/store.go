package store

import (
	"context"
	"time"

	"ticket-inventory/models"
)

// Store is the contract the reservation engine requires of the
// persistence layer: point lookups, batch ticket creation, and
// version-conditional updates that distinguish "precondition failed"
// from "not found".
//
// Update* operations take the entity with the version the caller
// observed. On success the store persists the new state with
// version+1 and bumps the passed entity's Version to match. A stored
// version that no longer matches yields a concurrent-modification
// error; a missing row yields not-found.
type Store interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateEvent(ctx context.Context, ev *models.Event) error

	CreateTickets(ctx context.Context, tickets []*models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, t *models.Ticket) error

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error

	TicketsByEventStatus(ctx context.Context, eventID string, st models.TicketStatus) ([]*models.Ticket, error)
	TicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
	// TicketsExpiringBefore returns reserved tickets whose hold lapsed
	// before the deadline.
	TicketsExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.Ticket, error)
	OrdersByStatus(ctx context.Context, st models.OrderStatus) ([]*models.Order, error)
	OrdersByEventStatus(ctx context.Context, eventID string, st models.OrderStatus) ([]*models.Order, error)
}
