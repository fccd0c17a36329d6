package store

import (
	"context"
	"sync"
	"time"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// MemoryStore keeps everything in process memory with the same CAS
// semantics as the durable backends. Used by tests and local
// development.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[string]*models.Event
	tickets map[string]*models.Ticket
	orders  map[string]*models.Order
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]*models.Event),
		tickets: make(map[string]*models.Ticket),
		orders:  make(map[string]*models.Order),
	}
}

func cloneEvent(ev *models.Event) *models.Event {
	c := *ev
	return &c
}

func cloneTicket(t *models.Ticket) *models.Ticket {
	c := *t
	if t.ReservationExpiresAt != nil {
		exp := *t.ReservationExpiresAt
		c.ReservationExpiresAt = &exp
	}
	return &c
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.TicketIDs = append([]string(nil), o.TicketIDs...)
	if o.ProcessedAt != nil {
		ts := *o.ProcessedAt
		c.ProcessedAt = &ts
	}
	return &c
}

func (s *MemoryStore) CreateEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return status.Validation("event %s already exists", ev.ID)
	}
	ev.Version = 1
	s.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, status.NotFound("event", id)
	}
	return cloneEvent(ev), nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[ev.ID]
	if !ok {
		return status.NotFound("event", ev.ID)
	}
	if stored.Version != ev.Version {
		return status.VersionConflict("event", ev.ID, ev.Version, stored.Version)
	}
	ev.Version++
	ev.UpdatedAt = time.Now().UTC()
	s.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (s *MemoryStore) CreateTickets(_ context.Context, tickets []*models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickets {
		if _, ok := s.tickets[t.ID]; ok {
			return status.Validation("ticket %s already exists", t.ID)
		}
	}
	for _, t := range tickets {
		t.Version = 1
		s.tickets[t.ID] = cloneTicket(t)
	}
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, status.NotFound("ticket", id)
	}
	return cloneTicket(t), nil
}

func (s *MemoryStore) UpdateTicket(_ context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[t.ID]
	if !ok {
		return status.NotFound("ticket", t.ID)
	}
	if stored.Version != t.Version {
		return status.VersionConflict("ticket", t.ID, t.Version, stored.Version)
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return status.Validation("order %s already exists", o.ID)
	}
	o.Version = 1
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, status.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return status.NotFound("order", o.ID)
	}
	if stored.Version != o.Version {
		return status.VersionConflict("order", o.ID, o.Version, stored.Version)
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryStore) TicketsByEventStatus(_ context.Context, eventID string, st models.TicketStatus) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.EventID == eventID && t.Status == st {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) TicketsByOrder(_ context.Context, orderID string) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.OrderID == orderID {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) TicketsExpiringBefore(_ context.Context, deadline time.Time) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Ticket
	for _, t := range s.tickets {
		if t.Status == models.TicketReserved && t.ReservationExpiresAt != nil && t.ReservationExpiresAt.Before(deadline) {
			out = append(out, cloneTicket(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) OrdersByStatus(_ context.Context, st models.OrderStatus) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.Status == st {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s *MemoryStore) OrdersByEventStatus(_ context.Context, eventID string, st models.OrderStatus) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.EventID == eventID && o.Status == st {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}
