package services

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"ticket-inventory/config"
	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/store"
	"ticket-inventory/utils"
)

// ReservationService owns every mutation of the event inventory
// counters. Contended writes go through a bounded compare-and-swap
// loop with jittered backoff; the version precondition on the event
// row is the single point of serialization, no locks are taken.
type ReservationService struct {
	store      store.Store
	dispatcher *OrderDispatcher
	cfg        *config.Config

	now func() time.Time
}

func NewReservationService(st store.Store, dispatcher *OrderDispatcher, cfg *config.Config) *ReservationService {
	return &ReservationService{
		store:      st,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// casLoop runs attempt until it commits, hits a non-contention error,
// or exhausts the attempt budget. Only version conflicts are retried;
// everything else propagates untouched.
func (s *ReservationService) casLoop(ctx context.Context, entity, id string, attempt func() error) error {
	for i := 0; ; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !status.Is(err, status.KindConcurrentModification) {
			return err
		}
		monitoring.TrackCASConflict(entity)
		if i+1 >= s.cfg.CASMaxAttempts {
			return status.RetriesExhausted(entity, id, s.cfg.CASMaxAttempts)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.Backoff(i, s.cfg.CASBackoffBase, s.cfg.CASBackoffMax)):
		}
	}
}

// Reserve places a hold: decrements availability, creates the tickets
// and the pending order, and enqueues the asynchronous confirmation
// job. Validation and insufficient inventory fail before any write.
func (s *ReservationService) Reserve(ctx context.Context, eventID, customerID string, quantity int) (*models.Order, error) {
	if customerID == "" {
		return nil, status.Validation("customer id is required")
	}
	if quantity < 1 || quantity > s.cfg.MaxTicketsPerOrder {
		monitoring.TrackReservation(eventID, "rejected")
		return nil, status.Validation("quantity %d outside [1, %d]", quantity, s.cfg.MaxTicketsPerOrder)
	}

	var ev *models.Event
	err := s.casLoop(ctx, "event", eventID, func() error {
		var err error
		ev, err = s.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.AvailableTickets < quantity {
			return status.InsufficientInventory(eventID, quantity, ev.AvailableTickets)
		}
		ev.AvailableTickets -= quantity
		ev.ReservedTickets += quantity
		return s.store.UpdateEvent(ctx, ev)
	})
	if err != nil {
		if status.Is(err, status.KindInsufficientInventory) {
			monitoring.TrackReservation(eventID, "sold_out")
		} else {
			monitoring.TrackReservation(eventID, "error")
		}
		return nil, err
	}

	orderID, err := utils.NewID("ord")
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiry := now.Add(s.cfg.ReservationTimeout)
	tickets := make([]*models.Ticket, 0, quantity)
	ticketIDs := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		id, err := utils.NewID("tkt")
		if err != nil {
			return nil, err
		}
		exp := expiry
		tickets = append(tickets, &models.Ticket{
			ID:                   id,
			EventID:              eventID,
			Status:               models.TicketReserved,
			CustomerID:           customerID,
			OrderID:              orderID,
			FaceValue:            decimal.Zero,
			ReservedAt:           now,
			ReservationExpiresAt: &exp,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		ticketIDs = append(ticketIDs, id)
	}

	if err := s.store.CreateTickets(ctx, tickets); err != nil {
		s.rollbackCounters(ctx, eventID, quantity)
		return nil, err
	}

	order := &models.Order{
		ID:           orderID,
		EventID:      eventID,
		CustomerID:   customerID,
		TicketIDs:    ticketIDs,
		Status:       models.OrderPending,
		TotalTickets: quantity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		if _, rerr := s.Release(ctx, ticketIDs, eventID); rerr != nil {
			log.Printf("reserve: rollback of tickets for order %s failed: %v", orderID, rerr)
		}
		return nil, err
	}

	// Dispatch failure is not fatal: the hold stays valid and the
	// sweeper reclaims it if confirmation never runs.
	if err := s.dispatcher.Dispatch(ctx, orderID, 0, 0); err != nil {
		log.Printf("reserve: dispatch for order %s failed: %v", orderID, err)
	}

	monitoring.TrackReservation(eventID, "reserved")
	return order, nil
}

// rollbackCounters undoes a counter debit after a downstream create
// failed. Best effort: a persistent conflict here is logged and left
// to operators, the tickets involved were never created.
func (s *ReservationService) rollbackCounters(ctx context.Context, eventID string, quantity int) {
	err := s.casLoop(ctx, "event", eventID, func() error {
		ev, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		ev.AvailableTickets += quantity
		ev.ReservedTickets -= quantity
		return s.store.UpdateEvent(ctx, ev)
	})
	if err != nil {
		log.Printf("reserve: counter rollback for event %s failed: %v", eventID, err)
	}
}

// Release expires the given reserved tickets and returns their
// inventory. Tickets already moved by a concurrent actor are skipped,
// and only the tickets actually transitioned are credited back, so
// racing releasers can never double-return inventory.
func (s *ReservationService) Release(ctx context.Context, ticketIDs []string, eventID string) (int, error) {
	released := 0
	for _, id := range ticketIDs {
		t, err := s.store.GetTicket(ctx, id)
		if err != nil {
			if status.Is(err, status.KindNotFound) {
				continue
			}
			return released, err
		}
		if t.Status != models.TicketReserved {
			continue
		}
		t.Status = models.TicketExpired
		if err := s.store.UpdateTicket(ctx, t); err != nil {
			if status.Is(err, status.KindConcurrentModification) {
				// Lost the race for this ticket; its winner accounts
				// for the inventory.
				continue
			}
			return released, err
		}
		released++
	}

	if released == 0 {
		return 0, nil
	}

	err := s.casLoop(ctx, "event", eventID, func() error {
		ev, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		ev.AvailableTickets += released
		ev.ReservedTickets -= released
		return s.store.UpdateEvent(ctx, ev)
	})
	return released, err
}

// Sell moves the order's reserved tickets to sold. Event counters do
// not change: the inventory was consumed at reserve time. Tickets
// already sold to the same order are skipped, which makes redelivered
// confirmations harmless. A reserved ticket whose hold has lapsed
// cannot be sold; the caller compensates instead.
func (s *ReservationService) Sell(ctx context.Context, ticketIDs []string, orderID string) error {
	now := s.now()
	tickets := make([]*models.Ticket, 0, len(ticketIDs))
	for _, id := range ticketIDs {
		t, err := s.store.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == models.TicketSold && t.OrderID == orderID {
			continue
		}
		if t.Status != models.TicketReserved || t.OrderID != orderID {
			return status.InvalidTransition("ticket", id, string(t.Status), string(models.TicketSold))
		}
		if t.HoldExpired(now) {
			return status.ReservationExpired(orderID)
		}
		tickets = append(tickets, t)
	}

	for _, t := range tickets {
		t.Status = models.TicketSold
		if err := s.store.UpdateTicket(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// AssignComplimentary hands out one free ticket: availability is
// debited and the complimentary counter credited in a single
// conditional write, then the ticket is created directly in sold
// status with no order and no expiry.
func (s *ReservationService) AssignComplimentary(ctx context.Context, eventID, customerID, reason string) (*models.Ticket, error) {
	if customerID == "" {
		return nil, status.Validation("customer id is required")
	}

	err := s.casLoop(ctx, "event", eventID, func() error {
		ev, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.AvailableTickets < 1 {
			return status.InsufficientInventory(eventID, 1, ev.AvailableTickets)
		}
		ev.AvailableTickets--
		ev.ComplimentaryTickets++
		return s.store.UpdateEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	id, err := utils.NewID("tkt")
	if err != nil {
		return nil, err
	}
	now := s.now()
	ticket := &models.Ticket{
		ID:         id,
		EventID:    eventID,
		Status:     models.TicketSold,
		CustomerID: customerID,
		FaceValue:  decimal.Zero,
		Note:       reason,
		ReservedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateTickets(ctx, []*models.Ticket{ticket}); err != nil {
		s.rollbackComplimentary(ctx, eventID)
		return nil, err
	}
	return ticket, nil
}

func (s *ReservationService) rollbackComplimentary(ctx context.Context, eventID string) {
	err := s.casLoop(ctx, "event", eventID, func() error {
		ev, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		ev.AvailableTickets++
		ev.ComplimentaryTickets--
		return s.store.UpdateEvent(ctx, ev)
	})
	if err != nil {
		log.Printf("complimentary: counter rollback for event %s failed: %v", eventID, err)
	}
}
