package services

import (
	"context"
	"log"
	"time"

	"ticket-inventory/config"
	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/notify"
	"ticket-inventory/queue"
	"ticket-inventory/store"
	"ticket-inventory/utils"
)

// Confirmer is the injected confirmation capability (payment or
// allocation check). Its contract: return nil to approve the order, or
// an error whose message becomes the failure reason.
type Confirmer interface {
	Confirm(ctx context.Context, order *models.Order) error
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, order *models.Order) error

func (f ConfirmerFunc) Confirm(ctx context.Context, order *models.Order) error {
	return f(ctx, order)
}

// OrderService drives the order state machine:
// pending -> confirmed on success, pending -> pending with an
// increasing re-dispatch delay while retries remain, pending -> failed
// (with inventory compensation) when the hold lapsed or retries ran
// out.
type OrderService struct {
	store       store.Store
	reservation *ReservationService
	dispatcher  *OrderDispatcher
	confirmer   Confirmer
	breaker     *utils.CircuitBreaker
	notifier    *notify.Notifier
	cfg         *config.Config

	now func() time.Time
}

func NewOrderService(st store.Store, reservation *ReservationService, dispatcher *OrderDispatcher, confirmer Confirmer, notifier *notify.Notifier, cfg *config.Config) *OrderService {
	return &OrderService{
		store:       st,
		reservation: reservation,
		dispatcher:  dispatcher,
		confirmer:   confirmer,
		breaker:     utils.NewCircuitBreaker("order-confirm"),
		notifier:    notifier,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *OrderService) OrderTickets(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.TicketsByOrder(ctx, orderID)
}

// Process is the idempotent entry point for one delivered job.
// Delivery is at-least-once: a redelivered job against an order that
// already left pending returns the order unchanged, and the ticket
// status checks inside Sell/Release keep inventory from being sold or
// returned twice.
func (s *OrderService) Process(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return order, nil
	}

	tickets, err := s.store.TicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, t := range tickets {
		if t.Status == models.TicketReserved && t.HoldExpired(now) {
			log.Printf("process: order %s hold lapsed, compensating", orderID)
			order, err = s.failOrder(ctx, order, "reservation expired", false)
			if err != nil {
				return nil, err
			}
			monitoring.TrackOrderProcessed("expired")
			return order, nil
		}
	}

	start := time.Now()
	confirmErr := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.confirmer.Confirm(ctx, order)
	})
	monitoring.TrackConfirmDuration(time.Since(start))

	if confirmErr == nil {
		if err := s.reservation.Sell(ctx, order.TicketIDs, order.ID); err != nil {
			if status.Is(err, status.KindReservationExpired) {
				// The hold lapsed between the expiry check above and
				// the sale; compensate now instead of waiting for a
				// redelivery.
				order, err = s.failOrder(ctx, order, "reservation expired", false)
				if err != nil {
					return nil, err
				}
				monitoring.TrackOrderProcessed("expired")
				return order, nil
			}
			// A racing sweep may have reclaimed the hold between the
			// expiry check and here; redelivery sorts it out.
			return nil, err
		}
		order, err = s.mutateOrder(ctx, orderID, func(o *models.Order) bool {
			if o.Status != models.OrderPending {
				return false
			}
			o.Status = models.OrderConfirmed
			ts := s.now()
			o.ProcessedAt = &ts
			return true
		})
		if err != nil {
			return nil, err
		}
		s.notifier.OrderConfirmed(order)
		monitoring.TrackOrderProcessed("confirmed")
		return order, nil
	}

	reason := confirmErr.Error()
	if order.RetryCount+1 < s.cfg.MaxConfirmRetries {
		order, err = s.mutateOrder(ctx, orderID, func(o *models.Order) bool {
			if o.Status != models.OrderPending {
				return false
			}
			o.RetryCount++
			return true
		})
		if err != nil {
			return nil, err
		}
		delay := utils.RetryDelaySeconds(order.RetryCount, s.cfg.RetryBaseDelaySeconds, queue.MaxDelaySeconds)
		if derr := s.dispatcher.Dispatch(ctx, orderID, order.RetryCount, delay); derr != nil {
			log.Printf("process: re-dispatch of order %s failed: %v", orderID, derr)
		}
		log.Printf("process: order %s confirmation failed (attempt %d/%d), retrying in %ds: %s",
			orderID, order.RetryCount, s.cfg.MaxConfirmRetries, delay, reason)
		monitoring.TrackOrderProcessed("retried")
		return order, nil
	}

	order, err = s.failOrder(ctx, order, reason, true)
	if err != nil {
		return nil, err
	}
	monitoring.TrackOrderProcessed("failed")
	return order, nil
}

// failOrder compensates and finalizes: inventory back, tickets
// expired, order failed with the reason. countAttempt records the
// final confirmation attempt; an expired hold is not one.
func (s *OrderService) failOrder(ctx context.Context, order *models.Order, reason string, countAttempt bool) (*models.Order, error) {
	if _, err := s.reservation.Release(ctx, order.TicketIDs, order.EventID); err != nil {
		return nil, err
	}
	updated, err := s.mutateOrder(ctx, order.ID, func(o *models.Order) bool {
		if o.Status != models.OrderPending {
			return false
		}
		o.Status = models.OrderFailed
		o.FailureReason = reason
		if countAttempt {
			o.RetryCount++
		}
		ts := s.now()
		o.ProcessedAt = &ts
		return true
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OrderFailed(updated, reason)
	return updated, nil
}

// FailPendingOrder marks an order failed if (and only if) it is still
// pending. The sweeper uses this so it never touches orders a racing
// confirmation already finalized.
func (s *OrderService) FailPendingOrder(ctx context.Context, orderID, reason string) error {
	updated, err := s.mutateOrder(ctx, orderID, func(o *models.Order) bool {
		if o.Status != models.OrderPending {
			return false
		}
		o.Status = models.OrderFailed
		o.FailureReason = reason
		ts := s.now()
		o.ProcessedAt = &ts
		return true
	})
	if err != nil {
		return err
	}
	if updated.Status == models.OrderFailed && updated.FailureReason == reason {
		s.notifier.OrderFailed(updated, reason)
	}
	return nil
}

// mutateOrder applies mutate under the order's version precondition,
// re-reading and re-applying on conflict up to the CAS budget. mutate
// returning false means no write is needed (typically: the order
// already left pending) and the loaded order is returned as is.
func (s *OrderService) mutateOrder(ctx context.Context, orderID string, mutate func(*models.Order) bool) (*models.Order, error) {
	for i := 0; i < s.cfg.CASMaxAttempts; i++ {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !mutate(order) {
			return order, nil
		}
		err = s.store.UpdateOrder(ctx, order)
		if err == nil {
			return order, nil
		}
		if !status.Is(err, status.KindConcurrentModification) {
			return nil, err
		}
		monitoring.TrackCASConflict("order")
	}
	return nil, status.RetriesExhausted("order", orderID, s.cfg.CASMaxAttempts)
}
