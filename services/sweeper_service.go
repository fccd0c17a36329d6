package services

import (
	"context"
	"log"
	"sync"
	"time"

	"ticket-inventory/config"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
)

// Sweeper reclaims lapsed reservations on a fixed interval. Each run
// releases every reserved ticket whose hold deadline has passed,
// returning the inventory and failing the still-pending orders the
// tickets belonged to. One sick event never blocks the rest: failures
// are logged per event group and the sweep moves on.
type Sweeper struct {
	reservation *ReservationService
	orders      *OrderService
	cfg         *config.Config

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

func NewSweeper(reservation *ReservationService, orders *OrderService, cfg *config.Config) *Sweeper {
	return &Sweeper{
		reservation: reservation,
		orders:      orders,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
			released, err := s.Sweep(runCtx)
			cancel()
			if err != nil {
				log.Printf("sweep: run finished with errors (released %d): %v", released, err)
			} else if released > 0 {
				log.Printf("sweep: released %d lapsed tickets", released)
			}
		}
	}
}

// Sweep performs one pass and returns how many tickets it released.
// The returned error is the last per-group failure; earlier groups are
// still processed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.reservation.store.TicketsExpiringBefore(ctx, s.now())
	if err != nil {
		monitoring.TrackSweep(0, false)
		return 0, err
	}
	if len(expired) == 0 {
		monitoring.TrackSweep(0, true)
		return 0, nil
	}

	// Group by event so each inventory credit is one counter update.
	byEvent := make(map[string][]*models.Ticket)
	for _, t := range expired {
		byEvent[t.EventID] = append(byEvent[t.EventID], t)
	}

	total := 0
	var lastErr error
	for eventID, tickets := range byEvent {
		ids := make([]string, 0, len(tickets))
		orderIDs := make(map[string]struct{})
		for _, t := range tickets {
			ids = append(ids, t.ID)
			if t.OrderID != "" {
				orderIDs[t.OrderID] = struct{}{}
			}
		}

		released, err := s.reservation.Release(ctx, ids, eventID)
		total += released
		if err != nil {
			log.Printf("sweep: release for event %s failed after %d tickets: %v", eventID, released, err)
			lastErr = err
			continue
		}

		for orderID := range orderIDs {
			if err := s.orders.FailPendingOrder(ctx, orderID, "reservation expired"); err != nil {
				log.Printf("sweep: failing order %s failed: %v", orderID, err)
				lastErr = err
			}
		}
	}

	monitoring.TrackSweep(total, lastErr == nil)
	return total, lastErr
}
