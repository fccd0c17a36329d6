package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// failNTimes declines the first n confirmation calls, then approves.
func failNTimes(n int, reason string) Confirmer {
	calls := 0
	return ConfirmerFunc(func(ctx context.Context, order *models.Order) error {
		calls++
		if calls <= n {
			return errors.New(reason)
		}
		return nil
	})
}

func TestOrderService_Process_Confirms(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	processed, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
	assert.Equal(t, 0, processed.RetryCount)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
	}

	ev := env.event(t, "evt_1")
	assert.Equal(t, 8, ev.AvailableTickets)
	assert.Equal(t, 2, ev.ReservedTickets)
}

func TestOrderService_Process_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	first, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderConfirmed, first.Status)

	evBefore := env.event(t, "evt_1")

	// A redelivered job against the confirmed order is a no-op.
	second, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, second.Status)
	assert.Equal(t, first.Version, second.Version)

	evAfter := env.event(t, "evt_1")
	assert.Equal(t, evBefore.Version, evAfter.Version)
	assert.Equal(t, evBefore.AvailableTickets, evAfter.AvailableTickets)
}

func TestOrderService_Process_RetryProgression(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, failNTimes(2, "gateway timeout"))
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	// Attempt 1 fails: still pending, retry count 1.
	after1, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, after1.Status)
	assert.Equal(t, 1, after1.RetryCount)

	// Attempt 2 fails: still pending, retry count 2, hold intact.
	after2, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, after2.Status)
	assert.Equal(t, 2, after2.RetryCount)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketReserved, tk.Status)
	}

	// Attempt 3 succeeds.
	after3, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, after3.Status)
	assert.Equal(t, 2, after3.RetryCount)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
	}
}

func TestOrderService_Process_MaxRetriesCompensates(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, failNTimes(100, "card declined"))
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 3)
	require.NoError(t, err)

	var processed *models.Order
	for i := 0; i < env.cfg.MaxConfirmRetries; i++ {
		processed, err = env.orders.Process(ctx, order.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, models.OrderFailed, processed.Status)
	assert.Equal(t, "card declined", processed.FailureReason)
	assert.Equal(t, env.cfg.MaxConfirmRetries, processed.RetryCount)
	require.NotNil(t, processed.ProcessedAt)

	// Compensation returned the inventory and expired the tickets.
	ev := env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
	assert.Equal(t, 0, ev.ReservedTickets)
	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketExpired, tk.Status)
	}

	// Further deliveries are no-ops: no double release.
	again, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, again.Status)
	ev = env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
}

func TestOrderService_Process_ExpiredHoldCompensates(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	// Confirmation arrives after the hold lapsed.
	env.orders.now = func() time.Time {
		return time.Now().UTC().Add(env.cfg.ReservationTimeout + time.Minute)
	}

	processed, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, processed.Status)
	assert.Equal(t, "reservation expired", processed.FailureReason)
	// An expired hold is not a confirmation attempt.
	assert.Equal(t, 0, processed.RetryCount)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
	assert.Equal(t, 0, ev.ReservedTickets)
}

func TestOrderService_Process_HoldLapsesDuringSale(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	// The coordinator's expiry check still sees a live hold, but by the
	// time the sale runs the hold has lapsed.
	env.reservation.now = func() time.Time {
		return time.Now().UTC().Add(env.cfg.ReservationTimeout + time.Minute)
	}

	processed, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, processed.Status)
	assert.Equal(t, "reservation expired", processed.FailureReason)
	assert.Equal(t, 0, processed.RetryCount)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
	assert.Equal(t, 0, ev.ReservedTickets)
	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketExpired, tk.Status)
	}
}

func TestOrderService_Process_MissingOrder(t *testing.T) {
	env := setupEnv(t, AutoApprove())

	_, err := env.orders.Process(context.Background(), "ord_missing")
	assert.True(t, status.Is(err, status.KindNotFound))
}

func TestOrderService_FailPendingOrder_SkipsTerminal(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 1)
	require.NoError(t, err)

	confirmed, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderConfirmed, confirmed.Status)

	// A racing sweep must never downgrade a confirmed order.
	require.NoError(t, env.orders.FailPendingOrder(ctx, order.ID, "reservation expired"))

	loaded, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, loaded.Status)
}

func TestOrderService_OrderTickets(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	tickets, err := env.orders.OrderTickets(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	_, err = env.orders.OrderTickets(ctx, "ord_missing")
	assert.True(t, status.Is(err, status.KindNotFound))
}
