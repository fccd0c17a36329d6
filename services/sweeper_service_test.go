package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/models"
)

func setupSweeper(t *testing.T, env *testEnv) *Sweeper {
	t.Helper()
	sw := NewSweeper(env.reservation, env.orders, env.cfg)
	// The sweep sees a clock past every hold's deadline.
	sw.now = func() time.Time {
		return time.Now().UTC().Add(env.cfg.ReservationTimeout + time.Minute)
	}
	return sw
}

func TestSweeper_Sweep_ReclaimsLapsedHolds(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 5)
	require.NoError(t, err)

	sw := setupSweeper(t, env)
	released, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, released)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
	assert.Equal(t, 0, ev.ReservedTickets)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketExpired, tk.Status)
	}

	failed, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, failed.Status)
	assert.Equal(t, "reservation expired", failed.FailureReason)

	// A confirmation job delivered after the sweep is a no-op.
	processed, err := env.orders.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, processed.Status)
	ev = env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
}

func TestSweeper_Sweep_NothingLapsed(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	_, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 3)
	require.NoError(t, err)

	sw := NewSweeper(env.reservation, env.orders, env.cfg)
	released, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 7, ev.AvailableTickets)
	assert.Equal(t, 3, ev.ReservedTickets)
}

func TestSweeper_Sweep_LeavesSettledOrdersAlone(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)
	env.createEvent(t, "evt_2", 10)

	confirmed, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)
	_, err = env.orders.Process(ctx, confirmed.ID)
	require.NoError(t, err)

	lapsed, err := env.reservation.Reserve(ctx, "evt_2", "cus_2", 3)
	require.NoError(t, err)

	sw := setupSweeper(t, env)
	released, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	// The confirmed order and its sold tickets are untouched.
	still, err := env.orders.GetOrder(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderConfirmed, still.Status)
	ev1 := env.event(t, "evt_1")
	assert.Equal(t, 8, ev1.AvailableTickets)
	assert.Equal(t, 2, ev1.ReservedTickets)

	// The lapsed order was reclaimed.
	gone, err := env.orders.GetOrder(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, gone.Status)
	ev2 := env.event(t, "evt_2")
	assert.Equal(t, 10, ev2.AvailableTickets)
}

func TestConsumer_ProcessesDispatchedOrders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	consumer := NewConsumer(env.queue, env.orders, env.cfg)
	consumer.Start(ctx)
	defer consumer.Stop()

	require.Eventually(t, func() bool {
		o, err := env.orders.GetOrder(ctx, order.ID)
		return err == nil && o.Status == models.OrderConfirmed
	}, 5*time.Second, 20*time.Millisecond)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
	}
}

func TestConsumer_DropsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	require.NoError(t, env.queue.Send(ctx, "not json", 0, ""))

	consumer := NewConsumer(env.queue, env.orders, env.cfg)

	msgs, err := env.queue.Poll(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// The poison message is acknowledged, not redelivered forever.
	consumer.handle(ctx, msgs[0])

	remaining, err := env.queue.Poll(ctx, 10, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Empty(t, env.queue.DeadLetters())
}
