package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/config"
	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/queue"
	"ticket-inventory/store"
)

func testConfig() *config.Config {
	return &config.Config{
		ReservationTimeout:    10 * time.Minute,
		MaxTicketsPerOrder:    10,
		CASMaxAttempts:        5,
		CASBackoffBase:        time.Millisecond,
		CASBackoffMax:         5 * time.Millisecond,
		MaxConfirmRetries:     3,
		RetryBaseDelaySeconds: 5,
		ConsumerConcurrency:   2,
		PollWaitSeconds:       1,
		VisibilitySeconds:     30,
		QueueMaxReceiveCount:  5,
		QueueDedupWindow:      5 * time.Minute,
		SweepInterval:         time.Minute,
		SweepTimeout:          30 * time.Second,
	}
}

type testEnv struct {
	cfg         *config.Config
	store       *store.MemoryStore
	queue       *queue.MemoryQueue
	dispatcher  *OrderDispatcher
	reservation *ReservationService
	orders      *OrderService
}

func setupEnv(t *testing.T, confirmer Confirmer) *testEnv {
	t.Helper()
	cfg := testConfig()
	st := store.NewMemory()
	q := queue.NewMemoryQueue(cfg.QueueMaxReceiveCount, cfg.QueueDedupWindow)
	d := NewOrderDispatcher(q)
	rs := NewReservationService(st, d, cfg)
	os := NewOrderService(st, rs, d, confirmer, nil, cfg)
	return &testEnv{cfg: cfg, store: st, queue: q, dispatcher: d, reservation: rs, orders: os}
}

func (e *testEnv) createEvent(t *testing.T, id string, capacity int) {
	t.Helper()
	ev, err := models.NewEvent(id, "Test Event", "Arena", time.Now().Add(24*time.Hour), capacity)
	require.NoError(t, err)
	require.NoError(t, e.store.CreateEvent(context.Background(), ev))
}

func (e *testEnv) event(t *testing.T, id string) *models.Event {
	t.Helper()
	ev, err := e.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, ev.CheckCounters())
	return ev
}

func TestReservationService_Reserve(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 3)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, 3, order.TotalTickets)
	assert.Len(t, order.TicketIDs, 3)
	assert.Equal(t, 0, order.RetryCount)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 7, ev.AvailableTickets)
	assert.Equal(t, 3, ev.ReservedTickets)
	assert.EqualValues(t, 2, ev.Version)

	tickets, err := env.store.TicketsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	for _, tk := range tickets {
		assert.Equal(t, models.TicketReserved, tk.Status)
		assert.Equal(t, "cus_1", tk.CustomerID)
		require.NotNil(t, tk.ReservationExpiresAt)
	}

	// One confirmation job was enqueued for this order.
	msgs, err := env.queue.Poll(ctx, 10, 0, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var job orderJob
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &job))
	assert.Equal(t, order.ID, job.OrderID)
	assert.Equal(t, 0, job.Attempt)
}

func TestReservationService_Reserve_Validation(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	_, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 0)
	assert.True(t, status.Is(err, status.KindValidation))

	_, err = env.reservation.Reserve(ctx, "evt_1", "cus_1", 11)
	assert.True(t, status.Is(err, status.KindValidation))

	_, err = env.reservation.Reserve(ctx, "evt_1", "", 1)
	assert.True(t, status.Is(err, status.KindValidation))

	_, err = env.reservation.Reserve(ctx, "evt_missing", "cus_1", 1)
	assert.True(t, status.Is(err, status.KindNotFound))

	// Max quantity is inclusive.
	_, err = env.reservation.Reserve(ctx, "evt_1", "cus_1", 10)
	assert.NoError(t, err)
}

func TestReservationService_Reserve_InsufficientInventory(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 5)

	_, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 3)
	require.NoError(t, err)

	_, err = env.reservation.Reserve(ctx, "evt_1", "cus_2", 3)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindInsufficientInventory))

	var se *status.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Requested)
	assert.Equal(t, 2, se.Available)

	// The failed attempt left the counters alone.
	ev := env.event(t, "evt_1")
	assert.Equal(t, 2, ev.AvailableTickets)
	assert.Equal(t, 3, ev.ReservedTickets)
}

func TestReservationService_ReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 3)
	require.NoError(t, err)

	released, err := env.reservation.Release(ctx, order.TicketIDs, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
	assert.Equal(t, 0, ev.ReservedTickets)

	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketExpired, tk.Status)
	}

	// Releasing the same tickets again credits nothing back.
	released, err = env.reservation.Release(ctx, order.TicketIDs, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	ev = env.event(t, "evt_1")
	assert.Equal(t, 10, ev.AvailableTickets)
}

func TestReservationService_Sell(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	require.NoError(t, env.reservation.Sell(ctx, order.TicketIDs, order.ID))
	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
	}

	// Selling changes no counters: the inventory was consumed at
	// reserve time.
	ev := env.event(t, "evt_1")
	assert.Equal(t, 8, ev.AvailableTickets)
	assert.Equal(t, 2, ev.ReservedTickets)

	// Redelivered confirmation sells again without effect.
	require.NoError(t, env.reservation.Sell(ctx, order.TicketIDs, order.ID))

	// A different order cannot claim these tickets.
	err = env.reservation.Sell(ctx, order.TicketIDs, "ord_other")
	assert.True(t, status.Is(err, status.KindInvalidStateTransition))
}

func TestReservationService_Sell_RejectsLapsedHold(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	env.reservation.now = func() time.Time {
		return time.Now().UTC().Add(env.cfg.ReservationTimeout + time.Minute)
	}

	err = env.reservation.Sell(ctx, order.TicketIDs, order.ID)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindReservationExpired))

	// Nothing was sold.
	for _, id := range order.TicketIDs {
		tk, err := env.store.GetTicket(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketReserved, tk.Status)
	}
}

func TestReservationService_Sell_RejectsExpiredTicket(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 10)

	order, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
	require.NoError(t, err)

	_, err = env.reservation.Release(ctx, order.TicketIDs[:1], "evt_1")
	require.NoError(t, err)

	err = env.reservation.Sell(ctx, order.TicketIDs, order.ID)
	assert.True(t, status.Is(err, status.KindInvalidStateTransition))

	// The validate-all-first pass kept the untouched ticket reserved.
	tk, err := env.store.GetTicket(ctx, order.TicketIDs[1])
	require.NoError(t, err)
	assert.Equal(t, models.TicketReserved, tk.Status)
}

func TestReservationService_ConcurrentReserve_NoOversell(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 20)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reservation.Reserve(ctx, "evt_1", "cus_1", 2)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		// Under heavy contention the bounded CAS budget may give up;
		// that surfaces as a retriable conflict, never as corruption.
		assert.True(t, status.Is(err, status.KindConcurrentModification))
	}

	ev := env.event(t, "evt_1")
	assert.Equal(t, succeeded*2, ev.ReservedTickets)
	assert.Equal(t, 20-succeeded*2, ev.AvailableTickets)
	assert.GreaterOrEqual(t, ev.AvailableTickets, 0)
}

func TestReservationService_AssignComplimentary(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, AutoApprove())
	env.createEvent(t, "evt_1", 2)

	tk, err := env.reservation.AssignComplimentary(ctx, "evt_1", "cus_vip", "sponsor allocation")
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, tk.Status)
	assert.Empty(t, tk.OrderID)
	assert.Nil(t, tk.ReservationExpiresAt)
	assert.Equal(t, "sponsor allocation", tk.Note)

	ev := env.event(t, "evt_1")
	assert.Equal(t, 1, ev.AvailableTickets)
	assert.Equal(t, 1, ev.ComplimentaryTickets)

	_, err = env.reservation.AssignComplimentary(ctx, "evt_1", "cus_vip2", "press")
	require.NoError(t, err)

	// Inventory exhausted.
	_, err = env.reservation.AssignComplimentary(ctx, "evt_1", "cus_vip3", "press")
	assert.True(t, status.Is(err, status.KindInsufficientInventory))
}

func TestOrderDispatcher_Validation(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(5, 5*time.Minute)
	d := NewOrderDispatcher(q)

	assert.Error(t, d.Dispatch(ctx, "", 0, 0))
	assert.Error(t, d.Dispatch(ctx, "ord_1", 0, queue.MaxDelaySeconds+1))

	// Duplicate initial dispatches collapse; a retry dispatch does not.
	require.NoError(t, d.Dispatch(ctx, "ord_1", 0, 0))
	require.NoError(t, d.Dispatch(ctx, "ord_1", 0, 0))
	require.NoError(t, d.Dispatch(ctx, "ord_1", 1, 0))

	msgs, err := q.Poll(ctx, 10, 0, 30)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
