package store

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

func TestRedisStore_GetEvent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedis(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := newTestEvent("evt_1", 100)
	ev.CreatedAt = created
	ev.UpdatedAt = created
	data, err := json.Marshal(toEventRecord(ev))
	require.NoError(t, err)

	mock.ExpectHMGet(eventKey("evt_1"), "data", "version").
		SetVal([]interface{}{string(data), "3"})

	loaded, err := st.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", loaded.ID)
	assert.Equal(t, 100, loaded.AvailableTickets)
	assert.EqualValues(t, 3, loaded.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetEvent_Missing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedis(db)

	mock.ExpectHMGet(eventKey("evt_missing"), "data", "version").
		SetVal([]interface{}{nil, nil})

	_, err := st.GetEvent(context.Background(), "evt_missing")
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CreateEvent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedis(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := newTestEvent("evt_1", 50)
	ev.CreatedAt = created
	ev.UpdatedAt = created
	data, err := json.Marshal(toEventRecord(ev))
	require.NoError(t, err)

	mock.ExpectEval(createRecordScript, []string{eventKey("evt_1")}, data).SetVal(int64(1))
	require.NoError(t, st.CreateEvent(ctx, ev))
	assert.EqualValues(t, 1, ev.Version)

	// A second create of the same id is rejected by the script.
	mock.ExpectEval(createRecordScript, []string{eventKey("evt_1")}, data).SetVal(int64(0))
	err = st.CreateEvent(ctx, ev)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindValidation))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CreateTickets_SingleScript(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedis(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(10 * time.Minute)

	var (
		keys    []string
		args    []interface{}
		tickets []*models.Ticket
	)
	for _, id := range []string{"tkt_1", "tkt_2"} {
		tk := &models.Ticket{
			ID:                   id,
			EventID:              "evt_1",
			Status:               models.TicketReserved,
			CustomerID:           "cus_1",
			OrderID:              "ord_1",
			ReservedAt:           now,
			ReservationExpiresAt: &exp,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		data, err := json.Marshal(toTicketRecord(tk))
		require.NoError(t, err)
		keys = append(keys, ticketKey(id))
		args = append(args, id, string(data),
			ticketEventIdx("evt_1", models.TicketReserved),
			ticketOrderIdx("ord_1"),
			strconv.FormatInt(exp.Unix(), 10))
		tickets = append(tickets, tk)
	}
	keys = append(keys, ticketExpiryIdx)

	// The whole batch, records and index entries, goes through one
	// script call.
	mock.ExpectEval(createTicketBatchScript, keys, args...).SetVal(int64(1))
	require.NoError(t, st.CreateTickets(ctx, tickets))
	assert.EqualValues(t, 1, tickets[0].Version)

	// An id collision anywhere in the batch commits nothing.
	mock.ExpectEval(createTicketBatchScript, keys, args...).SetVal(int64(0))
	err := st.CreateTickets(ctx, tickets)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.KindValidation))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetOrder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	st := NewRedis(db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := orderRecord{
		ID: "ord_1", EventID: "evt_1", CustomerID: "cus_1",
		TicketIDs: []string{"tkt_1", "tkt_2"}, Status: "pending",
		TotalTickets: 2, CreatedAt: fmtTime(now), UpdatedAt: fmtTime(now),
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)

	mock.ExpectHMGet(orderKey("ord_1"), "data", "version").
		SetVal([]interface{}{string(data), "1"})

	loaded, err := st.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tkt_1", "tkt_2"}, loaded.TicketIDs)
	assert.Nil(t, loaded.ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
