package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// RedisStore persists entities as {data, version} hashes and performs
// the version-conditional update inside a Lua script so the check and
// the write commit atomically. Ticket batch creation commits its
// records and index entries in one script; elsewhere secondary index
// sets are maintained after the record commit, and readers treat them
// as hints to re-verify against the record itself.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

const createRecordScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', 1)
return 1
`

// createTicketBatchScript checks every ticket key before writing any
// record, so a batch commits all tickets and their index entries or
// nothing. KEYS holds the record keys with the expiry index key last;
// ARGV carries five values per ticket: id, payload, event index key,
// order index key (may be empty) and expiry score (may be empty).
const createTicketBatchScript = `
local n = #KEYS - 1
for i = 1, n do
  if redis.call('EXISTS', KEYS[i]) == 1 then
    return 0
  end
end
for i = 1, n do
  local a = (i - 1) * 5
  local id = ARGV[a + 1]
  redis.call('HSET', KEYS[i], 'data', ARGV[a + 2], 'version', 1)
  redis.call('SADD', ARGV[a + 3], id)
  if ARGV[a + 4] ~= '' then
    redis.call('SADD', ARGV[a + 4], id)
  end
  if ARGV[a + 5] ~= '' then
    redis.call('ZADD', KEYS[n + 1], ARGV[a + 5], id)
  end
end
return 1
`

// casUpdateScript returns {-1} when the record is missing, {0, stored}
// on a version mismatch, and {1, next} after a committed write.
const casUpdateScript = `
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return {-1, 0}
end
if tonumber(v) ~= tonumber(ARGV[1]) then
  return {0, tonumber(v)}
end
local next = tonumber(ARGV[1]) + 1
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', next)
return {1, next}
`

func eventKey(id string) string  { return "inv:event:" + id }
func ticketKey(id string) string { return "inv:ticket:" + id }
func orderKey(id string) string  { return "inv:order:" + id }

func ticketEventIdx(eventID string, st models.TicketStatus) string {
	return fmt.Sprintf("inv:idx:ticket:event:%s:%s", eventID, st)
}

func ticketOrderIdx(orderID string) string {
	return "inv:idx:ticket:order:" + orderID
}

const ticketExpiryIdx = "inv:idx:ticket:expiry"

func orderStatusIdx(st models.OrderStatus) string {
	return fmt.Sprintf("inv:idx:order:status:%s", st)
}

func orderEventIdx(eventID string, st models.OrderStatus) string {
	return fmt.Sprintf("inv:idx:order:event:%s:%s", eventID, st)
}

// Wire shapes, kept separate from the domain entities and mapped
// explicitly at this boundary.

type eventRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Date          string `json:"date"`
	Location      string `json:"location"`
	TotalCapacity int    `json:"total_capacity"`
	Available     int    `json:"available"`
	Reserved      int    `json:"reserved"`
	Complimentary int    `json:"complimentary"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type ticketRecord struct {
	ID         string `json:"id"`
	EventID    string `json:"event_id"`
	Status     string `json:"status"`
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id,omitempty"`
	FaceValue  string `json:"face_value"`
	Note       string `json:"note,omitempty"`
	ReservedAt string `json:"reserved_at"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type orderRecord struct {
	ID            string   `json:"id"`
	EventID       string   `json:"event_id"`
	CustomerID    string   `json:"customer_id"`
	TicketIDs     []string `json:"ticket_ids"`
	Status        string   `json:"status"`
	TotalTickets  int      `json:"total_tickets"`
	RetryCount    int      `json:"retry_count"`
	FailureReason string   `json:"failure_reason,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	ProcessedAt   string   `json:"processed_at,omitempty"`
}

// Fixed-width nanoseconds so stored timestamps order correctly under
// string comparison (the sqlite store compares expires_at textually).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func toEventRecord(ev *models.Event) eventRecord {
	return eventRecord{
		ID:            ev.ID,
		Name:          ev.Name,
		Date:          fmtTime(ev.Date),
		Location:      ev.Location,
		TotalCapacity: ev.TotalCapacity,
		Available:     ev.AvailableTickets,
		Reserved:      ev.ReservedTickets,
		Complimentary: ev.ComplimentaryTickets,
		CreatedAt:     fmtTime(ev.CreatedAt),
		UpdatedAt:     fmtTime(ev.UpdatedAt),
	}
}

func fromEventRecord(r eventRecord, version int64) *models.Event {
	return &models.Event{
		ID:                   r.ID,
		Name:                 r.Name,
		Date:                 parseTime(r.Date),
		Location:             r.Location,
		TotalCapacity:        r.TotalCapacity,
		AvailableTickets:     r.Available,
		ReservedTickets:      r.Reserved,
		ComplimentaryTickets: r.Complimentary,
		Version:              version,
		CreatedAt:            parseTime(r.CreatedAt),
		UpdatedAt:            parseTime(r.UpdatedAt),
	}
}

func toTicketRecord(t *models.Ticket) ticketRecord {
	r := ticketRecord{
		ID:         t.ID,
		EventID:    t.EventID,
		Status:     string(t.Status),
		CustomerID: t.CustomerID,
		OrderID:    t.OrderID,
		FaceValue:  t.FaceValue.String(),
		Note:       t.Note,
		ReservedAt: fmtTime(t.ReservedAt),
		CreatedAt:  fmtTime(t.CreatedAt),
		UpdatedAt:  fmtTime(t.UpdatedAt),
	}
	if t.ReservationExpiresAt != nil {
		r.ExpiresAt = fmtTime(*t.ReservationExpiresAt)
	}
	return r
}

func fromTicketRecord(r ticketRecord, version int64) *models.Ticket {
	face, _ := decimal.NewFromString(r.FaceValue)
	return &models.Ticket{
		ID:                   r.ID,
		EventID:              r.EventID,
		Status:               models.TicketStatus(r.Status),
		CustomerID:           r.CustomerID,
		OrderID:              r.OrderID,
		FaceValue:            face,
		Note:                 r.Note,
		ReservedAt:           parseTime(r.ReservedAt),
		ReservationExpiresAt: parseTimePtr(r.ExpiresAt),
		Version:              version,
		CreatedAt:            parseTime(r.CreatedAt),
		UpdatedAt:            parseTime(r.UpdatedAt),
	}
}

func toOrderRecord(o *models.Order) orderRecord {
	r := orderRecord{
		ID:            o.ID,
		EventID:       o.EventID,
		CustomerID:    o.CustomerID,
		TicketIDs:     o.TicketIDs,
		Status:        string(o.Status),
		TotalTickets:  o.TotalTickets,
		RetryCount:    o.RetryCount,
		FailureReason: o.FailureReason,
		CreatedAt:     fmtTime(o.CreatedAt),
		UpdatedAt:     fmtTime(o.UpdatedAt),
	}
	if o.ProcessedAt != nil {
		r.ProcessedAt = fmtTime(*o.ProcessedAt)
	}
	return r
}

func fromOrderRecord(r orderRecord, version int64) *models.Order {
	return &models.Order{
		ID:            r.ID,
		EventID:       r.EventID,
		CustomerID:    r.CustomerID,
		TicketIDs:     r.TicketIDs,
		Status:        models.OrderStatus(r.Status),
		TotalTickets:  r.TotalTickets,
		RetryCount:    r.RetryCount,
		FailureReason: r.FailureReason,
		Version:       version,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
		ProcessedAt:   parseTimePtr(r.ProcessedAt),
	}
}

func (s *RedisStore) create(ctx context.Context, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	created, err := s.rdb.Eval(ctx, createRecordScript, []string{key}, data).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return status.Validation("record %s already exists", key)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string, record any) (int64, error) {
	vals, err := s.rdb.HMGet(ctx, key, "data", "version").Result()
	if err != nil {
		return 0, err
	}
	data, ok := vals[0].(string)
	if !ok {
		return 0, redis.Nil
	}
	if err := json.Unmarshal([]byte(data), record); err != nil {
		return 0, err
	}
	version, _ := strconv.ParseInt(vals[1].(string), 10, 64)
	return version, nil
}

// casUpdate commits record at key iff the stored version still equals
// expected. Returns the committed version.
func (s *RedisStore) casUpdate(ctx context.Context, entity, key, id string, expected int64, record any) (int64, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	res, err := s.rdb.Eval(ctx, casUpdateScript, []string{key}, expected, data).Slice()
	if err != nil {
		return 0, err
	}
	outcome, _ := res[0].(int64)
	stored, _ := res[1].(int64)
	switch outcome {
	case -1:
		return 0, status.NotFound(entity, id)
	case 0:
		return 0, status.VersionConflict(entity, id, expected, stored)
	default:
		return stored, nil
	}
}

func (s *RedisStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	ev.Version = 1
	return s.create(ctx, eventKey(ev.ID), toEventRecord(ev))
}

func (s *RedisStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var r eventRecord
	version, err := s.load(ctx, eventKey(id), &r)
	if err == redis.Nil {
		return nil, status.NotFound("event", id)
	}
	if err != nil {
		return nil, err
	}
	return fromEventRecord(r, version), nil
}

func (s *RedisStore) UpdateEvent(ctx context.Context, ev *models.Event) error {
	ev.UpdatedAt = time.Now().UTC()
	next, err := s.casUpdate(ctx, "event", eventKey(ev.ID), ev.ID, ev.Version, toEventRecord(ev))
	if err != nil {
		return err
	}
	ev.Version = next
	return nil
}

func (s *RedisStore) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	keys := make([]string, 0, len(tickets)+1)
	args := make([]any, 0, len(tickets)*5)
	for _, t := range tickets {
		t.Version = 1
		data, err := json.Marshal(toTicketRecord(t))
		if err != nil {
			return err
		}
		orderIdx := ""
		if t.OrderID != "" {
			orderIdx = ticketOrderIdx(t.OrderID)
		}
		score := ""
		if t.ReservationExpiresAt != nil {
			score = strconv.FormatInt(t.ReservationExpiresAt.Unix(), 10)
		}
		keys = append(keys, ticketKey(t.ID))
		args = append(args, t.ID, string(data), ticketEventIdx(t.EventID, t.Status), orderIdx, score)
	}
	keys = append(keys, ticketExpiryIdx)

	created, err := s.rdb.Eval(ctx, createTicketBatchScript, keys, args...).Int()
	if err != nil {
		return err
	}
	if created == 0 {
		return status.Validation("ticket batch contains an existing id")
	}
	return nil
}

func (s *RedisStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var r ticketRecord
	version, err := s.load(ctx, ticketKey(id), &r)
	if err == redis.Nil {
		return nil, status.NotFound("ticket", id)
	}
	if err != nil {
		return nil, err
	}
	return fromTicketRecord(r, version), nil
}

func (s *RedisStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	prev, err := s.GetTicket(ctx, t.ID)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	next, err := s.casUpdate(ctx, "ticket", ticketKey(t.ID), t.ID, t.Version, toTicketRecord(t))
	if err != nil {
		return err
	}
	t.Version = next

	pipe := s.rdb.Pipeline()
	if prev.Status != t.Status {
		pipe.SRem(ctx, ticketEventIdx(t.EventID, prev.Status), t.ID)
		pipe.SAdd(ctx, ticketEventIdx(t.EventID, t.Status), t.ID)
	}
	if t.Status != models.TicketReserved {
		pipe.ZRem(ctx, ticketExpiryIdx, t.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateOrder(ctx context.Context, o *models.Order) error {
	o.Version = 1
	if err := s.create(ctx, orderKey(o.ID), toOrderRecord(o)); err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, orderStatusIdx(o.Status), o.ID)
	pipe.SAdd(ctx, orderEventIdx(o.EventID, o.Status), o.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var r orderRecord
	version, err := s.load(ctx, orderKey(id), &r)
	if err == redis.Nil {
		return nil, status.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return fromOrderRecord(r, version), nil
}

func (s *RedisStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	prev, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	o.UpdatedAt = time.Now().UTC()
	next, err := s.casUpdate(ctx, "order", orderKey(o.ID), o.ID, o.Version, toOrderRecord(o))
	if err != nil {
		return err
	}
	o.Version = next

	if prev.Status != o.Status {
		pipe := s.rdb.Pipeline()
		pipe.SRem(ctx, orderStatusIdx(prev.Status), o.ID)
		pipe.SRem(ctx, orderEventIdx(o.EventID, prev.Status), o.ID)
		pipe.SAdd(ctx, orderStatusIdx(o.Status), o.ID)
		pipe.SAdd(ctx, orderEventIdx(o.EventID, o.Status), o.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) ticketsByIDs(ctx context.Context, ids []string) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, id := range ids {
		t, err := s.GetTicket(ctx, id)
		if err != nil {
			if status.Is(err, status.KindNotFound) {
				continue // stale index entry
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) TicketsByEventStatus(ctx context.Context, eventID string, st models.TicketStatus) ([]*models.Ticket, error) {
	ids, err := s.rdb.SMembers(ctx, ticketEventIdx(eventID, st)).Result()
	if err != nil {
		return nil, err
	}
	tickets, err := s.ticketsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []*models.Ticket
	for _, t := range tickets {
		if t.Status == st {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RedisStore) TicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	ids, err := s.rdb.SMembers(ctx, ticketOrderIdx(orderID)).Result()
	if err != nil {
		return nil, err
	}
	return s.ticketsByIDs(ctx, ids)
}

func (s *RedisStore) TicketsExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.Ticket, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, ticketExpiryIdx, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(deadline.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	tickets, err := s.ticketsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []*models.Ticket
	for _, t := range tickets {
		if t.Status == models.TicketReserved && t.ReservationExpiresAt != nil && t.ReservationExpiresAt.Before(deadline) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RedisStore) ordersByIdx(ctx context.Context, idxKey string, st models.OrderStatus) ([]*models.Order, error) {
	ids, err := s.rdb.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, err
	}
	var out []*models.Order
	for _, id := range ids {
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			if status.Is(err, status.KindNotFound) {
				continue
			}
			return nil, err
		}
		if o.Status == st {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *RedisStore) OrdersByStatus(ctx context.Context, st models.OrderStatus) ([]*models.Order, error) {
	return s.ordersByIdx(ctx, orderStatusIdx(st), st)
}

func (s *RedisStore) OrdersByEventStatus(ctx context.Context, eventID string, st models.OrderStatus) ([]*models.Order, error) {
	return s.ordersByIdx(ctx, orderEventIdx(eventID, st), st)
}
