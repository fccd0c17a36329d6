package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
)

// SQLStore implements the inventory contract on a relational backend
// through dbx. The conditional update is a plain
// `UPDATE ... WHERE id = x AND version = v`; zero rows affected is
// disambiguated into not-found vs. version conflict with a follow-up
// read.
type SQLStore struct {
	db *dbx.DB
}

func NewSQL(db *dbx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLite opens (and creates, if needed) a sqlite-backed store.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := dbx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db}
	if err := s.Bootstrap(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		date TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		total_capacity INTEGER NOT NULL,
		available INTEGER NOT NULL,
		reserved INTEGER NOT NULL DEFAULT 0,
		complimentary INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		status TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		face_value TEXT NOT NULL DEFAULT '0',
		note TEXT NOT NULL DEFAULT '',
		reserved_at TEXT NOT NULL,
		expires_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_event_status ON tickets (event_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_order ON tickets (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_expiry ON tickets (expires_at)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		ticket_ids TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		total_tickets INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_event_status ON orders (event_id, status)`,
}

func (s *SQLStore) Bootstrap(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.NewQuery(stmt).WithContext(ctx).Execute(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type eventRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Date          string `db:"date"`
	Location      string `db:"location"`
	TotalCapacity int    `db:"total_capacity"`
	Available     int    `db:"available"`
	Reserved      int    `db:"reserved"`
	Complimentary int    `db:"complimentary"`
	Version       int64  `db:"version"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

type ticketRow struct {
	ID         string         `db:"id"`
	EventID    string         `db:"event_id"`
	Status     string         `db:"status"`
	CustomerID string         `db:"customer_id"`
	OrderID    string         `db:"order_id"`
	FaceValue  string         `db:"face_value"`
	Note       string         `db:"note"`
	ReservedAt string         `db:"reserved_at"`
	ExpiresAt  sql.NullString `db:"expires_at"`
	Version    int64          `db:"version"`
	CreatedAt  string         `db:"created_at"`
	UpdatedAt  string         `db:"updated_at"`
}

type orderRow struct {
	ID            string         `db:"id"`
	EventID       string         `db:"event_id"`
	CustomerID    string         `db:"customer_id"`
	TicketIDs     string         `db:"ticket_ids"`
	Status        string         `db:"status"`
	TotalTickets  int            `db:"total_tickets"`
	RetryCount    int            `db:"retry_count"`
	FailureReason string         `db:"failure_reason"`
	Version       int64          `db:"version"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	ProcessedAt   sql.NullString `db:"processed_at"`
}

func (r eventRow) toModel() *models.Event {
	return &models.Event{
		ID:                   r.ID,
		Name:                 r.Name,
		Date:                 parseTime(r.Date),
		Location:             r.Location,
		TotalCapacity:        r.TotalCapacity,
		AvailableTickets:     r.Available,
		ReservedTickets:      r.Reserved,
		ComplimentaryTickets: r.Complimentary,
		Version:              r.Version,
		CreatedAt:            parseTime(r.CreatedAt),
		UpdatedAt:            parseTime(r.UpdatedAt),
	}
}

func (r ticketRow) toModel() *models.Ticket {
	face, _ := decimal.NewFromString(r.FaceValue)
	t := &models.Ticket{
		ID:         r.ID,
		EventID:    r.EventID,
		Status:     models.TicketStatus(r.Status),
		CustomerID: r.CustomerID,
		OrderID:    r.OrderID,
		FaceValue:  face,
		Note:       r.Note,
		ReservedAt: parseTime(r.ReservedAt),
		Version:    r.Version,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
	if r.ExpiresAt.Valid {
		t.ReservationExpiresAt = parseTimePtr(r.ExpiresAt.String)
	}
	return t
}

func (r orderRow) toModel() *models.Order {
	o := &models.Order{
		ID:            r.ID,
		EventID:       r.EventID,
		CustomerID:    r.CustomerID,
		TicketIDs:     decodeIDs(r.TicketIDs),
		Status:        models.OrderStatus(r.Status),
		TotalTickets:  r.TotalTickets,
		RetryCount:    r.RetryCount,
		FailureReason: r.FailureReason,
		Version:       r.Version,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.ProcessedAt.Valid {
		o.ProcessedAt = parseTimePtr(r.ProcessedAt.String)
	}
	return o
}

func (s *SQLStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	ev.Version = 1
	_, err := s.db.Insert("events", dbx.Params{
		"id":             ev.ID,
		"name":           ev.Name,
		"date":           fmtTime(ev.Date),
		"location":       ev.Location,
		"total_capacity": ev.TotalCapacity,
		"available":      ev.AvailableTickets,
		"reserved":       ev.ReservedTickets,
		"complimentary":  ev.ComplimentaryTickets,
		"version":        ev.Version,
		"created_at":     fmtTime(ev.CreatedAt),
		"updated_at":     fmtTime(ev.UpdatedAt),
	}).WithContext(ctx).Execute()
	return err
}

func (s *SQLStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := s.db.Select().From("events").Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.NotFound("event", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// casResult maps a zero-rows-affected conditional update into
// not-found or concurrent-modification by re-reading the stored
// version.
func (s *SQLStore) casResult(ctx context.Context, table, entity, id string, expected int64, affected int64) error {
	if affected > 0 {
		return nil
	}
	var stored struct {
		Version int64 `db:"version"`
	}
	err := s.db.Select("version").From(table).Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return status.NotFound(entity, id)
	}
	if err != nil {
		return err
	}
	return status.VersionConflict(entity, id, expected, stored.Version)
}

func (s *SQLStore) UpdateEvent(ctx context.Context, ev *models.Event) error {
	ev.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewQuery(`UPDATE events SET
			name = {:name}, date = {:date}, location = {:location},
			total_capacity = {:total}, available = {:available},
			reserved = {:reserved}, complimentary = {:complimentary},
			version = version + 1, updated_at = {:updated}
		WHERE id = {:id} AND version = {:version}`).
		Bind(dbx.Params{
			"name":          ev.Name,
			"date":          fmtTime(ev.Date),
			"location":      ev.Location,
			"total":         ev.TotalCapacity,
			"available":     ev.AvailableTickets,
			"reserved":      ev.ReservedTickets,
			"complimentary": ev.ComplimentaryTickets,
			"updated":       fmtTime(ev.UpdatedAt),
			"id":            ev.ID,
			"version":       ev.Version,
		}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if err := s.casResult(ctx, "events", "event", ev.ID, ev.Version, affected); err != nil {
		return err
	}
	ev.Version++
	return nil
}

func (s *SQLStore) CreateTickets(ctx context.Context, tickets []*models.Ticket) error {
	return s.db.Transactional(func(tx *dbx.Tx) error {
		for _, t := range tickets {
			t.Version = 1
			params := dbx.Params{
				"id":          t.ID,
				"event_id":    t.EventID,
				"status":      string(t.Status),
				"customer_id": t.CustomerID,
				"order_id":    t.OrderID,
				"face_value":  t.FaceValue.String(),
				"note":        t.Note,
				"reserved_at": fmtTime(t.ReservedAt),
				"version":     t.Version,
				"created_at":  fmtTime(t.CreatedAt),
				"updated_at":  fmtTime(t.UpdatedAt),
			}
			if t.ReservationExpiresAt != nil {
				params["expires_at"] = fmtTime(*t.ReservationExpiresAt)
			}
			if _, err := tx.Insert("tickets", params).WithContext(ctx).Execute(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var row ticketRow
	err := s.db.Select().From("tickets").Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.NotFound("ticket", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *SQLStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	t.UpdatedAt = time.Now().UTC()
	params := dbx.Params{
		"status":      string(t.Status),
		"customer_id": t.CustomerID,
		"order_id":    t.OrderID,
		"note":        t.Note,
		"updated":     fmtTime(t.UpdatedAt),
		"id":          t.ID,
		"version":     t.Version,
	}
	expires := any(nil)
	if t.ReservationExpiresAt != nil {
		expires = fmtTime(*t.ReservationExpiresAt)
	}
	params["expires"] = expires
	res, err := s.db.NewQuery(`UPDATE tickets SET
			status = {:status}, customer_id = {:customer_id},
			order_id = {:order_id}, note = {:note},
			expires_at = {:expires}, version = version + 1,
			updated_at = {:updated}
		WHERE id = {:id} AND version = {:version}`).
		Bind(params).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if err := s.casResult(ctx, "tickets", "ticket", t.ID, t.Version, affected); err != nil {
		return err
	}
	t.Version++
	return nil
}

func (s *SQLStore) CreateOrder(ctx context.Context, o *models.Order) error {
	o.Version = 1
	params := dbx.Params{
		"id":             o.ID,
		"event_id":       o.EventID,
		"customer_id":    o.CustomerID,
		"ticket_ids":     encodeIDs(o.TicketIDs),
		"status":         string(o.Status),
		"total_tickets":  o.TotalTickets,
		"retry_count":    o.RetryCount,
		"failure_reason": o.FailureReason,
		"version":        o.Version,
		"created_at":     fmtTime(o.CreatedAt),
		"updated_at":     fmtTime(o.UpdatedAt),
	}
	if o.ProcessedAt != nil {
		params["processed_at"] = fmtTime(*o.ProcessedAt)
	}
	_, err := s.db.Insert("orders", params).WithContext(ctx).Execute()
	return err
}

func (s *SQLStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.Select().From("orders").Where(dbx.HashExp{"id": id}).
		WithContext(ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *SQLStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	o.UpdatedAt = time.Now().UTC()
	processed := any(nil)
	if o.ProcessedAt != nil {
		processed = fmtTime(*o.ProcessedAt)
	}
	res, err := s.db.NewQuery(`UPDATE orders SET
			status = {:status}, retry_count = {:retry_count},
			failure_reason = {:failure_reason},
			processed_at = {:processed}, version = version + 1,
			updated_at = {:updated}
		WHERE id = {:id} AND version = {:version}`).
		Bind(dbx.Params{
			"status":         string(o.Status),
			"retry_count":    o.RetryCount,
			"failure_reason": o.FailureReason,
			"processed":      processed,
			"updated":        fmtTime(o.UpdatedAt),
			"id":             o.ID,
			"version":        o.Version,
		}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if err := s.casResult(ctx, "orders", "order", o.ID, o.Version, affected); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (s *SQLStore) TicketsByEventStatus(ctx context.Context, eventID string, st models.TicketStatus) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.Select().From("tickets").
		Where(dbx.HashExp{"event_id": eventID, "status": string(st)}).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, err
	}
	return ticketRowsToModels(rows), nil
}

func (s *SQLStore) TicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.Select().From("tickets").
		Where(dbx.HashExp{"order_id": orderID}).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, err
	}
	return ticketRowsToModels(rows), nil
}

func (s *SQLStore) TicketsExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.Select().From("tickets").
		Where(dbx.NewExp("status = {:status} AND expires_at IS NOT NULL AND expires_at < {:deadline}",
			dbx.Params{"status": string(models.TicketReserved), "deadline": fmtTime(deadline)})).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, err
	}
	return ticketRowsToModels(rows), nil
}

func (s *SQLStore) OrdersByStatus(ctx context.Context, st models.OrderStatus) ([]*models.Order, error) {
	var rows []orderRow
	err := s.db.Select().From("orders").
		Where(dbx.HashExp{"status": string(st)}).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, err
	}
	return orderRowsToModels(rows), nil
}

func (s *SQLStore) OrdersByEventStatus(ctx context.Context, eventID string, st models.OrderStatus) ([]*models.Order, error) {
	var rows []orderRow
	err := s.db.Select().From("orders").
		Where(dbx.HashExp{"event_id": eventID, "status": string(st)}).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, err
	}
	return orderRowsToModels(rows), nil
}

func encodeIDs(ids []string) string {
	data, _ := json.Marshal(ids)
	return string(data)
}

func decodeIDs(s string) []string {
	var ids []string
	_ = json.Unmarshal([]byte(s), &ids)
	return ids
}

func ticketRowsToModels(rows []ticketRow) []*models.Ticket {
	out := make([]*models.Ticket, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func orderRowsToModels(rows []orderRow) []*models.Order {
	out := make([]*models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}
