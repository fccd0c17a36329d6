package status

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it instead of
// matching message strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindInsufficientInventory
	KindConcurrentModification
	KindInvalidStateTransition
	KindReservationExpired
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_failure"
	case KindInsufficientInventory:
		return "insufficient_inventory"
	case KindConcurrentModification:
		return "concurrent_modification"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindReservationExpired:
		return "reservation_expired"
	default:
		return "unknown"
	}
}

// Error carries the failure kind plus the structured fields a caller
// needs to decide whether retrying at the application boundary makes
// sense.
type Error struct {
	Kind   Kind
	Entity string // event, ticket, order
	ID     string
	Msg    string

	ExpectedVersion int64
	ActualVersion   int64
	Requested       int
	Available       int
	FromState       string
	ToState         string
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Msg: "does not exist"}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientInventory(eventID string, requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientInventory,
		Entity:    "event",
		ID:        eventID,
		Msg:       fmt.Sprintf("requested %d tickets, %d available", requested, available),
		Requested: requested,
		Available: available,
	}
}

func VersionConflict(entity, id string, expected, actual int64) *Error {
	return &Error{
		Kind:            KindConcurrentModification,
		Entity:          entity,
		ID:              id,
		Msg:             fmt.Sprintf("version %d expected, %d stored", expected, actual),
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

func RetriesExhausted(entity, id string, attempts int) *Error {
	return &Error{
		Kind:   KindConcurrentModification,
		Entity: entity,
		ID:     id,
		Msg:    fmt.Sprintf("gave up after %d contended attempts", attempts),
	}
}

func InvalidTransition(entity, id, from, to string) *Error {
	return &Error{
		Kind:      KindInvalidStateTransition,
		Entity:    entity,
		ID:        id,
		Msg:       fmt.Sprintf("cannot move from %s to %s", from, to),
		FromState: from,
		ToState:   to,
	}
}

func ReservationExpired(orderID string) *Error {
	return &Error{
		Kind:   KindReservationExpired,
		Entity: "order",
		ID:     orderID,
		Msg:    "reservation hold lapsed before confirmation",
	}
}
