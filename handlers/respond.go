package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-inventory/internal/status"
)

// writeError maps a failure kind to an HTTP status and a stable JSON
// shape. Unknown errors are masked as 500 with no internals leaked.
func writeError(c echo.Context, err error) error {
	kind := status.KindOf(err)
	code := http.StatusInternalServerError
	msg := "internal error"

	switch kind {
	case status.KindNotFound:
		code, msg = http.StatusNotFound, err.Error()
	case status.KindValidation:
		code, msg = http.StatusBadRequest, err.Error()
	case status.KindInsufficientInventory:
		code, msg = http.StatusConflict, err.Error()
	case status.KindConcurrentModification:
		// The caller can simply retry.
		code, msg = http.StatusConflict, err.Error()
	case status.KindInvalidStateTransition:
		code, msg = http.StatusConflict, err.Error()
	case status.KindReservationExpired:
		code, msg = http.StatusGone, err.Error()
	}

	return c.JSON(code, map[string]string{
		"error":   kind.String(),
		"message": msg,
	})
}
