package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/services"
	"ticket-inventory/store"
	"ticket-inventory/utils"
)

type EventHandler struct {
	store       store.Store
	reservation *services.ReservationService
}

func NewEventHandler(st store.Store, reservation *services.ReservationService) *EventHandler {
	return &EventHandler{store: st, reservation: reservation}
}

// CreateEvent - register an event with its full capacity available
func (h *EventHandler) CreateEvent(c echo.Context) error {
	var req struct {
		Name          string    `json:"name"`
		Date          time.Time `json:"date"`
		Location      string    `json:"location"`
		TotalCapacity int       `json:"total_capacity"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, status.Validation("invalid request body"))
	}

	id, err := utils.NewID("evt")
	if err != nil {
		return writeError(c, err)
	}
	event, err := models.NewEvent(id, req.Name, req.Location, req.Date, req.TotalCapacity)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.store.CreateEvent(c.Request().Context(), event); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, event)
}

// GetEvent - current inventory snapshot for one event
func (h *EventHandler) GetEvent(c echo.Context) error {
	event, err := h.store.GetEvent(c.Request().Context(), c.PathParam("eventId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, event)
}

// Reserve - place a hold and enqueue asynchronous confirmation
func (h *EventHandler) Reserve(c echo.Context) error {
	var req struct {
		CustomerID string `json:"customer_id"`
		Quantity   int    `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, status.Validation("invalid request body"))
	}

	order, err := h.reservation.Reserve(c.Request().Context(), c.PathParam("eventId"), req.CustomerID, req.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, order)
}

// AssignComplimentary - hand out one free ticket outside the order flow
func (h *EventHandler) AssignComplimentary(c echo.Context) error {
	var req struct {
		CustomerID string `json:"customer_id"`
		Reason     string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, status.Validation("invalid request body"))
	}

	ticket, err := h.reservation.AssignComplimentary(c.Request().Context(), c.PathParam("eventId"), req.CustomerID, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, ticket)
}
