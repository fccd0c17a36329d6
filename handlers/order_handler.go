package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-inventory/services"
)

type OrderHandler struct {
	orders *services.OrderService
}

func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// GetOrder - order status, retry count and failure reason
func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.orders.GetOrder(c.Request().Context(), c.PathParam("orderId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

// GetOrderTickets - the tickets allocated to an order
func (h *OrderHandler) GetOrderTickets(c echo.Context) error {
	tickets, err := h.orders.OrderTickets(c.Request().Context(), c.PathParam("orderId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tickets)
}
