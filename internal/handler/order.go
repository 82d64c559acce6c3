package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-payments/internal/dto"
	"storefront-payments/internal/service"
)

const headerIdempotencyKey = "Idempotency-Key"

type OrderHandler struct {
	orders service.OrderService
}

func NewOrderHandler(orders service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Create pre-creates a pending order from the cart. Repeating a request with
// the same idempotency key returns the same order.
func (h *OrderHandler) Create(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}

	var req dto.CreateOrderRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	key := c.Request().Header.Get(headerIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	order, err := h.orders.CreatePendingOrder(c.Request().Context(), userID, key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, dto.NewOrderResponse(order))
}

func (h *OrderHandler) Get(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}

	order, err := h.orders.GetOrder(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}
