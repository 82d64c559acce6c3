package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/dto"
	"storefront-payments/internal/service"
)

type CartHandler struct {
	cart service.CartService
}

func NewCartHandler(cart service.CartService) *CartHandler {
	return &CartHandler{cart: cart}
}

func (h *CartHandler) View(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}

	snapshot, err := h.cart.View(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.NewCartResponse(snapshot))
}

func (h *CartHandler) AddItem(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}

	var req dto.AddCartItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	snapshot, err := h.cart.AddItem(c.Request().Context(), userID, req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.NewCartResponse(snapshot))
}

func (h *CartHandler) UpdateItem(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}
	productID := c.Param("productId")
	if productID == "" {
		return apperr.Validation("productId is required")
	}

	var req dto.UpdateCartItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	snapshot, err := h.cart.UpdateQuantity(c.Request().Context(), userID, productID, req.Variant, req.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.NewCartResponse(snapshot))
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	userID, err := actingUser(c, "")
	if err != nil {
		return err
	}
	productID := c.Param("productId")
	if productID == "" {
		return apperr.Validation("productId is required")
	}

	snapshot, err := h.cart.RemoveItem(c.Request().Context(), userID, productID, c.QueryParam("variant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.NewCartResponse(snapshot))
}
