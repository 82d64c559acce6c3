package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-payments/internal/dto"
	"storefront-payments/internal/model"
	"storefront-payments/internal/service"
)

type AdminHandler struct {
	settings service.SettingsService
}

func NewAdminHandler(settings service.SettingsService) *AdminHandler {
	return &AdminHandler{settings: settings}
}

func (h *AdminHandler) GetShipping(c echo.Context) error {
	settings, err := h.settings.Shipping(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, shippingResponse(settings))
}

func (h *AdminHandler) UpdateShipping(c echo.Context) error {
	var req dto.ShippingSettingsRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	settings, err := h.settings.UpdateShipping(c.Request().Context(), model.ShippingSettings{
		FreeThreshold: *req.FreeShippingThreshold,
		StandardRate:  *req.StandardShippingRate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, shippingResponse(settings))
}

func shippingResponse(s model.ShippingSettings) *dto.ShippingSettingsResponse {
	return &dto.ShippingSettingsResponse{
		FreeShippingThreshold: s.FreeThreshold,
		StandardShippingRate:  s.StandardRate,
	}
}
