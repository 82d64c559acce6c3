package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"storefront-payments/internal/dto"
	"storefront-payments/internal/service"
)

type CheckoutHandler struct {
	payments service.PaymentService
	confirm  service.ConfirmationService
	baseURL  string
}

func NewCheckoutHandler(payments service.PaymentService, confirm service.ConfirmationService, baseURL string) *CheckoutHandler {
	return &CheckoutHandler{
		payments: payments,
		confirm:  confirm,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (h *CheckoutHandler) CreateIntent(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.IntentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		return err
	}

	result, err := h.payments.CreateIntent(ctx, service.IntentCommand{
		UserID:  userID,
		OrderID: req.OrderID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.IntentResponse{
		ClientSecret: result.ClientSecret,
		IntentID:     result.IntentID,
		Total:        result.Total,
		Currency:     result.Currency,
	})
}

func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CheckoutSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		return err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = h.baseURL + "/checkout/success"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = h.baseURL + "/checkout/cancel"
	}

	result, err := h.payments.CreateCheckoutSession(ctx, service.SessionCommand{
		UserID:        userID,
		PaymentMethod: req.PaymentMethod,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		OrderData: service.OrderData{
			OrderID:  req.OrderData.OrderID,
			Total:    req.OrderData.Total,
			Language: req.OrderData.Language,
		},
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.CheckoutSessionResponse{
		SessionID: result.SessionID,
		URL:       result.URL,
		Total:     result.Total,
		Currency:  result.Currency,
	})
}

// Confirm is called when the customer returns from the provider.
func (h *CheckoutHandler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ConfirmRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		return err
	}

	order, err := h.confirm.ConfirmDirect(ctx, userID, strings.TrimSpace(req.SessionID))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.ConfirmResponse{
		OrderID: order.ID,
		Order:   dto.NewOrderResponse(order),
	})
}
