package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/dto"
)

type WebhookReceiver interface {
	Receive(ctx context.Context, header http.Header, body []byte) error
}

type WebhookHandler struct {
	receiver WebhookReceiver
}

func NewWebhookHandler(receiver WebhookReceiver) *WebhookHandler {
	return &WebhookHandler{receiver: receiver}
}

// PaymentWebhook must see the exact bytes the provider signed, so the body is read raw.
func (h *WebhookHandler) PaymentWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperr.Validation("unreadable webhook body")
	}

	if err := h.receiver.Receive(ctx, c.Request().Header, body); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.WebhookResponse{Received: true})
}
