package service

import (
	"context"
	"time"

	"storefront-payments/internal/model"
)

// Notifier delivers customer-facing notifications. Failures never roll back an order.
type Notifier interface {
	NotifyOrder(ctx context.Context, n model.OrderNotification) error
	NotifyDiscount(ctx context.Context, ev model.DiscountEvent) error
}

type InvoiceGenerator interface {
	GenerateInvoice(ctx context.Context, req model.InvoiceRequest) (string, error)
}

// SettingsProvider supplies store settings; Invalidate drops any cached copy.
type SettingsProvider interface {
	ShippingSettings(ctx context.Context) (model.ShippingSettings, error)
	Invalidate(ctx context.Context) error
}

type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
