package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront-payments/internal/model"
)

const defaultEffectTimeout = 15 * time.Second

// Effects runs post-commit notifications and invoice requests in the background.
// Their failures are logged and never reach the confirming caller.
type Effects struct {
	notifier Notifier
	invoices InvoiceGenerator
	logger   *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewEffects(notifier Notifier, invoices InvoiceGenerator, logger *zap.Logger) *Effects {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Effects{
		notifier: notifier,
		invoices: invoices,
		logger:   logger,
		timeout:  defaultEffectTimeout,
	}
}

// OrderTransitioned fires the effects owed for an order that just changed status.
func (e *Effects) OrderTransitioned(order model.Order, discount *model.DiscountEvent) {
	notification := model.OrderNotification{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Status:   order.Status,
		Payment:  order.PaymentStatus,
		Total:    order.Total,
		Currency: order.Currency,
		Language: order.Language,
		PaidAt:   order.PaidAt,
	}

	if order.Status == model.OrderCompleted {
		e.run("invoice", order.ID, func(ctx context.Context) error {
			invoiceID, err := e.invoices.GenerateInvoice(ctx, model.InvoiceRequest{
				OrderID:  order.ID,
				UserID:   order.UserID,
				Language: order.Language,
			})
			if err == nil {
				e.logger.Info("invoice requested", zap.String("order_id", order.ID), zap.String("invoice_id", invoiceID))
			}
			return err
		})
	}

	e.run("order notification", order.ID, func(ctx context.Context) error {
		return e.notifier.NotifyOrder(ctx, notification)
	})

	if discount != nil {
		ev := *discount
		e.run("discount notification", order.ID, func(ctx context.Context) error {
			return e.notifier.NotifyDiscount(ctx, ev)
		})
	}
}

// Wait blocks until every dispatched effect has finished.
func (e *Effects) Wait() {
	e.wg.Wait()
}

func (e *Effects) run(name, orderID string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("side effect panicked", zap.String("effect", name), zap.String("order_id", orderID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			e.logger.Error("side effect failed",
				zap.String("effect", name),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}()
}
