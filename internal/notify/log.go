package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-payments/internal/model"
)

// LogPublisher records events in the service log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("notify")}
}

func (p *LogPublisher) NotifyOrder(_ context.Context, n model.OrderNotification) error {
	p.logger.Info("order notification",
		zap.String("order_id", n.OrderID),
		zap.String("user_id", n.UserID),
		zap.String("status", string(n.Status)),
		zap.Int64("total", n.Total),
	)
	return nil
}

func (p *LogPublisher) NotifyDiscount(_ context.Context, ev model.DiscountEvent) error {
	p.logger.Info("discount consumed",
		zap.String("order_id", ev.OrderID),
		zap.String("user_id", ev.UserID),
		zap.Int64("applied", ev.Applied),
		zap.Int64("remaining", ev.Remaining),
		zap.Bool("cleared", ev.Cleared),
	)
	return nil
}

func (p *LogPublisher) GenerateInvoice(_ context.Context, req model.InvoiceRequest) (string, error) {
	invoiceID := "inv_" + uuid.NewString()
	p.logger.Info("invoice requested",
		zap.String("invoice_id", invoiceID),
		zap.String("order_id", req.OrderID),
		zap.String("language", req.Language),
	)
	return invoiceID, nil
}

func (p *LogPublisher) Close() error {
	return nil
}
