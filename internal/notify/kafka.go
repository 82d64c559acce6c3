package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront-payments/internal/model"
)

const (
	EventOrderStatus      = "order.status_changed"
	EventDiscountConsumed = "discount.consumed"
	EventInvoiceRequested = "invoice.requested"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits order, discount and invoice events keyed by order id,
// so every event for one order lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger.Named("kafka")}
}

func (p *KafkaPublisher) NotifyOrder(ctx context.Context, n model.OrderNotification) error {
	return p.publish(ctx, EventOrderStatus, n.OrderID, n)
}

func (p *KafkaPublisher) NotifyDiscount(ctx context.Context, ev model.DiscountEvent) error {
	return p.publish(ctx, EventDiscountConsumed, ev.OrderID, ev)
}

// GenerateInvoice hands rendering to the invoice worker and returns the id it will be stored under.
func (p *KafkaPublisher) GenerateInvoice(ctx context.Context, req model.InvoiceRequest) (string, error) {
	invoiceID := "inv_" + uuid.NewString()
	payload := struct {
		InvoiceID string `json:"invoiceId"`
		model.InvoiceRequest
	}{invoiceID, req}

	if err := p.publish(ctx, EventInvoiceRequested, req.OrderID, payload); err != nil {
		return "", err
	}
	return invoiceID, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.logger.Debug("event published", zap.String("event_type", eventType), zap.String("key", key))
	return nil
}
