package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type WebhookEventRepository interface {
	Record(ctx context.Context, event *model.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

// Record stores the event id on first sight. It reports true when the event
// was seen before and already fully processed.
func (r *webhookEventRepositoryImpl) Record(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, translate(result.Error, "record webhook event")
	}
	if result.RowsAffected == 1 {
		return false, nil
	}

	var existing model.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", event.EventID).First(&existing).Error; err != nil {
		return false, translate(err, "load webhook event")
	}

	return existing.ProcessedAt != nil, nil
}

func (r *webhookEventRepositoryImpl) MarkProcessed(ctx context.Context, eventID string) error {
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Update("processed_at", time.Now()).Error

	return translate(err, "mark webhook event processed")
}
