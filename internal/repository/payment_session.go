package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"storefront-payments/internal/model"
)

type PaymentSessionRepository interface {
	Create(ctx context.Context, session *model.PaymentSession) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.PaymentSession, error)
	FindByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.PaymentSession, error)
	MarkMaterialized(ctx context.Context, tx *gorm.DB, id, orderID string) error
	MarkFailed(ctx context.Context, tx *gorm.DB, id string) error
	ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentSession, error)
}

type paymentSessionRepoImpl struct {
	db *gorm.DB
}

func NewPaymentSessionRepository(db *gorm.DB) PaymentSessionRepository {
	return &paymentSessionRepoImpl{
		db: db,
	}
}

func (r *paymentSessionRepoImpl) Create(ctx context.Context, session *model.PaymentSession) error {
	return translate(r.db.WithContext(ctx).Create(session).Error, "create payment session")
}

func (r *paymentSessionRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.PaymentSession, error) {
	var session model.PaymentSession
	err := conn(r.db, tx).WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, translate(err, "find payment session")
	}

	return &session, nil
}

func (r *paymentSessionRepoImpl) FindByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.PaymentSession, error) {
	var session model.PaymentSession
	err := conn(r.db, tx).WithContext(ctx).
		Where("reference = ?", reference).
		First(&session).Error
	if err != nil {
		return nil, translate(err, "find payment session by reference")
	}

	return &session, nil
}

func (r *paymentSessionRepoImpl) MarkMaterialized(ctx context.Context, tx *gorm.DB, id, orderID string) error {
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.PaymentSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.PaymentSessionMaterialized,
			"order_id":   orderID,
			"updated_at": time.Now(),
		}).Error

	return translate(err, "mark payment session materialized")
}

func (r *paymentSessionRepoImpl) MarkFailed(ctx context.Context, tx *gorm.DB, id string) error {
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.PaymentSession{}).
		Where("id = ? AND status = ?", id, model.PaymentSessionOpen).
		Updates(map[string]interface{}{
			"status":     model.PaymentSessionFailed,
			"updated_at": time.Now(),
		}).Error

	return translate(err, "mark payment session failed")
}

func (r *paymentSessionRepoImpl) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentSession, error) {
	var sessions []*model.PaymentSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PaymentSessionOpen, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, translate(err, "list open payment sessions")
	}

	return sessions, nil
}
