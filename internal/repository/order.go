package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) (bool, error)
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	FindByCorrelation(ctx context.Context, tx *gorm.DB, reference string) (*model.Order, error)
	TransitionStatus(ctx context.Context, tx *gorm.DB, orderID string, from []model.OrderStatus, to model.OrderStatus, payment model.PaymentStatus, paidAt *time.Time) (bool, error)
	SetPaymentReference(ctx context.Context, tx *gorm.DB, orderID, reference, provider, paymentSessionID string) (bool, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Order, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

// Create inserts the order unless one with the same correlation id exists.
// It reports whether this call created the row.
func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			DoNothing: true,
		}).
		Create(order)
	if result.Error != nil {
		return false, translate(result.Error, "create order")
	}

	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return translate(conn(r.db, tx).WithContext(ctx).Create(&items).Error, "create order items")
}

func (r *orderRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, translate(err, "find order")
	}

	return &order, nil
}

// FindByCorrelation looks an order up by its checkout correlation id or by provider payment reference.
func (r *orderRepoImpl) FindByCorrelation(ctx context.Context, tx *gorm.DB, reference string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Where("correlation_id = ? OR payment_reference = ?", reference, reference).
		Order("created_at").
		First(&order).Error
	if err != nil {
		return nil, translate(err, "find order by correlation")
	}

	return &order, nil
}

// TransitionStatus is a compare-and-set on status; false means the order had already left every from state.
func (r *orderRepoImpl) TransitionStatus(ctx context.Context, tx *gorm.DB, orderID string, from []model.OrderStatus, to model.OrderStatus, payment model.PaymentStatus, paidAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":         to,
		"payment_status": payment,
		"updated_at":     time.Now(),
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where(`
			id = ?
			AND status IN ?
		`,
			orderID,
			from,
		).
		Updates(updates)
	if result.Error != nil {
		return false, translate(result.Error, "transition order")
	}

	return result.RowsAffected == 1, nil
}

// SetPaymentReference attaches a provider reference to a still-pending order.
func (r *orderRepoImpl) SetPaymentReference(ctx context.Context, tx *gorm.DB, orderID, reference, provider, paymentSessionID string) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderPending).
		Updates(map[string]interface{}{
			"payment_reference":  reference,
			"provider":           provider,
			"payment_session_id": paymentSessionID,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return false, translate(result.Error, "set payment reference")
	}

	return result.RowsAffected == 1, nil
}

// ListStale returns non-terminal orders with a provider reference that have not moved since olderThan.
func (r *orderRepoImpl) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.OrderStatus{model.OrderPending, model.OrderProcessing}).
		Where("payment_reference <> ''").
		Where("updated_at < ?", olderThan).
		Order("updated_at").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, translate(err, "list stale orders")
	}

	return orders, nil
}
