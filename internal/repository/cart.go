package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type CartRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, item *model.CartItem) error
	SetQuantity(ctx context.Context, userID, productID, variant string, quantity int64) (bool, error)
	Remove(ctx context.Context, userID, productID, variant string) (bool, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*model.CartItem, error)
	ClearLines(ctx context.Context, tx *gorm.DB, userID string, lines []model.CartLine) (int64, error)
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{
		db: db,
	}
}

// Upsert adds item.Quantity to the existing line, or inserts a new one.
func (r *cartRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, item *model.CartItem) error {
	err := conn(r.db, tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "variant"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("cart_items.quantity + ?", item.Quantity),
			"updated_at": time.Now(),
		}),
	}).Create(item).Error

	return translate(err, "upsert cart item")
}

func (r *cartRepoImpl) SetQuantity(ctx context.Context, userID, productID, variant string, quantity int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("user_id = ? AND product_id = ? AND variant = ?", userID, productID, variant).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, translate(result.Error, "set cart quantity")
	}

	return result.RowsAffected > 0, nil
}

func (r *cartRepoImpl) Remove(ctx context.Context, userID, productID, variant string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND variant = ?", userID, productID, variant).
		Delete(&model.CartItem{})
	if result.Error != nil {
		return false, translate(result.Error, "remove cart item")
	}

	return result.RowsAffected > 0, nil
}

func (r *cartRepoImpl) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*model.CartItem, error) {
	var items []*model.CartItem
	err := conn(r.db, tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, translate(err, "list cart")
	}

	return items, nil
}

// ClearLines deletes the purchased lines and reports how many rows went away.
// Lines added to the cart after checkout started are left alone.
func (r *cartRepoImpl) ClearLines(ctx context.Context, tx *gorm.DB, userID string, lines []model.CartLine) (int64, error) {
	db := conn(r.db, tx).WithContext(ctx)

	var removed int64
	for _, line := range lines {
		result := db.
			Where("user_id = ? AND product_id = ? AND variant = ?", userID, line.ProductID, line.Variant).
			Delete(&model.CartItem{})
		if result.Error != nil {
			return removed, translate(result.Error, "clear cart line")
		}
		removed += result.RowsAffected
	}

	return removed, nil
}
