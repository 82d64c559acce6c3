package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	Get(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error)
	UpdateDiscountProfile(ctx context.Context, tx *gorm.DB, userID string, version int64, updates map[string]interface{}) (bool, error)
}

type userRepoImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepoImpl{
		db: db,
	}
}

func (r *userRepoImpl) Upsert(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"email":                  user.Email,
			"language":               user.Language,
			"discount_amount":        user.DiscountAmount,
			"discount_type":          user.DiscountType,
			"discount_usage_type":    user.DiscountUsageType,
			"discount_balance":       user.DiscountBalance,
			"discount_minimum_order": user.DiscountMinimumOrder,
			"discount_expiry_date":   user.DiscountExpiryDate,
			"version":                gorm.Expr("users.version + 1"),
			"updated_at":             time.Now(),
		}),
	}).Create(user).Error

	return translate(err, "upsert user")
}

func (r *userRepoImpl) Get(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error) {
	var user model.User
	err := conn(r.db, tx).WithContext(ctx).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, translate(err, "get user")
	}

	return &user, nil
}

// GetForUpdate row-locks the user for the rest of tx. SQLite ignores the lock clause.
func (r *userRepoImpl) GetForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.User, error) {
	var user model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, translate(err, "lock user")
	}

	return &user, nil
}

// UpdateDiscountProfile applies updates only if the row still carries version.
// It reports false when another writer got there first.
func (r *userRepoImpl) UpdateDiscountProfile(ctx context.Context, tx *gorm.DB, userID string, version int64, updates map[string]interface{}) (bool, error) {
	values := make(map[string]interface{}, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now()

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND version = ?", userID, version).
		Updates(values)
	if result.Error != nil {
		return false, translate(result.Error, "update discount profile")
	}

	return result.RowsAffected == 1, nil
}
