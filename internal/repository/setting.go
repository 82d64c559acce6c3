package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type SettingRepository interface {
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	Set(ctx context.Context, tx *gorm.DB, key, value string) error
}

type settingRepoImpl struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepoImpl{
		db: db,
	}
}

func (r *settingRepoImpl) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	var rows []model.Setting
	err := r.db.WithContext(ctx).
		Where("`key` IN ?", keys).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "get settings")
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

func (r *settingRepoImpl) Set(ctx context.Context, tx *gorm.DB, key, value string) error {
	err := conn(r.db, tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": time.Now(),
		}),
	}).Create(&model.Setting{Key: key, Value: value}).Error

	return translate(err, "set setting")
}
