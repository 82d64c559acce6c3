package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

// settingsStore reads shipping settings straight from the settings table.
type settingsStore struct {
	settingRepo repository.SettingRepository
	defaults    model.ShippingSettings
}

func NewSettingsStore(settingRepo repository.SettingRepository, defaults model.ShippingSettings) SettingsProvider {
	return &settingsStore{
		settingRepo: settingRepo,
		defaults:    defaults,
	}
}

func (s *settingsStore) ShippingSettings(ctx context.Context) (model.ShippingSettings, error) {
	values, err := s.settingRepo.GetMany(ctx, []string{
		model.SettingFreeShippingThreshold,
		model.SettingStandardShippingRate,
	})
	if err != nil {
		return model.ShippingSettings{}, fmt.Errorf("load shipping settings: %w", err)
	}

	settings := s.defaults
	if v, ok := values[model.SettingFreeShippingThreshold]; ok {
		if settings.FreeThreshold, err = strconv.ParseInt(v, 10, 64); err != nil {
			return model.ShippingSettings{}, fmt.Errorf("parse %s: %w", model.SettingFreeShippingThreshold, err)
		}
	}
	if v, ok := values[model.SettingStandardShippingRate]; ok {
		if settings.StandardRate, err = strconv.ParseInt(v, 10, 64); err != nil {
			return model.ShippingSettings{}, fmt.Errorf("parse %s: %w", model.SettingStandardShippingRate, err)
		}
	}
	return settings, nil
}

func (s *settingsStore) Invalidate(context.Context) error {
	return nil
}

type SettingsService interface {
	Shipping(ctx context.Context) (model.ShippingSettings, error)
	UpdateShipping(ctx context.Context, settings model.ShippingSettings) (model.ShippingSettings, error)
}

type settingsServiceImpl struct {
	db          *gorm.DB
	settingRepo repository.SettingRepository
	provider    SettingsProvider
	logger      *zap.Logger
}

func NewSettingsService(db *gorm.DB, settingRepo repository.SettingRepository, provider SettingsProvider, logger *zap.Logger) SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &settingsServiceImpl{
		db:          db,
		settingRepo: settingRepo,
		provider:    provider,
		logger:      logger,
	}
}

func (s *settingsServiceImpl) Shipping(ctx context.Context) (model.ShippingSettings, error) {
	return s.provider.ShippingSettings(ctx)
}

func (s *settingsServiceImpl) UpdateShipping(ctx context.Context, settings model.ShippingSettings) (model.ShippingSettings, error) {
	if settings.FreeThreshold < 0 || settings.StandardRate < 0 {
		return model.ShippingSettings{}, apperr.Validation("shipping amounts must not be negative")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settingRepo.Set(ctx, tx, model.SettingFreeShippingThreshold, strconv.FormatInt(settings.FreeThreshold, 10)); err != nil {
			return err
		}
		return s.settingRepo.Set(ctx, tx, model.SettingStandardShippingRate, strconv.FormatInt(settings.StandardRate, 10))
	})
	if err != nil {
		return model.ShippingSettings{}, fmt.Errorf("store shipping settings: %w", err)
	}

	if err := s.provider.Invalidate(ctx); err != nil {
		// the TTL bounds how long the stale copy survives
		s.logger.Warn("invalidate shipping settings cache failed", zap.Error(err))
	}

	s.logger.Info("shipping settings updated",
		zap.Int64("free_threshold", settings.FreeThreshold),
		zap.Int64("standard_rate", settings.StandardRate),
	)
	return settings, nil
}
