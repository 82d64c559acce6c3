package service

import (
	"context"

	"go.uber.org/zap"

	"storefront-payments/internal/model"
)

// ShippingCost is free when the rate is zero or the subtotal reaches a positive threshold.
func ShippingCost(subtotal int64, settings model.ShippingSettings) int64 {
	if settings.StandardRate <= 0 {
		return 0
	}
	if settings.FreeThreshold > 0 && subtotal >= settings.FreeThreshold {
		return 0
	}
	return settings.StandardRate
}

type ShippingCalculator interface {
	Calculate(ctx context.Context, subtotal int64) (int64, model.ShippingSettings)
}

type shippingCalculatorImpl struct {
	settings SettingsProvider
	defaults model.ShippingSettings
	logger   *zap.Logger
}

// NewShippingCalculator falls back to defaults whenever settings cannot be read.
func NewShippingCalculator(settings SettingsProvider, defaults model.ShippingSettings, logger *zap.Logger) ShippingCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &shippingCalculatorImpl{
		settings: settings,
		defaults: defaults,
		logger:   logger,
	}
}

func (c *shippingCalculatorImpl) Calculate(ctx context.Context, subtotal int64) (int64, model.ShippingSettings) {
	settings, err := c.settings.ShippingSettings(ctx)
	if err != nil {
		c.logger.Warn("shipping settings unavailable, using defaults",
			zap.Error(err),
			zap.Int64("standard_rate", c.defaults.StandardRate),
		)
		settings = c.defaults
	}
	return ShippingCost(subtotal, settings), settings
}
