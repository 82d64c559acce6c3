package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

const maxDiscountCommitAttempts = 3

var hundred = decimal.NewFromInt(100)

type DiscountEngine interface {
	Resolve(user *model.User, subtotal int64, now time.Time) model.AppliedDiscount
	// Commit consumes an applied discount inside tx. It returns nil when nothing changed.
	Commit(ctx context.Context, tx *gorm.DB, userID, orderID string, applied model.AppliedDiscount) (*model.DiscountEvent, error)
}

type discountEngineImpl struct {
	userRepo repository.UserRepository
	logger   *zap.Logger
}

func NewDiscountEngine(userRepo repository.UserRepository, logger *zap.Logger) DiscountEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &discountEngineImpl{
		userRepo: userRepo,
		logger:   logger,
	}
}

func (e *discountEngineImpl) Resolve(user *model.User, subtotal int64, now time.Time) model.AppliedDiscount {
	none := model.AppliedDiscount{Percentage: decimal.Zero}
	if user == nil || subtotal <= 0 {
		return none
	}
	if user.DiscountExpiryDate != nil && !now.Before(*user.DiscountExpiryDate) {
		return none
	}
	if !user.DiscountAmount.IsPositive() {
		return none
	}
	if subtotal < user.DiscountMinimumOrder {
		return none
	}

	applied := model.AppliedDiscount{
		Type:       user.DiscountType,
		UsageType:  user.DiscountUsageType,
		Percentage: decimal.Zero,
	}

	switch user.DiscountType {
	case model.DiscountPercentage:
		// decimal rounds half away from zero, which is half-up for positive amounts
		amount := decimal.NewFromInt(subtotal).Mul(user.DiscountAmount).Div(hundred).Round(0).IntPart()
		applied.Amount = min(amount, subtotal)
		applied.Percentage = user.DiscountAmount
	case model.DiscountFixed:
		applied.Amount = min(user.DiscountBalance, subtotal)
	default:
		return none
	}

	if applied.Amount <= 0 {
		return none
	}
	return applied
}

func (e *discountEngineImpl) Commit(ctx context.Context, tx *gorm.DB, userID, orderID string, applied model.AppliedDiscount) (*model.DiscountEvent, error) {
	if !applied.Applied() {
		return nil, nil
	}

	for attempt := 1; attempt <= maxDiscountCommitAttempts; attempt++ {
		user, err := e.userRepo.GetForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			e.logger.Warn("discount owner vanished before commit", zap.String("user_id", userID))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lock discount profile: %w", err)
		}

		updates, ev := e.plan(user, orderID, applied)
		if updates == nil {
			return nil, nil
		}

		ok, err := e.userRepo.UpdateDiscountProfile(ctx, tx, userID, user.Version, updates)
		if err != nil {
			return nil, fmt.Errorf("update discount profile: %w", err)
		}
		if ok {
			return ev, nil
		}

		e.logger.Info("discount profile version moved, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
		)
	}

	return nil, apperr.Conflict("discount profile for user %s changed concurrently", userID)
}

// plan decides the profile mutation for one consumption. A nil map means no write.
func (e *discountEngineImpl) plan(user *model.User, orderID string, applied model.AppliedDiscount) (map[string]interface{}, *model.DiscountEvent) {
	ev := &model.DiscountEvent{
		UserID:    user.ID,
		OrderID:   orderID,
		Type:      applied.Type,
		UsageType: applied.UsageType,
		Applied:   applied.Amount,
	}

	switch {
	case applied.UsageType == model.UsageOneTime:
		if !user.DiscountAmount.IsPositive() {
			// already consumed by a concurrent checkout
			return nil, nil
		}
		ev.Cleared = true
		return clearedProfile(), ev

	case applied.Type == model.DiscountFixed:
		if user.DiscountType != model.DiscountFixed {
			e.logger.Warn("discount profile type changed since checkout, leaving it untouched",
				zap.String("user_id", user.ID))
			return nil, nil
		}
		if user.DiscountBalance <= 0 && !user.DiscountAmount.IsPositive() {
			return nil, nil
		}
		spent := min(applied.Amount, max(user.DiscountBalance, 0))
		ev.Applied = spent
		remaining := user.DiscountBalance - spent
		if remaining <= 0 {
			ev.Cleared = true
			return clearedProfile(), ev
		}
		ev.Remaining = remaining
		return map[string]interface{}{"discount_balance": remaining}, ev
	}

	// permanent percentage discounts carry no balance
	return nil, nil
}

func clearedProfile() map[string]interface{} {
	return map[string]interface{}{
		"discount_amount":        decimal.Zero,
		"discount_type":          model.DiscountFixed,
		"discount_usage_type":    model.UsagePermanent,
		"discount_balance":       int64(0),
		"discount_minimum_order": int64(0),
		"discount_expiry_date":   nil,
	}
}
