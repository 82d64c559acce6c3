package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

const defaultLanguage = "en"

// ComputeTotal applies total = max(0, subtotal + shipping - discount).
func ComputeTotal(subtotal, shipping, discount int64) int64 {
	return max(0, subtotal+shipping-discount)
}

// Pricer turns a cart into a frozen checkout. It is the only place totals are computed.
type Pricer interface {
	Quote(ctx context.Context, userID string) (*model.FrozenCheckout, error)
	QuoteTx(ctx context.Context, tx *gorm.DB, userID string) (*model.FrozenCheckout, error)
}

type pricerImpl struct {
	cart      CartService
	userRepo  repository.UserRepository
	discounts DiscountEngine
	shipping  ShippingCalculator
	clock     Clock
}

func NewPricer(
	cart CartService,
	userRepo repository.UserRepository,
	discounts DiscountEngine,
	shipping ShippingCalculator,
	clock Clock,
) Pricer {
	return &pricerImpl{
		cart:      cart,
		userRepo:  userRepo,
		discounts: discounts,
		shipping:  shipping,
		clock:     clock,
	}
}

func (p *pricerImpl) Quote(ctx context.Context, userID string) (*model.FrozenCheckout, error) {
	return p.QuoteTx(ctx, nil, userID)
}

func (p *pricerImpl) QuoteTx(ctx context.Context, tx *gorm.DB, userID string) (*model.FrozenCheckout, error) {
	snapshot, err := p.cart.SnapshotTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	user, err := p.userRepo.Get(ctx, tx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load discount profile: %w", err)
	}

	language := defaultLanguage
	if user != nil && user.Language != "" {
		language = user.Language
	}

	discount := p.discounts.Resolve(user, snapshot.Subtotal, p.clock.now())
	shippingCost, _ := p.shipping.Calculate(ctx, snapshot.Subtotal)

	return &model.FrozenCheckout{
		PaymentSessionID: uuid.NewString(),
		UserID:           userID,
		Items:            snapshot.Items,
		Subtotal:         snapshot.Subtotal,
		ShippingCost:     shippingCost,
		Discount:         discount,
		Total:            ComputeTotal(snapshot.Subtotal, shippingCost, discount.Amount),
		Currency:         snapshot.Currency,
		Language:         language,
	}, nil
}

// frozenFromOrder re-freezes a pre-created pending order for a new payment attempt.
func frozenFromOrder(order *model.Order) *model.FrozenCheckout {
	items := make([]model.CartLine, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, model.CartLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Variant:   item.Variant,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	return &model.FrozenCheckout{
		PaymentSessionID: uuid.NewString(),
		UserID:           order.UserID,
		OrderID:          order.ID,
		Items:            items,
		Subtotal:         order.Subtotal,
		ShippingCost:     order.ShippingCost,
		Discount: model.AppliedDiscount{
			Amount:     order.DiscountAmount,
			Type:       order.DiscountType,
			Percentage: order.DiscountPercentage,
			UsageType:  order.DiscountUsageType,
		},
		Total:    order.Total,
		Currency: order.Currency,
		Language: order.Language,
	}
}
