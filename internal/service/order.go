package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

const pendingOrderPrefix = "pre_"

type OrderService interface {
	// Materialize inserts the order for a frozen checkout once. created is false when it already existed.
	Materialize(ctx context.Context, tx *gorm.DB, frozen model.FrozenCheckout) (order *model.Order, created bool, err error)
	CreatePendingOrder(ctx context.Context, userID, idempotencyKey string) (*model.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	// Confirm drives an existing order toward the outcome. changed is true only for the caller whose update won.
	Confirm(ctx context.Context, orderID string, outcome model.PaymentOutcome) (order *model.Order, changed bool, err error)
	// ConfirmFrozen materializes and confirms in one transaction.
	ConfirmFrozen(ctx context.Context, frozen model.FrozenCheckout, outcome model.PaymentOutcome) (order *model.Order, changed bool, err error)
}

type orderServiceImpl struct {
	db          *gorm.DB
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	sessionRepo repository.PaymentSessionRepository
	cart        CartService
	pricer      Pricer
	discounts   DiscountEngine
	effects     *Effects
	clock       Clock
	logger      *zap.Logger
}

func NewOrderService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	cartRepo repository.CartRepository,
	sessionRepo repository.PaymentSessionRepository,
	cart CartService,
	pricer Pricer,
	discounts DiscountEngine,
	effects *Effects,
	clock Clock,
	logger *zap.Logger,
) OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orderServiceImpl{
		db:          db,
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		sessionRepo: sessionRepo,
		cart:        cart,
		pricer:      pricer,
		discounts:   discounts,
		effects:     effects,
		clock:       clock,
		logger:      logger,
	}
}

func newOrderID() string {
	return "ord_" + ulid.Make().String()
}

func (s *orderServiceImpl) Materialize(ctx context.Context, tx *gorm.DB, frozen model.FrozenCheckout) (*model.Order, bool, error) {
	if err := frozen.Validate(); err != nil {
		return nil, false, apperr.Internal(err, "frozen checkout is inconsistent")
	}

	lines := frozen.Items
	if len(lines) == 0 {
		// the breakdown did not fit in provider metadata; record what the cart holds now
		snapshot, err := s.cart.SnapshotTx(ctx, tx, frozen.UserID)
		if err != nil && !errors.Is(err, apperr.ErrEmptyCart) {
			return nil, false, fmt.Errorf("snapshot cart for order lines: %w", err)
		}
		if snapshot != nil {
			lines = snapshot.Items
		}
	}

	order := &model.Order{
		ID:                 newOrderID(),
		UserID:             frozen.UserID,
		Status:             model.OrderPending,
		PaymentStatus:      model.PaymentPending,
		Subtotal:           frozen.Subtotal,
		ShippingCost:       frozen.ShippingCost,
		DiscountAmount:     frozen.Discount.Amount,
		DiscountType:       frozen.Discount.Type,
		DiscountPercentage: frozen.Discount.Percentage,
		DiscountUsageType:  frozen.Discount.UsageType,
		Total:              frozen.Total,
		Currency:           strings.ToLower(frozen.Currency),
		CorrelationID:      frozen.PaymentSessionID,
		PaymentReference:   frozen.Reference,
		Provider:           frozen.Provider,
		PaymentSessionID:   frozen.PaymentSessionID,
		Language:           frozen.Language,
	}

	created, err := s.orderRepo.Create(ctx, tx, order)
	if err != nil {
		return nil, false, fmt.Errorf("store order in db: %w", err)
	}
	if !created {
		existing, err := s.orderRepo.FindByCorrelation(ctx, tx, frozen.PaymentSessionID)
		if err != nil {
			return nil, false, fmt.Errorf("load existing order: %w", err)
		}
		return existing, false, nil
	}

	items := make([]*model.OrderItem, 0, len(lines))
	for _, line := range lines {
		name := line.Name
		if name == "" {
			name = line.ProductID
		}
		items = append(items, &model.OrderItem{
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Name:      name,
			Variant:   line.Variant,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.UnitPrice * line.Quantity,
		})
	}
	if err := s.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
		return nil, false, fmt.Errorf("store order items in db: %w", err)
	}
	for _, item := range items {
		order.Items = append(order.Items, *item)
	}

	s.logger.Info("order materialized",
		zap.String("order_id", order.ID),
		zap.String("correlation_id", order.CorrelationID),
		zap.Int64("total", order.Total),
	)
	return order, true, nil
}

func (s *orderServiceImpl) CreatePendingOrder(ctx context.Context, userID, idempotencyKey string) (*model.Order, error) {
	frozen, err := s.pricer.Quote(ctx, userID)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		frozen.PaymentSessionID = pendingOrderPrefix + userID + "_" + idempotencyKey
	} else {
		frozen.PaymentSessionID = pendingOrderPrefix + frozen.PaymentSessionID
	}

	var order *model.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, _, err = s.Materialize(ctx, tx, *frozen)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	return order, nil
}

func (s *orderServiceImpl) Confirm(ctx context.Context, orderID string, outcome model.PaymentOutcome) (*model.Order, bool, error) {
	var (
		order    *model.Order
		changed  bool
		discount *model.DiscountEvent
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.orderRepo.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order, changed, discount, err = s.confirmTx(ctx, tx, current, outcome)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.effects.OrderTransitioned(*order, discount)
	}
	return order, changed, nil
}

func (s *orderServiceImpl) ConfirmFrozen(ctx context.Context, frozen model.FrozenCheckout, outcome model.PaymentOutcome) (*model.Order, bool, error) {
	var (
		order    *model.Order
		changed  bool
		discount *model.DiscountEvent
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		materialized, _, err := s.Materialize(ctx, tx, frozen)
		if err != nil {
			return err
		}
		order, changed, discount, err = s.confirmTx(ctx, tx, materialized, outcome)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.effects.OrderTransitioned(*order, discount)
	}
	return order, changed, nil
}

// confirmTx moves order toward outcome with a status compare-and-set. Only the
// winner of the compare-and-set performs the completion side effects in tx.
func (s *orderServiceImpl) confirmTx(ctx context.Context, tx *gorm.DB, order *model.Order, outcome model.PaymentOutcome) (*model.Order, bool, *model.DiscountEvent, error) {
	target, payment, ok := outcome.Target()
	if !ok || order.Status.IsTerminal() || !order.Status.CanTransitionTo(target) {
		return order, false, nil, nil
	}

	var paidAt *time.Time
	if target == model.OrderCompleted {
		now := s.clock.now()
		paidAt = &now
	}

	won, err := s.orderRepo.TransitionStatus(ctx, tx, order.ID, model.SourcesFor(target), target, payment, paidAt)
	if err != nil {
		return nil, false, nil, err
	}
	if !won {
		s.logger.Debug("order already moved by a concurrent confirmation",
			zap.String("order_id", order.ID),
			zap.String("target", string(target)),
		)
		current, err := s.orderRepo.FindByID(ctx, tx, order.ID)
		if err != nil {
			return nil, false, nil, err
		}
		return current, false, nil, nil
	}

	var discount *model.DiscountEvent
	switch target {
	case model.OrderCompleted:
		discount, err = s.completeTx(ctx, tx, order)
		if err != nil {
			return nil, false, nil, err
		}
	case model.OrderFailed, model.OrderCancelled:
		if order.PaymentSessionID != "" {
			if err := s.sessionRepo.MarkFailed(ctx, tx, order.PaymentSessionID); err != nil {
				return nil, false, nil, err
			}
		}
	}

	updated, err := s.orderRepo.FindByID(ctx, tx, order.ID)
	if err != nil {
		return nil, false, nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)),
	)
	return updated, true, discount, nil
}

// completeTx clears the purchased cart lines and consumes the discount.
func (s *orderServiceImpl) completeTx(ctx context.Context, tx *gorm.DB, order *model.Order) (*model.DiscountEvent, error) {
	lines := make([]model.CartLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, model.CartLine{ProductID: item.ProductID, Variant: item.Variant})
	}
	removed, err := s.cartRepo.ClearLines(ctx, tx, order.UserID, lines)
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	discount, err := s.discounts.Commit(ctx, tx, order.UserID, order.ID, model.AppliedDiscount{
		Amount:     order.DiscountAmount,
		Type:       order.DiscountType,
		Percentage: order.DiscountPercentage,
		UsageType:  order.DiscountUsageType,
	})
	if err != nil {
		return nil, fmt.Errorf("commit discount: %w", err)
	}

	if order.PaymentSessionID != "" {
		if err := s.sessionRepo.MarkMaterialized(ctx, tx, order.PaymentSessionID, order.ID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("order completed",
		zap.String("order_id", order.ID),
		zap.Int64("cart_lines_removed", removed),
		zap.Bool("discount_consumed", discount != nil),
	)
	return discount, nil
}
