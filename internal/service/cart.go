package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

type CartService interface {
	// Snapshot prices the cart against live products. An empty cart is an error.
	Snapshot(ctx context.Context, userID string) (*model.CartSnapshot, error)
	SnapshotTx(ctx context.Context, tx *gorm.DB, userID string) (*model.CartSnapshot, error)
	// View is Snapshot for display; an empty cart is not an error.
	View(ctx context.Context, userID string) (*model.CartSnapshot, error)
	AddItem(ctx context.Context, userID, productID, variant string, quantity int64) (*model.CartSnapshot, error)
	UpdateQuantity(ctx context.Context, userID, productID, variant string, quantity int64) (*model.CartSnapshot, error)
	RemoveItem(ctx context.Context, userID, productID, variant string) (*model.CartSnapshot, error)
}

type cartServiceImpl struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	currency    string
}

func NewCartService(
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	currency string,
) CartService {
	return &cartServiceImpl{
		cartRepo:    cartRepo,
		productRepo: productRepo,
		currency:    strings.ToLower(currency),
	}
}

func (s *cartServiceImpl) Snapshot(ctx context.Context, userID string) (*model.CartSnapshot, error) {
	return s.SnapshotTx(ctx, nil, userID)
}

func (s *cartServiceImpl) SnapshotTx(ctx context.Context, tx *gorm.DB, userID string) (*model.CartSnapshot, error) {
	snapshot, err := s.resolve(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Items) == 0 {
		return nil, apperr.ErrEmptyCart
	}
	return snapshot, nil
}

func (s *cartServiceImpl) View(ctx context.Context, userID string) (*model.CartSnapshot, error) {
	return s.resolve(ctx, nil, userID)
}

func (s *cartServiceImpl) AddItem(ctx context.Context, userID, productID, variant string, quantity int64) (*model.CartSnapshot, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive")
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("product %s not found", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if !product.Active {
		return nil, apperr.Validation("product %s is not available", productID)
	}

	err = s.cartRepo.Upsert(ctx, nil, &model.CartItem{
		UserID:    userID,
		ProductID: productID,
		Variant:   variant,
		Quantity:  quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return s.View(ctx, userID)
}

// UpdateQuantity sets the line quantity; zero or less removes the line.
func (s *cartServiceImpl) UpdateQuantity(ctx context.Context, userID, productID, variant string, quantity int64) (*model.CartSnapshot, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID, variant)
	}

	found, err := s.cartRepo.SetQuantity(ctx, userID, productID, variant, quantity)
	if err != nil {
		return nil, fmt.Errorf("update cart item: %w", err)
	}
	if !found {
		return nil, apperr.NotFound("cart item %s not found", productID)
	}

	return s.View(ctx, userID)
}

func (s *cartServiceImpl) RemoveItem(ctx context.Context, userID, productID, variant string) (*model.CartSnapshot, error) {
	found, err := s.cartRepo.Remove(ctx, userID, productID, variant)
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}
	if !found {
		return nil, apperr.NotFound("cart item %s not found", productID)
	}

	return s.View(ctx, userID)
}

func (s *cartServiceImpl) resolve(ctx context.Context, tx *gorm.DB, userID string) (*model.CartSnapshot, error) {
	items, err := s.cartRepo.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}

	snapshot := &model.CartSnapshot{
		UserID:   userID,
		Items:    []model.CartLine{},
		Currency: s.currency,
	}
	if len(items) == 0 {
		return snapshot, nil
	}

	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.productRepo.FindMany(ctx, tx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return nil, apperr.Validation("product %s is no longer available", item.ProductID)
		}
		if !strings.EqualFold(product.Currency, s.currency) {
			return nil, apperr.Validation("product %s is priced in %s, store currency is %s", product.ID, product.Currency, s.currency)
		}
		if item.Quantity <= 0 {
			return nil, apperr.Validation("invalid quantity for product %s", item.ProductID)
		}

		line := model.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			Variant:   item.Variant,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
			LineTotal: product.Price * item.Quantity,
		}
		snapshot.Items = append(snapshot.Items, line)
		snapshot.Subtotal += line.LineTotal
	}

	return snapshot, nil
}
