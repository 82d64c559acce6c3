package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront-payments/internal/model"
)

type ProductRepository interface {
	Seed(ctx context.Context) error
	FindByID(ctx context.Context, productID string) (*model.Product, error)
	FindMany(ctx context.Context, tx *gorm.DB, productIDs []string) (map[string]*model.Product, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{ID: "tee_classic", Name: "Classic Tee", Price: 2500, Currency: "usd", Active: true},
		{ID: "hoodie_zip", Name: "Zip Hoodie", Price: 6000, Currency: "usd", Active: true},
		{ID: "mug_enamel", Name: "Enamel Mug", Price: 1800, Currency: "usd", Active: true},
		{ID: "poster_a2", Name: "A2 Poster", Price: 1200, Currency: "usd", Active: true},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error
	if err != nil {
		return nil, translate(err, "find product")
	}

	return &product, nil
}

// FindMany returns the requested products keyed by id; missing ids are absent from the map.
func (r *productRepoImpl) FindMany(ctx context.Context, tx *gorm.DB, productIDs []string) (map[string]*model.Product, error) {
	var products []*model.Product
	err := conn(r.db, tx).WithContext(ctx).
		Where("id IN ?", productIDs).
		Find(&products).
		Error
	if err != nil {
		return nil, translate(err, "find products")
	}

	byID := make(map[string]*model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}
