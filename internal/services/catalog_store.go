// internal/services/catalog_store.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/downpricer/marketplace-backend/internal/models"
)

// CatalogStore is the slice of the catalog the sale controller needs.
type CatalogStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
	DecrementStock(ctx context.Context, id uuid.UUID) (int, error)
}

type gormCatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore binds a CatalogStore to db, which may be a transaction.
func NewCatalogStore(db *gorm.DB) CatalogStore {
	return &gormCatalogStore{db: db}
}

func (s *gormCatalogStore) GetItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error) {
	var item models.CatalogItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "item", id.String())
	}
	return &item, nil
}

// DecrementStock takes one unit from the item. The stock > 0 guard makes two
// racing sales of the last unit resolve to one success and one OutOfStockError.
func (s *gormCatalogStore) DecrementStock(ctx context.Context, id uuid.UUID) (int, error) {
	result := s.db.WithContext(ctx).Model(&models.CatalogItem{}).
		Where("id = ? AND stock > 0", id).
		Update("stock", gorm.Expr("stock - 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return 0, err
		}
		return 0, &OutOfStockError{ItemID: id}
	}

	item, err := s.GetItem(ctx, id)
	if err != nil {
		return 0, err
	}
	return item.Stock, nil
}
