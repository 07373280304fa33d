package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type productRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func (r *productRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	return r.load(ctx, r.store.conn(ctx), "products.get", productID)
}

func (r *productRepository) GetForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	db := r.store.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.load(ctx, db, "products.getForUpdate", productID)
}

func (r *productRepository) load(_ context.Context, db *gorm.DB, op, productID string) (domain.Product, error) {
	var row productRow
	err := db.Where("id = ?", productID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Product{}, notFound(op, "product", productID)
	}
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	return row.toDomain(), nil
}

func (r *productRepository) UpdateStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) error {
	const op = "products.updateStock"
	if quantity < 0 {
		return repositories.NewInventoryError(op, repositories.InventoryErrorNegativeStock, productID,
			fmt.Sprintf("stock quantity %d is negative", quantity), nil)
	}
	result := r.store.conn(ctx).
		Model(&productRow{}).
		Where("id = ?", productID).
		Updates(map[string]any{"stock_quantity": quantity, "updated_at": updatedAt.UTC()})
	if result.Error != nil {
		return wrapError(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, "no stock record", nil)
	}
	return nil
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return newError("products.upsert", kindConflict, errors.New("product id is required"))
	}
	row := productFromDomain(product)
	err := r.store.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	return wrapError("products.upsert", err)
}
