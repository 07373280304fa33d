package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type productRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func productKey(id string) string { return "product:" + id }

func (r *productRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	if t, ok := txFrom(ctx); ok {
		if staged, ok := t.products[productID]; ok {
			return staged, nil
		}
	}
	return r.committed(productID)
}

func (r *productRepository) GetForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, productKey(productID)); err != nil {
			return err
		}
		if staged, ok := t.products[productID]; ok {
			product = staged
			return nil
		}
		found, err := r.committed(productID)
		if err != nil {
			return err
		}
		product = found
		return nil
	})
	return product, err
}

func (r *productRepository) UpdateStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) error {
	const op = "products.updateStock"
	if quantity < 0 {
		return repositories.NewInventoryError(op, repositories.InventoryErrorNegativeStock, productID,
			fmt.Sprintf("stock quantity %d is negative", quantity), nil)
	}
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, productKey(productID)); err != nil {
			return err
		}
		product, ok := t.products[productID]
		if !ok {
			found, err := r.committed(productID)
			if err != nil {
				return repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, "no stock record", err)
			}
			product = found
		}
		product.StockQuantity = quantity
		product.UpdatedAt = updatedAt
		t.products[productID] = product
		return nil
	})
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return newError("products.upsert", kindConflict, fmt.Errorf("product id is required"))
	}
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, productKey(product.ID)); err != nil {
			return err
		}
		t.products[product.ID] = product
		return nil
	})
}

func (r *productRepository) committed(productID string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", "product", productID)
	}
	return product, nil
}
