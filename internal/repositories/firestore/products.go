package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type productRepository struct {
	docs *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func (r *productRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.docs.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// GetForUpdate reads through the transaction, which holds the document until commit. Outside a
// transaction it is a plain read.
func (r *productRepository) GetForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	return r.Get(ctx, productID)
}

func (r *productRepository) UpdateStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) error {
	const op = "products.updateStock"
	if quantity < 0 {
		return repositories.NewInventoryError(op, repositories.InventoryErrorNegativeStock, productID,
			fmt.Sprintf("stock quantity %d is negative", quantity), nil)
	}
	err := r.docs.Update(ctx, productID, []firestore.Update{
		{Path: "stockQuantity", Value: quantity},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, "no stock record", err)
	}
	return err
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return pfirestore.Conflict("products.upsert", errors.New("product id is required"))
	}
	return r.docs.Set(ctx, product.ID, newProductDocument(product))
}
