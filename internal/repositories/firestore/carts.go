package firestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/ordercore/internal/domain"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// cartRepository keys each cart document by its owner, so one identity can hold one cart at most.
type cartRepository struct {
	docs  *pfirestore.BaseRepository[cartDocument]
	runTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ repositories.CartRepository = (*cartRepository)(nil)

func (r *cartRepository) Find(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	if err := identity.Validate(); err != nil {
		return domain.Cart{}, pfirestore.NotFound("carts.find", "cart", identity.Key())
	}
	doc, err := r.docs.Get(ctx, identity.Key())
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain()
}

func (r *cartRepository) FindForUpdate(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	return r.Find(ctx, identity)
}

// Save replaces the cart document. Inside a caller's transaction the cart was already read through
// FindForUpdate and no further read is allowed once writes start, so the ownership check only runs
// when Save opens its own transaction.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if err := cart.Identity.Validate(); err != nil {
		return pfirestore.Conflict("carts.save", err)
	}
	doc := newCartDocument(cart)
	if _, ok := pfirestore.TransactionFrom(ctx); ok {
		return r.docs.Set(ctx, cart.Identity.Key(), doc)
	}
	return r.runTx(ctx, func(txCtx context.Context) error {
		existing, err := r.docs.Get(txCtx, cart.Identity.Key())
		switch {
		case err == nil && existing.Data.ID != cart.ID:
			return pfirestore.Conflict("carts.save", fmt.Errorf("identity %s already owns cart %s", cart.Identity.Key(), existing.Data.ID))
		case err != nil && !isNotFound(err):
			return err
		}
		return r.docs.Set(txCtx, cart.Identity.Key(), doc)
	})
}

func (r *cartRepository) Delete(ctx context.Context, identity domain.CartIdentity) error {
	if err := identity.Validate(); err != nil {
		return pfirestore.Conflict("carts.delete", err)
	}
	return r.docs.Delete(ctx, identity.Key())
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
