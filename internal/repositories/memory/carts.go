package memory

import (
	"context"
	"fmt"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type cartRepository struct {
	store *Store
}

var _ repositories.CartRepository = (*cartRepository)(nil)

func cartLockKey(identity domain.CartIdentity) string { return "cart:" + identity.Key() }

func (r *cartRepository) Find(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	if err := identity.Validate(); err != nil {
		return domain.Cart{}, newError("carts.find", kindNotFound, err)
	}
	if t, ok := txFrom(ctx); ok {
		if staged, ok := t.carts[identity.Key()]; ok {
			if staged == nil {
				return domain.Cart{}, notFound("carts.find", "cart", identity.Key())
			}
			return cloneCart(*staged), nil
		}
	}
	return r.committed(identity)
}

func (r *cartRepository) FindForUpdate(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	if err := identity.Validate(); err != nil {
		return domain.Cart{}, newError("carts.findForUpdate", kindNotFound, err)
	}
	var cart domain.Cart
	err := r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, cartLockKey(identity)); err != nil {
			return err
		}
		found, err := r.Find(withTxContext(ctx, t), identity)
		if err != nil {
			return err
		}
		cart = found
		return nil
	})
	return cart, err
}

func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if err := cart.Identity.Validate(); err != nil {
		return newError("carts.save", kindConflict, err)
	}
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, cartLockKey(cart.Identity)); err != nil {
			return err
		}
		existing, err := r.Find(withTxContext(ctx, t), cart.Identity)
		if err == nil && existing.ID != cart.ID {
			return newError("carts.save", kindConflict, fmt.Errorf("identity %s already owns cart %s", cart.Identity.Key(), existing.ID))
		}
		stored := cloneCart(cart)
		t.carts[cart.Identity.Key()] = &stored
		return nil
	})
}

func (r *cartRepository) Delete(ctx context.Context, identity domain.CartIdentity) error {
	if err := identity.Validate(); err != nil {
		return newError("carts.delete", kindConflict, err)
	}
	return r.store.withTx(ctx, func(t *tx) error {
		if err := t.lock(ctx, cartLockKey(identity)); err != nil {
			return err
		}
		t.carts[identity.Key()] = nil
		return nil
	})
}

func (r *cartRepository) committed(identity domain.CartIdentity) (domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cart, ok := r.store.carts[identity.Key()]
	if !ok {
		return domain.Cart{}, notFound("carts.find", "cart", identity.Key())
	}
	return cloneCart(cart), nil
}

func withTxContext(ctx context.Context, t *tx) context.Context {
	if _, ok := txFrom(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, t)
}

func cloneCart(cart domain.Cart) domain.Cart {
	out := cart
	if cart.Lines != nil {
		out.Lines = append([]domain.CartLine(nil), cart.Lines...)
	}
	if cart.ExpiresAt != nil {
		expires := *cart.ExpiresAt
		out.ExpiresAt = &expires
	}
	return out
}
