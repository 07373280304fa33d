package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

type cartRepository struct {
	store *Store
}

var _ repositories.CartRepository = (*cartRepository)(nil)

func (r *cartRepository) Find(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	return r.load(r.store.conn(ctx), "carts.find", identity, false)
}

func (r *cartRepository) FindForUpdate(ctx context.Context, identity domain.CartIdentity) (domain.Cart, error) {
	return r.load(r.store.conn(ctx), "carts.findForUpdate", identity, true)
}

func (r *cartRepository) load(db *gorm.DB, op string, identity domain.CartIdentity, lock bool) (domain.Cart, error) {
	if err := identity.Validate(); err != nil {
		return domain.Cart{}, newError(op, kindNotFound, err)
	}
	query := ownerScope(db, identity)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row cartRow
	err := query.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Cart{}, notFound(op, "cart", identity.Key())
	}
	if err != nil {
		return domain.Cart{}, wrapError(op, err)
	}

	var lines []cartLineRow
	if err := db.Where("cart_id = ?", row.ID).Order("position ASC").Find(&lines).Error; err != nil {
		return domain.Cart{}, wrapError(op, err)
	}
	return row.toDomain(lines), nil
}

// Save replaces the cart row and its full line set.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	const op = "carts.save"
	if err := cart.Identity.Validate(); err != nil {
		return newError(op, kindConflict, err)
	}
	row, lines := cartFromDomain(cart)
	return r.store.inTx(ctx, func(_ context.Context, db *gorm.DB) error {
		var existing cartRow
		err := ownerScope(db, cart.Identity).Take(&existing).Error
		switch {
		case err == nil && existing.ID != cart.ID:
			return newError(op, kindConflict, fmt.Errorf("identity %s already owns cart %s", cart.Identity.Key(), existing.ID))
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return wrapError(op, err)
		}

		if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).Create(&row).Error; err != nil {
			return wrapError(op, err)
		}
		if err := db.Where("cart_id = ?", cart.ID).Delete(&cartLineRow{}).Error; err != nil {
			return wrapError(op, err)
		}
		if len(lines) == 0 {
			return nil
		}
		return wrapError(op, db.Create(&lines).Error)
	})
}

func (r *cartRepository) Delete(ctx context.Context, identity domain.CartIdentity) error {
	const op = "carts.delete"
	if err := identity.Validate(); err != nil {
		return newError(op, kindConflict, err)
	}
	err := ownerScope(r.store.conn(ctx), identity).Delete(&cartRow{}).Error
	return wrapError(op, err)
}

func ownerScope(db *gorm.DB, identity domain.CartIdentity) *gorm.DB {
	if identity.IsGuest() {
		return db.Where("session_key = ?", identity.SessionKey)
	}
	return db.Where("user_id = ?", identity.UserID)
}
