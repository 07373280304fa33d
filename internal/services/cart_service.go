package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/money"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	defaultGuestCartTTL = 7 * 24 * time.Hour
	cartCreateAttempts  = 3
	maxCartLineQuantity = 999
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartUnitOfWorkRequired = errors.New("cart service: unit of work is required")
)

// CartServiceDeps wires the repositories and pricing inputs for cart operations.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Cache      CartCache
	Normalizer money.Normalizer
	// TaxRate is the flat illustrative rate applied by Totals. Cart totals are advisory.
	TaxRate         decimal.Decimal
	DefaultCurrency string
	GuestTTL        time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	uow        repositories.UnitOfWork
	cache      CartCache
	normalizer money.Normalizer
	taxRate    decimal.Decimal
	currency   string
	guestTTL   time.Duration
	newID      func() string
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.UnitOfWork == nil {
		return nil, errCartUnitOfWorkRequired
	}

	defaultCurrency := money.CoerceCurrency(deps.DefaultCurrency, domain.DefaultCurrency)

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	ttl := deps.GuestTTL
	if ttl <= 0 {
		ttl = defaultGuestCartTTL
	}

	normalizer := deps.Normalizer
	if normalizer.DefaultCurrency == "" {
		normalizer = money.New(defaultCurrency)
	}

	return &cartService{
		carts:      deps.Carts,
		products:   deps.Products,
		uow:        deps.UnitOfWork,
		cache:      deps.Cache,
		normalizer: normalizer,
		taxRate:    deps.TaxRate,
		currency:   defaultCurrency,
		guestTTL:   ttl,
		newID:      idGen,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// GetCart returns the identity's cart. A missing or expired cart reads as an empty, unsaved cart;
// carts are only persisted on the first mutation.
func (s *cartService) GetCart(ctx context.Context, identity CartIdentity) (Cart, error) {
	if err := validateIdentity(identity); err != nil {
		return Cart{}, err
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, identity)
		switch {
		case err != nil:
			s.logger(ctx, "cart.cache.get.failed", map[string]any{"identity": identity.Key(), "error": err.Error()})
		case ok && !s.expired(cached):
			return cached, nil
		}
	}

	cart, err := s.carts.Find(ctx, identity)
	if err != nil {
		if isRepositoryNotFound(err) {
			return s.emptyCart(identity), nil
		}
		return Cart{}, mapRepositoryError("cart.get", err)
	}
	if s.expired(cart) {
		return s.emptyCart(identity), nil
	}
	s.cachePut(ctx, cart)
	return cart, nil
}

// AddItem adds quantity of the product. The line price is captured from the product when the line
// is first created; later increments keep the original price.
func (s *cartService) AddItem(ctx context.Context, identity CartIdentity, productID string, quantity int) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, newValidationError("product_id", "is required")
	}
	if quantity <= 0 {
		return Cart{}, newValidationError("quantity", "must be greater than zero")
	}

	return s.mutate(ctx, identity, "cart.addItem", func(txCtx context.Context, cart *Cart, now time.Time) error {
		product, err := s.products.Get(txCtx, productID)
		if err != nil {
			if isRepositoryNotFound(err) {
				return newValidationError("product_id", "product %s does not exist", productID)
			}
			return err
		}
		if !product.Available() {
			return newValidationError("product_id", "product %s is not available", productID)
		}

		line, idx := cart.Line(productID)
		if idx >= 0 {
			if line.Quantity+quantity > maxCartLineQuantity {
				return newValidationError("quantity", "must not exceed %d per product", maxCartLineQuantity)
			}
			line.Quantity += quantity
			line.UpdatedAt = now
			cart.Lines[idx] = line
			return nil
		}

		if quantity > maxCartLineQuantity {
			return newValidationError("quantity", "must not exceed %d per product", maxCartLineQuantity)
		}
		price := s.normalizer.Normalize(product.Price)
		if len(cart.Lines) == 0 {
			cart.Currency = price.Currency
		}
		if price.Currency != cart.Currency {
			return newValidationError("currency", "product %s is priced in %s, cart uses %s", productID, price.Currency, cart.Currency)
		}
		cart.Lines = append(cart.Lines, CartLine{
			ProductID: productID,
			Quantity:  quantity,
			Price:     price,
			AddedAt:   now,
			UpdatedAt: now,
		})
		return nil
	})
}

// UpdateItem sets the line quantity. Zero removes the line.
func (s *cartService) UpdateItem(ctx context.Context, identity CartIdentity, productID string, quantity int) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, newValidationError("product_id", "is required")
	}
	if quantity < 0 {
		return Cart{}, newValidationError("quantity", "must not be negative")
	}
	if quantity > maxCartLineQuantity {
		return Cart{}, newValidationError("quantity", "must not exceed %d per product", maxCartLineQuantity)
	}

	return s.mutate(ctx, identity, "cart.updateItem", func(_ context.Context, cart *Cart, now time.Time) error {
		line, idx := cart.Line(productID)
		if idx < 0 {
			return cartLineNotFound(productID)
		}
		if quantity == 0 {
			cart.Lines = removeLine(cart.Lines, idx)
			return nil
		}
		line.Quantity = quantity
		line.UpdatedAt = now
		cart.Lines[idx] = line
		return nil
	})
}

func (s *cartService) RemoveItem(ctx context.Context, identity CartIdentity, productID string) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, newValidationError("product_id", "is required")
	}
	return s.mutate(ctx, identity, "cart.removeItem", func(_ context.Context, cart *Cart, _ time.Time) error {
		_, idx := cart.Line(productID)
		if idx < 0 {
			return cartLineNotFound(productID)
		}
		cart.Lines = removeLine(cart.Lines, idx)
		return nil
	})
}

// Clear empties the cart but keeps it. Clearing a cart that was never created is a no-op.
func (s *cartService) Clear(ctx context.Context, identity CartIdentity) (Cart, error) {
	if err := validateIdentity(identity); err != nil {
		return Cart{}, err
	}

	var cleared Cart
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.FindForUpdate(txCtx, identity)
		if err != nil {
			if isRepositoryNotFound(err) {
				cleared = s.emptyCart(identity)
				return nil
			}
			return err
		}
		now := s.now()
		cart.Lines = nil
		if err := s.finalize(&cart, now); err != nil {
			return err
		}
		if err := s.carts.Save(txCtx, cart); err != nil {
			return err
		}
		cleared = cart
		return nil
	})
	if err != nil {
		return Cart{}, mapRepositoryError("cart.clear", err)
	}
	if cleared.ID != "" {
		s.cachePut(ctx, cleared)
	}
	return cleared, nil
}

// Totals returns subtotal, flat-rate tax and total for the cart. The figures are advisory; order
// creation computes its own charges.
func (s *cartService) Totals(ctx context.Context, identity CartIdentity) (CartTotals, error) {
	cart, err := s.GetCart(ctx, identity)
	if err != nil {
		return CartTotals{}, err
	}
	if err := cart.Recalculate(); err != nil {
		return CartTotals{}, newValidationError("currency", "%v", err)
	}
	subtotal := cart.TotalAmount
	tax := subtotal.MulRate(s.taxRate)
	total, err := subtotal.Add(tax)
	if err != nil {
		return CartTotals{}, newValidationError("currency", "%v", err)
	}
	return CartTotals{
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     total,
		ItemCount: cart.ItemCount,
	}, nil
}

// MergeGuestCart folds the guest session's cart into the user's cart after sign-in. Quantities for
// the same product are summed and the user's captured price wins. The guest cart is deleted.
func (s *cartService) MergeGuestCart(ctx context.Context, sessionKey, userID string) (Cart, error) {
	guest := domain.GuestIdentity(sessionKey)
	user := domain.UserIdentity(userID)
	if err := validateIdentity(guest); err != nil {
		return Cart{}, err
	}
	if err := validateIdentity(user); err != nil {
		return Cart{}, err
	}

	var merged Cart
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		now := s.now()
		guestCart, err := s.carts.FindForUpdate(txCtx, guest)
		guestMissing := isRepositoryNotFound(err)
		if err != nil && !guestMissing {
			return err
		}

		userCart, err := s.carts.FindForUpdate(txCtx, user)
		userMissing := isRepositoryNotFound(err)
		if err != nil && !userMissing {
			return err
		}
		if userMissing {
			userCart = s.newCart(user, now)
		}
		if guestMissing || s.expired(guestCart) || len(guestCart.Lines) == 0 {
			merged = userCart
			if userMissing {
				merged = s.emptyCart(user)
			}
			if !guestMissing {
				return s.carts.Delete(txCtx, guest)
			}
			return nil
		}

		if len(userCart.Lines) == 0 {
			userCart.Currency = guestCart.Currency
		}
		if guestCart.Currency != userCart.Currency {
			return newValidationError("currency", "guest cart uses %s, user cart uses %s", guestCart.Currency, userCart.Currency)
		}
		for _, guestLine := range guestCart.Lines {
			line, idx := userCart.Line(guestLine.ProductID)
			if idx < 0 {
				guestLine.UpdatedAt = now
				userCart.Lines = append(userCart.Lines, guestLine)
				continue
			}
			line.Quantity = min(line.Quantity+guestLine.Quantity, maxCartLineQuantity)
			line.UpdatedAt = now
			userCart.Lines[idx] = line
		}
		if err := s.finalize(&userCart, now); err != nil {
			return err
		}
		if err := s.carts.Delete(txCtx, guest); err != nil {
			return err
		}
		if err := s.carts.Save(txCtx, userCart); err != nil {
			return err
		}
		merged = userCart
		return nil
	})
	if err != nil {
		return Cart{}, mapRepositoryError("cart.merge", err)
	}

	s.cacheInvalidate(ctx, guest)
	if merged.ID != "" {
		s.cachePut(ctx, merged)
	}
	return merged, nil
}

// mutate runs fn against the locked cart, creating it lazily, then recomputes cached totals and
// saves it in the same transaction. A concurrent first write for the same identity surfaces as a
// conflict from the store and is retried against the winner's cart.
func (s *cartService) mutate(ctx context.Context, identity CartIdentity, op string, fn func(context.Context, *Cart, time.Time) error) (Cart, error) {
	if err := validateIdentity(identity); err != nil {
		return Cart{}, err
	}

	var (
		saved Cart
		err   error
	)
	for attempt := 0; attempt < cartCreateAttempts; attempt++ {
		err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
			now := s.now()
			cart, err := s.carts.FindForUpdate(txCtx, identity)
			if err != nil {
				if !isRepositoryNotFound(err) {
					return err
				}
				cart = s.newCart(identity, now)
			}
			if s.expired(cart) {
				cart.Lines = nil
			}
			if err := fn(txCtx, &cart, now); err != nil {
				return err
			}
			if err := s.finalize(&cart, now); err != nil {
				return err
			}
			if err := s.carts.Save(txCtx, cart); err != nil {
				return err
			}
			saved = cart
			return nil
		})
		if err == nil || !isRepositoryConflict(err) || isServiceError(err) {
			break
		}
		s.logger(ctx, "cart.save.conflict", map[string]any{"identity": identity.Key(), "attempt": attempt + 1})
	}
	if err != nil {
		return Cart{}, mapRepositoryError(op, err)
	}

	s.cachePut(ctx, saved)
	return saved, nil
}

// finalize recomputes cached totals and refreshes the guest expiry.
func (s *cartService) finalize(cart *Cart, now time.Time) error {
	if err := cart.Recalculate(); err != nil {
		return newValidationError("currency", "%v", err)
	}
	cart.UpdatedAt = now
	if cart.Identity.IsGuest() {
		expires := now.Add(s.guestTTL)
		cart.ExpiresAt = &expires
	}
	return nil
}

func (s *cartService) newCart(identity CartIdentity, now time.Time) Cart {
	return Cart{
		ID:          s.newID(),
		Identity:    identity,
		Currency:    s.currency,
		TotalAmount: domain.Zero(s.currency),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *cartService) emptyCart(identity CartIdentity) Cart {
	return Cart{
		Identity:    identity,
		Currency:    s.currency,
		TotalAmount: domain.Zero(s.currency),
	}
}

func (s *cartService) expired(cart Cart) bool {
	return cartExpired(cart, s.now())
}

// cartExpired reports whether a guest cart has outlived its TTL. An expired cart reads as empty
// everywhere, checkout included, even while its row still exists.
func cartExpired(cart Cart, now time.Time) bool {
	return cart.ExpiresAt != nil && !cart.ExpiresAt.After(now)
}

func (s *cartService) cachePut(ctx context.Context, cart Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, cart); err != nil {
		s.logger(ctx, "cart.cache.put.failed", map[string]any{"identity": cart.Identity.Key(), "error": err.Error()})
	}
}

func (s *cartService) cacheInvalidate(ctx context.Context, identity CartIdentity) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identity); err != nil {
		s.logger(ctx, "cart.cache.invalidate.failed", map[string]any{"identity": identity.Key(), "error": err.Error()})
	}
}

func validateIdentity(identity CartIdentity) error {
	if err := identity.Validate(); err != nil {
		return newValidationError("identity", "exactly one of user id or session key is required")
	}
	return nil
}

func cartLineNotFound(productID string) error {
	return fmt.Errorf("%w: cart has no line for product %s", ErrNotFound, productID)
}

func removeLine(lines []CartLine, idx int) []CartLine {
	out := make([]CartLine, 0, len(lines)-1)
	out = append(out, lines[:idx]...)
	return append(out, lines[idx+1:]...)
}
