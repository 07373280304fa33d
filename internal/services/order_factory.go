package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/money"
	"github.com/hanko-field/ordercore/internal/platform/textutil"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	orderNumberSuffixLength = 6
	maxOrderNotesLength     = 2000
	maxShippingFieldLength  = 200
	maxNumberPicks          = 3
)

// CreateOrder converts the identity's cart into an order in one transaction: the cart is locked,
// every stock record is locked and checked before any decrement, the order and its snapshot lines
// are inserted, and the cart is removed. Any failure rolls back all of it. A collision on the order
// number retries the whole transaction.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateIdentity(cmd.Identity); err != nil {
		return Order{}, err
	}
	shipping, err := sanitizeShipping(cmd.Shipping)
	if err != nil {
		return Order{}, err
	}
	notes := textutil.TruncateRunes(textutil.SanitizeText(cmd.Notes), maxOrderNotesLength)

	var (
		created      Order
		reservations []Reservation
	)
	for attempt := 1; ; attempt++ {
		err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
			order, reserved, err := s.buildOrder(txCtx, cmd.Identity, shipping, notes, cmd.Charges)
			if err != nil {
				return err
			}
			created = order
			reservations = reserved
			return nil
		})
		if err == nil || !errors.Is(err, repositories.ErrDuplicateOrderNumber) || attempt >= s.numberAttempts {
			break
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"identity": cmd.Identity.Key(),
			"attempt":  attempt,
		})
	}
	if err != nil {
		return Order{}, mapRepositoryError("order.create", err)
	}

	if s.cartCache != nil {
		if err := s.cartCache.Invalidate(ctx, cmd.Identity); err != nil {
			s.logger(ctx, "cart.cache.invalidate.failed", map[string]any{"identity": cmd.Identity.Key(), "error": err.Error()})
		}
	}
	s.publishEvent(ctx, domain.OrderCreatedEvent(s.newID(), created, created.CreatedAt))
	s.inventory.PublishLowStock(ctx, reservations)
	return created, nil
}

// buildOrder performs every read (cart, order number, stock) before the first write so stores that
// require reads ahead of writes inside a transaction are satisfied.
func (s *orderService) buildOrder(ctx context.Context, identity CartIdentity, shipping ShippingInfo, notes string, overrides *ChargeOverrides) (Order, []Reservation, error) {
	cart, err := s.carts.FindForUpdate(ctx, identity)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, nil, ErrEmptyCart
		}
		return Order{}, nil, err
	}
	now := s.now()
	if len(cart.Lines) == 0 || cartExpired(cart, now) {
		return Order{}, nil, ErrEmptyCart
	}
	currency := money.CoerceCurrency(cart.Currency, s.normalizer.DefaultCurrency)

	requests := make([]StockRequest, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Price.Currency != currency {
			return Order{}, nil, newValidationError("currency", "line %s is priced in %s, cart uses %s", line.ProductID, line.Price.Currency, currency)
		}
		requests = append(requests, StockRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	number, err := s.pickOrderNumber(ctx, now)
	if err != nil {
		return Order{}, nil, err
	}

	reservations, err := s.inventory.ReserveAll(ctx, requests)
	if err != nil {
		return Order{}, nil, err
	}
	reserved := make(map[string]Reservation, len(reservations))
	for _, r := range reservations {
		reserved[r.ProductID] = r
	}

	lines := make([]OrderLine, 0, len(cart.Lines))
	subtotal := domain.Zero(currency)
	for _, line := range cart.Lines {
		r := reserved[line.ProductID]
		total := line.Price.MulInt(line.Quantity)
		if subtotal, err = subtotal.Add(total); err != nil {
			return Order{}, nil, newValidationError("currency", "%v", err)
		}
		lines = append(lines, OrderLine{
			ProductID:   line.ProductID,
			ProductName: r.Product.Name,
			SKU:         r.Product.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price,
			TotalPrice:  total,
			Backordered: r.Backordered,
		})
	}

	charges, err := s.resolveCharges(ctx, currency, subtotal, cart.ItemCount, shipping, overrides)
	if err != nil {
		return Order{}, nil, err
	}

	order := Order{
		ID:             s.newID(),
		OrderNumber:    number,
		Customer:       identity,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Currency:       currency,
		Subtotal:       subtotal,
		TaxAmount:      charges.Tax,
		ShippingCost:   charges.Shipping,
		DiscountAmount: charges.Discount,
		Lines:          lines,
		Shipping:       shipping,
		Notes:          notes,
		StatusHistory: []domain.StatusChange{{
			To:      domain.OrderStatusPending,
			At:      now,
			ActorID: identity.Key(),
			Reason:  "order created",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := order.RecomputeTotal(); err != nil {
		return Order{}, nil, newValidationError("currency", "%v", err)
	}
	if order.TotalAmount.IsNegative() {
		return Order{}, nil, newValidationError("discount", "exceeds the order value")
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, nil, err
	}
	if err := s.carts.Delete(ctx, identity); err != nil {
		return Order{}, nil, err
	}
	return order, reservations, nil
}

// pickOrderNumber draws numbers until one is free. The store still enforces uniqueness on insert,
// which covers a concurrent transaction taking the same number after this check.
func (s *orderService) pickOrderNumber(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < maxNumberPicks; i++ {
		number := s.nextNumber(now)
		exists, err := s.orders.NumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("%w: no free number after %d draws", repositories.ErrDuplicateOrderNumber, maxNumberPicks)
}

// resolveCharges starts from the pricing policy and replaces any component the caller supplied.
// Supplied values arrive unnormalized; a value that degrades to zero from non-zero-looking input is
// rejected rather than silently charged as zero.
func (s *orderService) resolveCharges(ctx context.Context, currency string, subtotal Money, itemCount int, shipping ShippingInfo, overrides *ChargeOverrides) (Charges, error) {
	charges, err := s.pricing.Charges(ctx, PricingInput{
		Currency:  currency,
		Subtotal:  subtotal,
		ItemCount: itemCount,
		Shipping:  shipping,
	})
	if err != nil {
		return Charges{}, fmt.Errorf("order: pricing policy: %w", err)
	}
	charges.Tax = orZero(charges.Tax, currency)
	charges.Shipping = orZero(charges.Shipping, currency)
	charges.Discount = orZero(charges.Discount, currency)
	if overrides == nil {
		return charges, nil
	}

	normalizer := money.New(currency)
	apply := func(field string, raw any, target *Money) error {
		if raw == nil {
			return nil
		}
		value := normalizer.Normalize(raw)
		if money.Degraded(raw, value) {
			return newValidationError(field, "could not parse amount %q", fmt.Sprint(raw))
		}
		if value.IsNegative() {
			return newValidationError(field, "must not be negative")
		}
		if value.Currency != currency {
			return newValidationError(field, "currency %s does not match order currency %s", value.Currency, currency)
		}
		*target = value
		return nil
	}
	if err := apply("tax_amount", overrides.Tax, &charges.Tax); err != nil {
		return Charges{}, err
	}
	if err := apply("shipping_cost", overrides.Shipping, &charges.Shipping); err != nil {
		return Charges{}, err
	}
	if err := apply("discount_amount", overrides.Discount, &charges.Discount); err != nil {
		return Charges{}, err
	}
	return charges, nil
}

func orZero(value Money, currency string) Money {
	if value.Currency == "" {
		return domain.NewMoney(value.Amount, currency)
	}
	return value
}

func sanitizeShipping(info ShippingInfo) (ShippingInfo, error) {
	clean := func(v string) string {
		return textutil.TruncateRunes(textutil.SanitizeText(v), maxShippingFieldLength)
	}
	out := ShippingInfo{
		RecipientName: clean(info.RecipientName),
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		Phone:         clean(info.Phone),
		Line1:         clean(info.Line1),
		Line2:         clean(info.Line2),
		City:          clean(info.City),
		Region:        clean(info.Region),
		PostalCode:    clean(info.PostalCode),
		Country:       strings.ToUpper(clean(info.Country)),
	}
	switch {
	case out.RecipientName == "":
		return ShippingInfo{}, newValidationError("shipping.recipient_name", "is required")
	case out.Line1 == "":
		return ShippingInfo{}, newValidationError("shipping.line1", "is required")
	case out.City == "":
		return ShippingInfo{}, newValidationError("shipping.city", "is required")
	case out.Country == "":
		return ShippingInfo{}, newValidationError("shipping.country", "is required")
	}
	if out.Email != "" {
		if _, err := mail.ParseAddress(out.Email); err != nil {
			return ShippingInfo{}, newValidationError("shipping.email", "is not a valid address")
		}
	}
	return out, nil
}

// newOrderNumberGenerator returns <prefix>-YYYYMMDD-<six Crockford base32 characters>. The suffix is
// taken from the random part of a ULID.
func newOrderNumberGenerator(prefix string) func(time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return func(now time.Time) string {
		id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
		if err != nil {
			id = ulid.Make()
		}
		encoded := id.String()
		return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), encoded[len(encoded)-orderNumberSuffixLength:])
	}
}
