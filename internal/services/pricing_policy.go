package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// PricingInput is what a pricing policy sees when an order is created.
type PricingInput struct {
	Currency  string
	Subtotal  Money
	ItemCount int
	Shipping  ShippingInfo
}

// Charges are the monetary components added to an order's subtotal.
type Charges struct {
	Tax      Money
	Shipping Money
	Discount Money
}

// PricingPolicy computes default order charges when the caller supplies none.
type PricingPolicy interface {
	Charges(ctx context.Context, input PricingInput) (Charges, error)
}

// FlatRatePolicy applies a single tax rate and a flat shipping fee waived above a threshold. It does
// not compute jurisdiction-specific tax.
type FlatRatePolicy struct {
	TaxRate decimal.Decimal
	// ShippingFlat is charged per order; zero disables shipping charges.
	ShippingFlat decimal.Decimal
	// FreeShippingOver waives shipping when the subtotal reaches it; zero disables the waiver.
	FreeShippingOver decimal.Decimal
}

var _ PricingPolicy = FlatRatePolicy{}

func (p FlatRatePolicy) Charges(_ context.Context, input PricingInput) (Charges, error) {
	currency := input.Currency
	shipping := domain.NewMoney(p.ShippingFlat, currency)
	if p.FreeShippingOver.IsPositive() && input.Subtotal.Amount.GreaterThanOrEqual(p.FreeShippingOver) {
		shipping = domain.Zero(currency)
	}
	return Charges{
		Tax:      input.Subtotal.MulRate(p.TaxRate),
		Shipping: shipping,
		Discount: domain.Zero(currency),
	}, nil
}
