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
	defaultOrderNumberPrefix   = "ORD"
	defaultOrderNumberAttempts = 5
)

var (
	errOrderRepositoryRequired = errors.New("order service: order repository is required")
	errOrderCartsRequired      = errors.New("order service: cart repository is required")
	errOrderInventoryRequired  = errors.New("order service: inventory service is required")
	errOrderUnitOfWorkRequired = errors.New("order service: unit of work is required")
)

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	Inventory  InventoryService
	UnitOfWork repositories.UnitOfWork
	Events     EventPublisher
	CartCache  CartCache
	Pricing    PricingPolicy
	Normalizer money.Normalizer
	// NumberPrefix starts every human readable order number, e.g. ORD-20260501-7KX2QD.
	NumberPrefix string
	// NumberAttempts bounds how often order creation is retried after an order number collision.
	NumberAttempts int
	// NumberGenerator overrides the random order number source.
	NumberGenerator func(now time.Time) string
	// RestockOnReturn releases inventory when an order enters RETURNED.
	RestockOnReturn bool
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	carts           repositories.CartRepository
	inventory       InventoryService
	uow             repositories.UnitOfWork
	events          EventPublisher
	cartCache       CartCache
	pricing         PricingPolicy
	normalizer      money.Normalizer
	numberAttempts  int
	nextNumber      func(now time.Time) string
	restockOnReturn bool
	now             func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errOrderCartsRequired
	}
	if deps.Inventory == nil {
		return nil, errOrderInventoryRequired
	}
	if deps.UnitOfWork == nil {
		return nil, errOrderUnitOfWorkRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = FlatRatePolicy{TaxRate: decimal.Zero}
	}

	normalizer := deps.Normalizer
	if normalizer.DefaultCurrency == "" {
		normalizer = money.New(domain.DefaultCurrency)
	}

	attempts := deps.NumberAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}

	nextNumber := deps.NumberGenerator
	if nextNumber == nil {
		nextNumber = newOrderNumberGenerator(deps.NumberPrefix)
	}

	return &orderService{
		orders:          deps.Orders,
		carts:           deps.Carts,
		inventory:       deps.Inventory,
		uow:             deps.UnitOfWork,
		events:          deps.Events,
		cartCache:       deps.CartCache,
		pricing:         pricing,
		normalizer:      normalizer,
		numberAttempts:  attempts,
		nextNumber:      nextNumber,
		restockOnReturn: deps.RestockOnReturn,
		now:             func() time.Time { return clock().UTC() },
		newID:           idGen,
		logger:          logger,
	}, nil
}

// GetOrder loads an order. When viewer is set the order must belong to it; foreign orders read as
// not found so their existence is not revealed.
func (s *orderService) GetOrder(ctx context.Context, orderID string, viewer *CartIdentity) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, newValidationError("order_id", "is required")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError("order.get", err)
	}
	if viewer != nil && !viewer.Owns(order.Customer) {
		return Order{}, errOrderNotVisible(orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Customer != nil {
		if err := validateIdentity(*filter.Customer); err != nil {
			return domain.CursorPage[Order]{}, err
		}
	}
	if filter.Pagination.PageSize < 0 {
		return domain.CursorPage[Order]{}, newValidationError("page_size", "must not be negative")
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError("order.list", err)
	}
	return page, nil
}

// UpdatePaymentStatus records the payment collaborator's view of the order. It is independent of the
// status state machine.
func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd PaymentStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, newValidationError("order_id", "is required")
	}
	status, ok := domain.ParsePaymentStatus(string(cmd.Status))
	if !ok {
		return Order{}, newValidationError("payment_status", "unknown payment status %q", cmd.Status)
	}

	var (
		updated  Order
		previous PaymentStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		previous = order.PaymentStatus
		if previous == status {
			updated = order
			return nil
		}
		order.PaymentStatus = status
		order.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError("order.payment", err)
	}
	if previous != status {
		s.logger(ctx, "order.payment_status.changed", map[string]any{
			"orderId": orderID,
			"from":    string(previous),
			"to":      string(status),
			"actorId": strings.TrimSpace(cmd.ActorID),
		})
	}
	return updated, nil
}

func (s *orderService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func errOrderNotVisible(orderID string) error {
	return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
}
