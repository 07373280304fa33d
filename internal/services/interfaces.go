package services

import (
	"context"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money          = domain.Money
	Product        = domain.Product
	Cart           = domain.Cart
	CartLine       = domain.CartLine
	CartIdentity   = domain.CartIdentity
	CartTotals     = domain.CartTotals
	Order          = domain.Order
	OrderLine      = domain.OrderLine
	OrderStatus    = domain.OrderStatus
	PaymentStatus  = domain.PaymentStatus
	ShippingInfo   = domain.ShippingInfo
	StockRequest   = domain.StockRequest
	StockShortfall = domain.StockShortfall
	Reservation    = domain.Reservation
	Event          = domain.Event
	HealthReport   = domain.HealthReport
)

// InventoryService is the stock ledger. Every mutation holds an exclusive lock on the product's
// stock record for its read-check-write sequence and joins an ambient transaction when the context
// carries one.
type InventoryService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	// Check reports shortfalls for the requests without locking or mutating anything.
	Check(ctx context.Context, requests []StockRequest) ([]StockShortfall, error)
	Reserve(ctx context.Context, productID string, quantity int) (Reservation, error)
	// ReserveAll reserves every request or none. Low-stock notifications are left to the caller via
	// PublishLowStock so they fire only after the outermost transaction commits.
	ReserveAll(ctx context.Context, requests []StockRequest) ([]Reservation, error)
	Release(ctx context.Context, productID string, quantity int) error
	ReleaseAll(ctx context.Context, requests []StockRequest) error
	Adjust(ctx context.Context, productID string, delta int) (int, error)
	PublishLowStock(ctx context.Context, reservations []Reservation)
	ImportProducts(ctx context.Context, items []ProductImport) (ImportReport, error)
}

// CartService manages the per-identity cart.
type CartService interface {
	GetCart(ctx context.Context, identity CartIdentity) (Cart, error)
	AddItem(ctx context.Context, identity CartIdentity, productID string, quantity int) (Cart, error)
	UpdateItem(ctx context.Context, identity CartIdentity, productID string, quantity int) (Cart, error)
	RemoveItem(ctx context.Context, identity CartIdentity, productID string) (Cart, error)
	Clear(ctx context.Context, identity CartIdentity) (Cart, error)
	Totals(ctx context.Context, identity CartIdentity) (CartTotals, error)
	MergeGuestCart(ctx context.Context, sessionKey, userID string) (Cart, error)
}

// OrderService converts carts into orders and governs every later change through the status state
// machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, viewer *CartIdentity) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelCommand) (Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd PaymentStatusCommand) (Order, error)
}

// SystemService reports dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// EventPublisher delivers events to the notification collaborator. Publication happens after commit
// and its failure never affects the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// CartCache is an advisory read-through cache of carts keyed by identity.
type CartCache interface {
	Get(ctx context.Context, identity CartIdentity) (Cart, bool, error)
	Put(ctx context.Context, cart Cart) error
	Invalidate(ctx context.Context, identity CartIdentity) error
}

// OrderListFilter narrows ListOrders.
type OrderListFilter = repositories.OrderListFilter

// ProductImport is one raw catalog row fed to the bulk import path. Price is accepted in any format
// the money normalizer understands.
type ProductImport struct {
	ID                string
	SKU               string
	Name              string
	Price             any
	Currency          string
	StockQuantity     int
	TrackInventory    bool
	AllowBackorders   bool
	LowStockThreshold int
}

// ImportIssue describes a row that was rejected or degraded during import.
type ImportIssue struct {
	Index     int
	ProductID string
	Message   string
}

// ImportReport summarises a bulk import.
type ImportReport struct {
	Imported int
	Degraded int
	Rejected int
	Issues   []ImportIssue
}

// ChargeOverrides carries caller-supplied monetary components in raw form. Nil fields fall back to
// the pricing policy.
type ChargeOverrides struct {
	Tax      any
	Shipping any
	Discount any
}

// CreateOrderCommand converts the identity's cart into an order.
type CreateOrderCommand struct {
	Identity CartIdentity
	Shipping ShippingInfo
	Notes    string
	Charges  *ChargeOverrides
}

// TrackingInfo is accepted when an order enters SHIPPED.
type TrackingInfo struct {
	Carrier        string
	TrackingNumber string
}

// TransitionCommand moves an order along the state machine on behalf of staff.
type TransitionCommand struct {
	OrderID  string
	To       OrderStatus
	ActorID  string
	Reason   string
	Tracking *TrackingInfo
}

// CancelCommand cancels an order. When Customer is set the caller must own the order and the order
// must still be cancellable by a customer.
type CancelCommand struct {
	OrderID  string
	Reason   string
	ActorID  string
	Customer *CartIdentity
}

// PaymentStatusCommand records an externally driven payment status change.
type PaymentStatusCommand struct {
	OrderID string
	Status  PaymentStatus
	ActorID string
}
