package domain

import (
	"errors"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the catalog-owned record consumed by the cart and order paths. Stock fields are the only
// part mutated by this service.
type Product struct {
	ID                string
	SKU               string
	Name              string
	Price             Money
	StockQuantity     int
	TrackInventory    bool
	AllowBackorders   bool
	LowStockThreshold int
	UpdatedAt         time.Time
}

// Available reports whether the product can currently be sold in any quantity.
func (p Product) Available() bool {
	if !p.TrackInventory || p.AllowBackorders {
		return true
	}
	return p.StockQuantity > 0
}

// IsLowStock reports whether tracked stock is at or below the configured threshold.
func (p Product) IsLowStock() bool {
	return p.TrackInventory && p.LowStockThreshold > 0 && p.StockQuantity <= p.LowStockThreshold
}

// ErrInvalidIdentity indicates a cart identity that carries both or neither of user and session.
var ErrInvalidIdentity = errors.New("identity: exactly one of user id or session key is required")

// CartIdentity identifies the owner of a cart or order: an authenticated user or a guest session.
type CartIdentity struct {
	UserID     string
	SessionKey string
}

// UserIdentity builds an identity for an authenticated user.
func UserIdentity(userID string) CartIdentity { return CartIdentity{UserID: strings.TrimSpace(userID)} }

// GuestIdentity builds an identity for an anonymous session.
func GuestIdentity(sessionKey string) CartIdentity {
	return CartIdentity{SessionKey: strings.TrimSpace(sessionKey)}
}

// Validate enforces the user XOR session rule.
func (i CartIdentity) Validate() error {
	hasUser := strings.TrimSpace(i.UserID) != ""
	hasSession := strings.TrimSpace(i.SessionKey) != ""
	if hasUser == hasSession {
		return ErrInvalidIdentity
	}
	return nil
}

// IsGuest reports whether the identity is a guest session.
func (i CartIdentity) IsGuest() bool { return strings.TrimSpace(i.UserID) == "" }

// Key returns a stable storage key such as "user:abc" or "guest:xyz".
func (i CartIdentity) Key() string {
	if i.IsGuest() {
		return "guest:" + strings.TrimSpace(i.SessionKey)
	}
	return "user:" + strings.TrimSpace(i.UserID)
}

// Owns reports whether the identity matches the given owner fields.
func (i CartIdentity) Owns(owner CartIdentity) bool {
	if i.Validate() != nil || owner.Validate() != nil {
		return false
	}
	return i.Key() == owner.Key()
}

// Cart is the mutable pre-checkout collection for one identity.
type Cart struct {
	ID          string
	Identity    CartIdentity
	Currency    string
	Lines       []CartLine
	TotalAmount Money
	ItemCount   int
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartLine is one product's quantity and captured price within a cart.
type CartLine struct {
	ProductID string
	Quantity  int
	Price     Money
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Total returns price multiplied by quantity.
func (l CartLine) Total() Money { return l.Price.MulInt(l.Quantity) }

// Line returns the line for productID and its index, or -1.
func (c Cart) Line(productID string) (CartLine, int) {
	for idx, line := range c.Lines {
		if line.ProductID == productID {
			return line, idx
		}
	}
	return CartLine{}, -1
}

// Recalculate refreshes the cached total amount and item count from the lines.
func (c *Cart) Recalculate() error {
	total := Zero(c.Currency)
	count := 0
	for _, line := range c.Lines {
		next, err := total.Add(line.Total())
		if err != nil {
			return err
		}
		total = next
		count += line.Quantity
	}
	c.TotalAmount = total
	c.ItemCount = count
	return nil
}

// CartTotals is the advisory totals view returned to clients.
type CartTotals struct {
	Subtotal  Money
	Tax       Money
	Total     Money
	ItemCount int
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates the order was accepted.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing indicates fulfilment is underway.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusReturned indicates goods came back from the customer.
	OrderStatusReturned OrderStatus = "RETURNED"
	// OrderStatusRefunded is terminal.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// ParseOrderStatus accepts any casing and returns false for unknown values.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned, OrderStatusRefunded:
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentStatus is driven by the payment collaborator, independently of OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// ParsePaymentStatus accepts any casing and returns false for unknown values.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	status := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return status, true
	}
	return "", false
}

// ShippingInfo is the delivery destination captured at checkout.
type ShippingInfo struct {
	RecipientName string
	Email         string
	Phone         string
	Line1         string
	Line2         string
	City          string
	Region        string
	PostalCode    string
	Country       string
}

// StatusChange is one audit entry in an order's status history.
type StatusChange struct {
	From    OrderStatus
	To      OrderStatus
	At      time.Time
	ActorID string
	Reason  string
}

// Order is the immutable record of a completed checkout. Only status, payment status, fulfilment
// fields and history change after creation.
type Order struct {
	ID             string
	OrderNumber    string
	Customer       CartIdentity
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Currency       string
	Subtotal       Money
	TaxAmount      Money
	ShippingCost   Money
	DiscountAmount Money
	TotalAmount    Money
	Lines          []OrderLine
	Shipping       ShippingInfo
	Notes          string
	Carrier        string
	TrackingNumber string
	StatusHistory  []StatusChange
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CancelReason   string
	ReturnedAt     *time.Time
	RefundedAt     *time.Time
	RestockedAt    *time.Time
}

// OrderLine is the frozen snapshot of one purchased product.
type OrderLine struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	Price       Money
	TotalPrice  Money
	Backordered bool
}

// CanBeCancelled reports whether a customer may still cancel the order.
func (o Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// CanBeShipped reports whether the order is paid and in a shippable state.
func (o Order) CanBeShipped() bool {
	if o.PaymentStatus != PaymentStatusPaid {
		return false
	}
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusProcessing
}

// RecomputeTotal sets TotalAmount = Subtotal + TaxAmount + ShippingCost - DiscountAmount.
func (o *Order) RecomputeTotal() error {
	total, err := SumMoney(o.Currency, o.Subtotal, o.TaxAmount, o.ShippingCost)
	if err != nil {
		return err
	}
	total, err = total.Sub(o.DiscountAmount)
	if err != nil {
		return err
	}
	o.TotalAmount = total
	return nil
}

// ItemCount sums line quantities.
func (o Order) ItemCount() int {
	count := 0
	for _, line := range o.Lines {
		count += line.Quantity
	}
	return count
}

// StockRequest asks the ledger for a quantity of one product.
type StockRequest struct {
	ProductID string
	Quantity  int
}

// StockShortfall describes one product that cannot satisfy a request.
type StockShortfall struct {
	ProductID string
	Requested int
	Available int
}

// Reservation is the outcome of reserving stock for one product. Product holds the record as it
// was read under lock, before the decrement.
type Reservation struct {
	ProductID   string
	Quantity    int
	Backordered bool
	Remaining   int
	LowStock    bool
	Product     Product
}

// HealthStatus summarises a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the outcome of probing one dependency.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
