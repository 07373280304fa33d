package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/ordercore/internal/domain"
)

// Amounts are stored as decimal strings; Firestore numbers are floats.

type productDocument struct {
	SKU               string    `firestore:"sku"`
	Name              string    `firestore:"name"`
	Price             string    `firestore:"price"`
	Currency          string    `firestore:"currency"`
	StockQuantity     int       `firestore:"stockQuantity"`
	TrackInventory    bool      `firestore:"trackInventory"`
	AllowBackorders   bool      `firestore:"allowBackorders"`
	LowStockThreshold int       `firestore:"lowStockThreshold"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SKU:               p.SKU,
		Name:              p.Name,
		Price:             p.Price.StringFixed(),
		Currency:          p.Price.Currency,
		StockQuantity:     p.StockQuantity,
		TrackInventory:    p.TrackInventory,
		AllowBackorders:   p.AllowBackorders,
		LowStockThreshold: p.LowStockThreshold,
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseMoney(d.Price, d.Currency)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, err)
	}
	return domain.Product{
		ID:                id,
		SKU:               d.SKU,
		Name:              d.Name,
		Price:             price,
		StockQuantity:     d.StockQuantity,
		TrackInventory:    d.TrackInventory,
		AllowBackorders:   d.AllowBackorders,
		LowStockThreshold: d.LowStockThreshold,
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	Price     string    `firestore:"price"`
	Currency  string    `firestore:"currency"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type cartDocument struct {
	ID          string             `firestore:"id"`
	UserID      string             `firestore:"userId,omitempty"`
	SessionKey  string             `firestore:"sessionKey,omitempty"`
	Currency    string             `firestore:"currency"`
	TotalAmount string             `firestore:"totalAmount"`
	ItemCount   int                `firestore:"itemCount"`
	Lines       []cartLineDocument `firestore:"lines"`
	ExpiresAt   *time.Time         `firestore:"expiresAt,omitempty"`
	CreatedAt   time.Time          `firestore:"createdAt"`
	UpdatedAt   time.Time          `firestore:"updatedAt"`
}

func newCartDocument(c domain.Cart) cartDocument {
	doc := cartDocument{
		ID:          c.ID,
		UserID:      c.Identity.UserID,
		Currency:    c.Currency,
		TotalAmount: c.TotalAmount.StringFixed(),
		ItemCount:   c.ItemCount,
		ExpiresAt:   utcPtr(c.ExpiresAt),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
	if c.Identity.IsGuest() {
		doc.SessionKey = c.Identity.SessionKey
	}
	doc.Lines = make([]cartLineDocument, 0, len(c.Lines))
	for _, line := range c.Lines {
		doc.Lines = append(doc.Lines, cartLineDocument{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price.StringFixed(),
			Currency:  line.Price.Currency,
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	return doc
}

func (d cartDocument) toDomain() (domain.Cart, error) {
	total, err := parseMoney(d.TotalAmount, d.Currency)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart %s: %w", d.ID, err)
	}
	cart := domain.Cart{
		ID:          d.ID,
		Identity:    domain.CartIdentity{UserID: d.UserID, SessionKey: d.SessionKey},
		Currency:    d.Currency,
		TotalAmount: total,
		ItemCount:   d.ItemCount,
		ExpiresAt:   utcPtr(d.ExpiresAt),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	for _, line := range d.Lines {
		price, err := parseMoney(line.Price, line.Currency)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("cart %s line %s: %w", d.ID, line.ProductID, err)
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     price,
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	return cart, nil
}

type orderLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	SKU         string `firestore:"sku"`
	Quantity    int    `firestore:"quantity"`
	Price       string `firestore:"price"`
	TotalPrice  string `firestore:"totalPrice"`
	Backordered bool   `firestore:"backordered"`
}

type shippingDocument struct {
	RecipientName string `firestore:"recipientName"`
	Email         string `firestore:"email,omitempty"`
	Phone         string `firestore:"phone,omitempty"`
	Line1         string `firestore:"line1"`
	Line2         string `firestore:"line2,omitempty"`
	City          string `firestore:"city"`
	Region        string `firestore:"region,omitempty"`
	PostalCode    string `firestore:"postalCode,omitempty"`
	Country       string `firestore:"country"`
}

type statusChangeDocument struct {
	From    string    `firestore:"from,omitempty"`
	To      string    `firestore:"to"`
	At      time.Time `firestore:"at"`
	ActorID string    `firestore:"actorId,omitempty"`
	Reason  string    `firestore:"reason,omitempty"`
}

type orderDocument struct {
	OrderNumber    string                 `firestore:"orderNumber"`
	UserID         string                 `firestore:"userId,omitempty"`
	SessionKey     string                 `firestore:"sessionKey,omitempty"`
	CustomerKey    string                 `firestore:"customerKey"`
	Status         string                 `firestore:"status"`
	PaymentStatus  string                 `firestore:"paymentStatus"`
	Currency       string                 `firestore:"currency"`
	Subtotal       string                 `firestore:"subtotal"`
	TaxAmount      string                 `firestore:"taxAmount"`
	ShippingCost   string                 `firestore:"shippingCost"`
	DiscountAmount string                 `firestore:"discountAmount"`
	TotalAmount    string                 `firestore:"totalAmount"`
	Lines          []orderLineDocument    `firestore:"lines"`
	Shipping       shippingDocument       `firestore:"shipping"`
	Notes          string                 `firestore:"notes,omitempty"`
	Carrier        string                 `firestore:"carrier,omitempty"`
	TrackingNumber string                 `firestore:"trackingNumber,omitempty"`
	StatusHistory  []statusChangeDocument `firestore:"statusHistory"`
	CancelReason   string                 `firestore:"cancelReason,omitempty"`
	CreatedAt      time.Time              `firestore:"createdAt"`
	UpdatedAt      time.Time              `firestore:"updatedAt"`
	ShippedAt      *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time             `firestore:"cancelledAt,omitempty"`
	ReturnedAt     *time.Time             `firestore:"returnedAt,omitempty"`
	RefundedAt     *time.Time             `firestore:"refundedAt,omitempty"`
	RestockedAt    *time.Time             `firestore:"restockedAt,omitempty"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:    o.OrderNumber,
		UserID:         o.Customer.UserID,
		CustomerKey:    o.Customer.Key(),
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Currency:       o.Currency,
		Subtotal:       o.Subtotal.StringFixed(),
		TaxAmount:      o.TaxAmount.StringFixed(),
		ShippingCost:   o.ShippingCost.StringFixed(),
		DiscountAmount: o.DiscountAmount.StringFixed(),
		TotalAmount:    o.TotalAmount.StringFixed(),
		Shipping:       shippingDocument(o.Shipping),
		Notes:          o.Notes,
		Carrier:        o.Carrier,
		TrackingNumber: o.TrackingNumber,
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
		ShippedAt:      utcPtr(o.ShippedAt),
		DeliveredAt:    utcPtr(o.DeliveredAt),
		CancelledAt:    utcPtr(o.CancelledAt),
		ReturnedAt:     utcPtr(o.ReturnedAt),
		RefundedAt:     utcPtr(o.RefundedAt),
		RestockedAt:    utcPtr(o.RestockedAt),
	}
	if o.Customer.IsGuest() {
		doc.SessionKey = o.Customer.SessionKey
	}
	doc.Lines = make([]orderLineDocument, 0, len(o.Lines))
	for _, line := range o.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price.StringFixed(),
			TotalPrice:  line.TotalPrice.StringFixed(),
			Backordered: line.Backordered,
		})
	}
	doc.StatusHistory = make([]statusChangeDocument, 0, len(o.StatusHistory))
	for _, change := range o.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			From:    string(change.From),
			To:      string(change.To),
			At:      change.At.UTC(),
			ActorID: change.ActorID,
			Reason:  change.Reason,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	amounts := map[string]string{
		"subtotal": d.Subtotal, "taxAmount": d.TaxAmount, "shippingCost": d.ShippingCost,
		"discountAmount": d.DiscountAmount, "totalAmount": d.TotalAmount,
	}
	parsed := make(map[string]domain.Money, len(amounts))
	for field, raw := range amounts {
		m, err := parseMoney(raw, d.Currency)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s %s: %w", id, field, err)
		}
		parsed[field] = m
	}

	order := domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		Customer:       domain.CartIdentity{UserID: d.UserID, SessionKey: d.SessionKey},
		Status:         domain.OrderStatus(d.Status),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		Currency:       d.Currency,
		Subtotal:       parsed["subtotal"],
		TaxAmount:      parsed["taxAmount"],
		ShippingCost:   parsed["shippingCost"],
		DiscountAmount: parsed["discountAmount"],
		TotalAmount:    parsed["totalAmount"],
		Shipping:       domain.ShippingInfo(d.Shipping),
		Notes:          d.Notes,
		Carrier:        d.Carrier,
		TrackingNumber: d.TrackingNumber,
		CancelReason:   d.CancelReason,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		ShippedAt:      utcPtr(d.ShippedAt),
		DeliveredAt:    utcPtr(d.DeliveredAt),
		CancelledAt:    utcPtr(d.CancelledAt),
		ReturnedAt:     utcPtr(d.ReturnedAt),
		RefundedAt:     utcPtr(d.RefundedAt),
		RestockedAt:    utcPtr(d.RestockedAt),
	}
	for _, line := range d.Lines {
		price, err := parseMoney(line.Price, d.Currency)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s line %s: %w", id, line.ProductID, err)
		}
		total, err := parseMoney(line.TotalPrice, d.Currency)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s line %s: %w", id, line.ProductID, err)
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       price,
			TotalPrice:  total,
			Backordered: line.Backordered,
		})
	}
	for _, change := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:    domain.OrderStatus(change.From),
			To:      domain.OrderStatus(change.To),
			At:      change.At.UTC(),
			ActorID: change.ActorID,
			Reason:  change.Reason,
		})
	}
	return order, nil
}

func parseMoney(amount, currency string) (domain.Money, error) {
	if amount == "" {
		return domain.Zero(currency), nil
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return domain.NewMoney(value, currency), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
