package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/ordercore/internal/domain"
)

type productRow struct {
	ID                string          `gorm:"column:id;primaryKey"`
	SKU               string          `gorm:"column:sku"`
	Name              string          `gorm:"column:name"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(19,2)"`
	Currency          string          `gorm:"column:currency"`
	StockQuantity     int             `gorm:"column:stock_quantity"`
	TrackInventory    bool            `gorm:"column:track_inventory"`
	AllowBackorders   bool            `gorm:"column:allow_backorders"`
	LowStockThreshold int             `gorm:"column:low_stock_threshold"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (productRow) TableName() string { return "products" }

func productFromDomain(p domain.Product) productRow {
	return productRow{
		ID:                p.ID,
		SKU:               p.SKU,
		Name:              p.Name,
		Price:             p.Price.Amount,
		Currency:          p.Price.Currency,
		StockQuantity:     p.StockQuantity,
		TrackInventory:    p.TrackInventory,
		AllowBackorders:   p.AllowBackorders,
		LowStockThreshold: p.LowStockThreshold,
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:                r.ID,
		SKU:               r.SKU,
		Name:              r.Name,
		Price:             domain.NewMoney(r.Price, r.Currency),
		StockQuantity:     r.StockQuantity,
		TrackInventory:    r.TrackInventory,
		AllowBackorders:   r.AllowBackorders,
		LowStockThreshold: r.LowStockThreshold,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type cartRow struct {
	ID          string          `gorm:"column:id;primaryKey"`
	UserID      *string         `gorm:"column:user_id"`
	SessionKey  *string         `gorm:"column:session_key"`
	Currency    string          `gorm:"column:currency"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(19,2)"`
	ItemCount   int             `gorm:"column:item_count"`
	ExpiresAt   *time.Time      `gorm:"column:expires_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (cartRow) TableName() string { return "carts" }

type cartLineRow struct {
	CartID    string          `gorm:"column:cart_id;primaryKey"`
	ProductID string          `gorm:"column:product_id;primaryKey"`
	Position  int             `gorm:"column:position"`
	Quantity  int             `gorm:"column:quantity"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(19,2)"`
	Currency  string          `gorm:"column:currency"`
	AddedAt   time.Time       `gorm:"column:added_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (cartLineRow) TableName() string { return "cart_lines" }

func cartFromDomain(c domain.Cart) (cartRow, []cartLineRow) {
	row := cartRow{
		ID:          c.ID,
		UserID:      nullable(c.Identity.UserID),
		Currency:    c.Currency,
		TotalAmount: c.TotalAmount.Amount,
		ItemCount:   c.ItemCount,
		ExpiresAt:   utcPtr(c.ExpiresAt),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
	if c.Identity.IsGuest() {
		row.SessionKey = nullable(c.Identity.SessionKey)
	}
	lines := make([]cartLineRow, 0, len(c.Lines))
	for i, line := range c.Lines {
		lines = append(lines, cartLineRow{
			CartID:    c.ID,
			ProductID: line.ProductID,
			Position:  i,
			Quantity:  line.Quantity,
			Price:     line.Price.Amount,
			Currency:  line.Price.Currency,
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	return row, lines
}

func (r cartRow) toDomain(lines []cartLineRow) domain.Cart {
	cart := domain.Cart{
		ID:          r.ID,
		Identity:    identityFrom(r.UserID, r.SessionKey),
		Currency:    r.Currency,
		TotalAmount: domain.NewMoney(r.TotalAmount, r.Currency),
		ItemCount:   r.ItemCount,
		ExpiresAt:   utcPtr(r.ExpiresAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	for _, line := range lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     domain.NewMoney(line.Price, line.Currency),
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	return cart
}

type orderRow struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OrderNumber    string          `gorm:"column:order_number"`
	UserID         *string         `gorm:"column:user_id"`
	SessionKey     *string         `gorm:"column:session_key"`
	Status         string          `gorm:"column:status"`
	PaymentStatus  string          `gorm:"column:payment_status"`
	Currency       string          `gorm:"column:currency"`
	Subtotal       decimal.Decimal `gorm:"column:subtotal;type:numeric(19,2)"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(19,2)"`
	ShippingCost   decimal.Decimal `gorm:"column:shipping_cost;type:numeric(19,2)"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(19,2)"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(19,2)"`
	Shipping       []byte          `gorm:"column:shipping;type:jsonb"`
	Notes          string          `gorm:"column:notes"`
	Carrier        string          `gorm:"column:carrier"`
	TrackingNumber string          `gorm:"column:tracking_number"`
	StatusHistory  []byte          `gorm:"column:status_history;type:jsonb"`
	CancelReason   string          `gorm:"column:cancel_reason"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
	ShippedAt      *time.Time      `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time      `gorm:"column:delivered_at"`
	CancelledAt    *time.Time      `gorm:"column:cancelled_at"`
	ReturnedAt     *time.Time      `gorm:"column:returned_at"`
	RefundedAt     *time.Time      `gorm:"column:refunded_at"`
	RestockedAt    *time.Time      `gorm:"column:restocked_at"`
}

func (orderRow) TableName() string { return "orders" }

type orderLineRow struct {
	OrderID     string          `gorm:"column:order_id;primaryKey"`
	Position    int             `gorm:"column:position;primaryKey"`
	ProductID   string          `gorm:"column:product_id"`
	ProductName string          `gorm:"column:product_name"`
	SKU         string          `gorm:"column:sku"`
	Quantity    int             `gorm:"column:quantity"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(19,2)"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:numeric(19,2)"`
	Currency    string          `gorm:"column:currency"`
	Backordered bool            `gorm:"column:backordered"`
}

func (orderLineRow) TableName() string { return "order_lines" }

type shippingDoc struct {
	RecipientName string `json:"recipientName"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country"`
}

type statusChangeDoc struct {
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
	ActorID string    `json:"actorId,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func orderFromDomain(o domain.Order) (orderRow, []orderLineRow, error) {
	shipping, err := json.Marshal(shippingDoc(o.Shipping))
	if err != nil {
		return orderRow{}, nil, fmt.Errorf("encode shipping: %w", err)
	}
	history := make([]statusChangeDoc, 0, len(o.StatusHistory))
	for _, change := range o.StatusHistory {
		history = append(history, statusChangeDoc{
			From:    string(change.From),
			To:      string(change.To),
			At:      change.At.UTC(),
			ActorID: change.ActorID,
			Reason:  change.Reason,
		})
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return orderRow{}, nil, fmt.Errorf("encode status history: %w", err)
	}

	row := orderRow{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         nullable(o.Customer.UserID),
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Currency:       o.Currency,
		Subtotal:       o.Subtotal.Amount,
		TaxAmount:      o.TaxAmount.Amount,
		ShippingCost:   o.ShippingCost.Amount,
		DiscountAmount: o.DiscountAmount.Amount,
		TotalAmount:    o.TotalAmount.Amount,
		Shipping:       shipping,
		Notes:          o.Notes,
		Carrier:        o.Carrier,
		TrackingNumber: o.TrackingNumber,
		StatusHistory:  historyJSON,
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
		row.SessionKey = nullable(o.Customer.SessionKey)
	}

	lines := make([]orderLineRow, 0, len(o.Lines))
	for i, line := range o.Lines {
		lines = append(lines, orderLineRow{
			OrderID:     o.ID,
			Position:    i,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       line.Price.Amount,
			TotalPrice:  line.TotalPrice.Amount,
			Currency:    line.Price.Currency,
			Backordered: line.Backordered,
		})
	}
	return row, lines, nil
}

func (r orderRow) toDomain(lines []orderLineRow) (domain.Order, error) {
	var shipping shippingDoc
	if len(r.Shipping) > 0 {
		if err := json.Unmarshal(r.Shipping, &shipping); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping of order %s: %w", r.ID, err)
		}
	}
	var history []statusChangeDoc
	if len(r.StatusHistory) > 0 {
		if err := json.Unmarshal(r.StatusHistory, &history); err != nil {
			return domain.Order{}, fmt.Errorf("decode status history of order %s: %w", r.ID, err)
		}
	}

	order := domain.Order{
		ID:             r.ID,
		OrderNumber:    r.OrderNumber,
		Customer:       identityFrom(r.UserID, r.SessionKey),
		Status:         domain.OrderStatus(r.Status),
		PaymentStatus:  domain.PaymentStatus(r.PaymentStatus),
		Currency:       r.Currency,
		Subtotal:       domain.NewMoney(r.Subtotal, r.Currency),
		TaxAmount:      domain.NewMoney(r.TaxAmount, r.Currency),
		ShippingCost:   domain.NewMoney(r.ShippingCost, r.Currency),
		DiscountAmount: domain.NewMoney(r.DiscountAmount, r.Currency),
		TotalAmount:    domain.NewMoney(r.TotalAmount, r.Currency),
		Shipping:       domain.ShippingInfo(shipping),
		Notes:          r.Notes,
		Carrier:        r.Carrier,
		TrackingNumber: r.TrackingNumber,
		CancelReason:   r.CancelReason,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		ShippedAt:      utcPtr(r.ShippedAt),
		DeliveredAt:    utcPtr(r.DeliveredAt),
		CancelledAt:    utcPtr(r.CancelledAt),
		ReturnedAt:     utcPtr(r.ReturnedAt),
		RefundedAt:     utcPtr(r.RefundedAt),
		RestockedAt:    utcPtr(r.RestockedAt),
	}
	for _, change := range history {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			From:    domain.OrderStatus(change.From),
			To:      domain.OrderStatus(change.To),
			At:      change.At.UTC(),
			ActorID: change.ActorID,
			Reason:  change.Reason,
		})
	}
	for _, line := range lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       domain.NewMoney(line.Price, line.Currency),
			TotalPrice:  domain.NewMoney(line.TotalPrice, line.Currency),
			Backordered: line.Backordered,
		})
	}
	return order, nil
}

func identityFrom(userID, sessionKey *string) domain.CartIdentity {
	var identity domain.CartIdentity
	if userID != nil {
		identity.UserID = *userID
	}
	if sessionKey != nil {
		identity.SessionKey = *sessionKey
	}
	return identity
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
