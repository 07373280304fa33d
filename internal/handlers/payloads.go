package handlers

import (
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/services"
)

type moneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func newMoneyPayload(m domain.Money) moneyPayload {
	return moneyPayload{Amount: m.StringFixed(), Currency: m.Currency}
}

type cartLinePayload struct {
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Price     moneyPayload `json:"price"`
	Total     moneyPayload `json:"total"`
	AddedAt   string       `json:"added_at"`
	UpdatedAt string       `json:"updated_at"`
}

type cartPayload struct {
	ID          string            `json:"id,omitempty"`
	Currency    string            `json:"currency"`
	Items       []cartLinePayload `json:"items"`
	ItemCount   int               `json:"item_count"`
	TotalAmount moneyPayload      `json:"total_amount"`
	ExpiresAt   string            `json:"expires_at,omitempty"`
	UpdatedAt   string            `json:"updated_at,omitempty"`
}

func newCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:          cart.ID,
		Currency:    cart.Currency,
		Items:       make([]cartLinePayload, 0, len(cart.Lines)),
		ItemCount:   cart.ItemCount,
		TotalAmount: newMoneyPayload(cart.TotalAmount),
		ExpiresAt:   formatTimePtr(cart.ExpiresAt),
		UpdatedAt:   formatTime(cart.UpdatedAt),
	}
	for _, line := range cart.Lines {
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     newMoneyPayload(line.Price),
			Total:     newMoneyPayload(line.Total()),
			AddedAt:   formatTime(line.AddedAt),
			UpdatedAt: formatTime(line.UpdatedAt),
		})
	}
	return payload
}

type cartTotalsPayload struct {
	Subtotal  moneyPayload `json:"subtotal"`
	Tax       moneyPayload `json:"tax"`
	Total     moneyPayload `json:"total"`
	ItemCount int          `json:"item_count"`
}

type cartResponse struct {
	Cart   cartPayload        `json:"cart"`
	Totals *cartTotalsPayload `json:"totals,omitempty"`
}

type shippingPayload struct {
	RecipientName string `json:"recipient_name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country"`
}

func (p shippingPayload) toDomain() domain.ShippingInfo {
	return domain.ShippingInfo{
		RecipientName: p.RecipientName,
		Email:         p.Email,
		Phone:         p.Phone,
		Line1:         p.Line1,
		Line2:         p.Line2,
		City:          p.City,
		Region:        p.Region,
		PostalCode:    p.PostalCode,
		Country:       p.Country,
	}
}

func newShippingPayload(info domain.ShippingInfo) shippingPayload {
	return shippingPayload{
		RecipientName: info.RecipientName,
		Email:         info.Email,
		Phone:         info.Phone,
		Line1:         info.Line1,
		Line2:         info.Line2,
		City:          info.City,
		Region:        info.Region,
		PostalCode:    info.PostalCode,
		Country:       info.Country,
	}
}

type orderLinePayload struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	SKU         string       `json:"sku,omitempty"`
	Quantity    int          `json:"quantity"`
	Price       moneyPayload `json:"price"`
	TotalPrice  moneyPayload `json:"total_price"`
	Backordered bool         `json:"backordered,omitempty"`
}

type statusChangePayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	At      string `json:"at"`
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type orderPayload struct {
	ID             string                `json:"id"`
	OrderNumber    string                `json:"order_number"`
	Status         string                `json:"status"`
	PaymentStatus  string                `json:"payment_status"`
	Currency       string                `json:"currency"`
	Subtotal       moneyPayload          `json:"subtotal"`
	TaxAmount      moneyPayload          `json:"tax_amount"`
	ShippingCost   moneyPayload          `json:"shipping_cost"`
	DiscountAmount moneyPayload          `json:"discount_amount"`
	TotalAmount    moneyPayload          `json:"total_amount"`
	Items          []orderLinePayload    `json:"items"`
	Shipping       shippingPayload       `json:"shipping"`
	Notes          string                `json:"notes,omitempty"`
	Carrier        string                `json:"carrier,omitempty"`
	TrackingNumber string                `json:"tracking_number,omitempty"`
	CancelReason   string                `json:"cancel_reason,omitempty"`
	History        []statusChangePayload `json:"history"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
	ShippedAt      string                `json:"shipped_at,omitempty"`
	DeliveredAt    string                `json:"delivered_at,omitempty"`
	CancelledAt    string                `json:"cancelled_at,omitempty"`
	ReturnedAt     string                `json:"returned_at,omitempty"`
	RefundedAt     string                `json:"refunded_at,omitempty"`
}

func newOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		Currency:       order.Currency,
		Subtotal:       newMoneyPayload(order.Subtotal),
		TaxAmount:      newMoneyPayload(order.TaxAmount),
		ShippingCost:   newMoneyPayload(order.ShippingCost),
		DiscountAmount: newMoneyPayload(order.DiscountAmount),
		TotalAmount:    newMoneyPayload(order.TotalAmount),
		Items:          make([]orderLinePayload, 0, len(order.Lines)),
		Shipping:       newShippingPayload(order.Shipping),
		Notes:          order.Notes,
		Carrier:        order.Carrier,
		TrackingNumber: order.TrackingNumber,
		CancelReason:   order.CancelReason,
		History:        make([]statusChangePayload, 0, len(order.StatusHistory)),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		ShippedAt:      formatTimePtr(order.ShippedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
		ReturnedAt:     formatTimePtr(order.ReturnedAt),
		RefundedAt:     formatTimePtr(order.RefundedAt),
	}
	for _, line := range order.Lines {
		payload.Items = append(payload.Items, orderLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			Price:       newMoneyPayload(line.Price),
			TotalPrice:  newMoneyPayload(line.TotalPrice),
			Backordered: line.Backordered,
		})
	}
	for _, change := range order.StatusHistory {
		payload.History = append(payload.History, statusChangePayload{
			From:    string(change.From),
			To:      string(change.To),
			At:      formatTime(change.At),
			ActorID: change.ActorID,
			Reason:  change.Reason,
		})
	}
	return payload
}

type productPayload struct {
	ID                string       `json:"id"`
	SKU               string       `json:"sku"`
	Name              string       `json:"name"`
	Price             moneyPayload `json:"price"`
	StockQuantity     int          `json:"stock_quantity"`
	TrackInventory    bool         `json:"track_inventory"`
	AllowBackorders   bool         `json:"allow_backorders"`
	LowStockThreshold int          `json:"low_stock_threshold"`
	LowStock          bool         `json:"low_stock"`
	UpdatedAt         string       `json:"updated_at,omitempty"`
}

func newProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:                product.ID,
		SKU:               product.SKU,
		Name:              product.Name,
		Price:             newMoneyPayload(product.Price),
		StockQuantity:     product.StockQuantity,
		TrackInventory:    product.TrackInventory,
		AllowBackorders:   product.AllowBackorders,
		LowStockThreshold: product.LowStockThreshold,
		LowStock:          product.IsLowStock(),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
}

type shortfallPayload struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func shortfallPayloads(shortfalls []domain.StockShortfall) []shortfallPayload {
	out := make([]shortfallPayload, 0, len(shortfalls))
	for _, s := range shortfalls {
		out = append(out, shortfallPayload{ProductID: s.ProductID, Requested: s.Requested, Available: s.Available})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
