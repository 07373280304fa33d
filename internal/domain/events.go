package domain

import "time"

// Event type names published to the notification collaborator.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventInventoryLowStock  = "inventory.low_stock"
)

// Event is the envelope handed to publishers after a transaction commits.
type Event struct {
	ID         string
	Type       string
	OrderID    string
	OccurredAt time.Time
	Data       map[string]any
}

// OrderCreatedEvent builds the envelope for a newly created order.
func OrderCreatedEvent(id string, order Order, at time.Time) Event {
	return Event{
		ID:         id,
		Type:       EventOrderCreated,
		OrderID:    order.ID,
		OccurredAt: at,
		Data: map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"total":        order.TotalAmount.StringFixed(),
			"currency":     order.Currency,
			"item_count":   order.ItemCount(),
		},
	}
}

// OrderStatusChangedEvent builds the envelope for a status transition.
func OrderStatusChangedEvent(id string, order Order, from OrderStatus, at time.Time) Event {
	return Event{
		ID:         id,
		Type:       EventOrderStatusChanged,
		OrderID:    order.ID,
		OccurredAt: at,
		Data: map[string]any{
			"order_id":   order.ID,
			"old_status": string(from),
			"new_status": string(order.Status),
		},
	}
}

// LowStockEvent builds the envelope raised when a reservation leaves stock at or below threshold.
func LowStockEvent(id string, product Product, remaining int, at time.Time) Event {
	return Event{
		ID:         id,
		Type:       EventInventoryLowStock,
		OccurredAt: at,
		Data: map[string]any{
			"product_id": product.ID,
			"sku":        product.SKU,
			"stock":      remaining,
			"threshold":  product.LowStockThreshold,
		},
	}
}
