// Package events delivers committed domain events to the notification collaborator over Pub/Sub,
// Kafka or the process log.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// Attribute names attached to every message regardless of transport.
const (
	AttrEventType = "event_type"
	AttrOrderID   = "order_id"
	AttrEventID   = "event_id"
)

// Envelope is the JSON body delivered to subscribers.
type Envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// Encode serialises an event into its wire envelope.
func Encode(event domain.Event) ([]byte, error) {
	if strings.TrimSpace(event.Type) == "" {
		return nil, fmt.Errorf("events: event type is required")
	}
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(Envelope{
		ID:         event.ID,
		Type:       event.Type,
		OccurredAt: event.OccurredAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	return payload, nil
}

// Attributes returns the routing metadata for an event, omitting blank values.
func Attributes(event domain.Event) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, AttrEventType, event.Type)
	setAttr(attrs, AttrOrderID, event.OrderID)
	setAttr(attrs, AttrEventID, event.ID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
