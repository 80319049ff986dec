package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType представляет тип события
type EventType string

const (
	EventTypeOfferChanged EventType = "offer.changed"
	EventTypeOrderPlaced  EventType = "order.placed"
	EventTypeCartUpdated  EventType = "cart.updated"
)

// Event представляет конверт события в Kafka.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OfferChangeAction описывает, что случилось с акцией.
type OfferChangeAction string

const (
	OfferCreated OfferChangeAction = "created"
	OfferUpdated OfferChangeAction = "updated"
	OfferDeleted OfferChangeAction = "deleted"
)

// OfferChangedData содержит данные события offer.changed.
type OfferChangedData struct {
	OfferID string            `json:"offer_id"`
	Code    string            `json:"code,omitempty"`
	Action  OfferChangeAction `json:"action"`
}

// OrderPlacedData содержит данные события order.placed.
type OrderPlacedData struct {
	OrderID  uuid.UUID       `json:"order_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	Offers   []string        `json:"offers,omitempty"`
}

// CartUpdatedData содержит данные события cart.updated.
type CartUpdatedData struct {
	CartID    uuid.UUID       `json:"cart_id"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
}
