package models

import "github.com/shopspring/decimal"

// DeliveryMode определяет способ получения заказа.
type DeliveryMode string

const (
	DeliveryModePickup   DeliveryMode = "pickup"
	DeliveryModeDelivery DeliveryMode = "delivery"
)

// DeliveryRequest описывает выбранный способ получения.
type DeliveryRequest struct {
	Mode    DeliveryMode `json:"mode"`
	ZoneID  string       `json:"zone_id,omitempty"`
	Address string       `json:"address,omitempty"`
}

// DeliveryQuote содержит стоимость доставки и минимальная сумма заказа.
type DeliveryQuote struct {
	Mode       DeliveryMode    `json:"mode"`
	ZoneID     string          `json:"zone_id,omitempty"`
	Fee        decimal.Decimal `json:"fee"`
	MinOrder   decimal.Decimal `json:"min_order"`
	DistanceKm *float64        `json:"distance_km,omitempty"`
}

// DeliveryZone представляет зону доставки с фиксированным тарифом.
type DeliveryZone struct {
	ID       string          `json:"id" db:"id"`
	Name     string          `json:"name" db:"name"`
	Fee      decimal.Decimal `json:"fee" db:"fee"`
	MinOrder decimal.Decimal `json:"min_order" db:"min_order"`
	Active   bool            `json:"active" db:"active"`
}
