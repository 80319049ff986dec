package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus представляет статус заказа
type OrderStatus string

const (
	OrderStatusPlaced OrderStatus = "placed"
)

// Order представляет оформленный заказ
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	CustomerName    string          `json:"customer_name" db:"customer_name"`
	CustomerPhone   string          `json:"customer_phone" db:"customer_phone"`
	DeliveryMode    DeliveryMode    `json:"delivery_mode" db:"delivery_mode"`
	DeliveryAddress string          `json:"delivery_address,omitempty" db:"delivery_address"`
	ZoneID          *string         `json:"zone_id,omitempty" db:"zone_id"`
	Items           []OrderItem     `json:"items"`
	Offers          []AppliedOffer  `json:"offers,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee" db:"delivery_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status          OrderStatus     `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// OrderItem представляет товар в заказе
type OrderItem struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OrderID    uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID  string          `json:"product_id" db:"product_id"`
	Name       string          `json:"name" db:"name"`
	CategoryID string          `json:"category_id" db:"category_id"`
	Quantity   int             `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
}

// CheckoutRequest представляет запрос на оформление корзины
type CheckoutRequest struct {
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone"`
	Delivery      *DeliveryRequest `json:"delivery,omitempty"`
}
