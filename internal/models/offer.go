package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OfferDiscountType описывает форму скидки акции.
type OfferDiscountType string

const (
	OfferDiscountPercent  OfferDiscountType = "percent"
	OfferDiscountFixed    OfferDiscountType = "fixed"
	OfferDiscountBuyXGetY OfferDiscountType = "buy_x_get_y"
)

// OfferScope описывает, к какой части корзины применяется акция.
type OfferScope string

const (
	OfferScopeCart     OfferScope = "cart"
	OfferScopeCategory OfferScope = "category"
	OfferScopeProducts OfferScope = "products"
)

// OfferRecord представляет акцию в том виде, в котором она хранится в БД и приходит из API.
// В движок расчёта она попадает только после нормализации (pricing.NormalizeOffer).
type OfferRecord struct {
	ID           string              `json:"id" db:"id"`
	Code         string              `json:"code" db:"code"`
	Name         string              `json:"name" db:"name"`
	Description  string              `json:"description,omitempty" db:"description"`
	DiscountType OfferDiscountType   `json:"discount_type" db:"discount_type"`
	Value        decimal.Decimal     `json:"value" db:"value"`
	BuyQuantity  int                 `json:"buy_quantity,omitempty" db:"buy_quantity"`
	GetQuantity  int                 `json:"get_quantity,omitempty" db:"get_quantity"`
	FreeLimit    *int                `json:"free_limit,omitempty" db:"free_limit"`
	Scope        OfferScope          `json:"scope" db:"scope"`
	CategoryID   *string             `json:"category_id,omitempty" db:"category_id"`
	ProductIDs   []string            `json:"product_ids,omitempty" db:"product_ids"`
	MinItems     *int                `json:"min_items,omitempty" db:"min_items"`
	MinSubtotal  decimal.NullDecimal `json:"min_subtotal" db:"min_subtotal"`
	StartsAt     *time.Time          `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt       *time.Time          `json:"ends_at,omitempty" db:"ends_at"`
	Stackable    bool                `json:"stackable" db:"stackable"`
	Priority     int                 `json:"priority" db:"priority"`
	Active       bool                `json:"active" db:"active"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// UnmarshalJSON принимает и старый формат витрины: `type` вместо `discount_type`,
// `amount` вместо `value`, `category` строкой или вложенным объектом, `products` вместо `product_ids`.
func (r *OfferRecord) UnmarshalJSON(data []byte) error {
	type plain OfferRecord
	aux := struct {
		*plain
		Type     OfferDiscountType `json:"type"`
		Amount   *decimal.Decimal  `json:"amount"`
		Category *CategoryRef      `json:"category"`
		Products []string          `json:"products"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if r.DiscountType == "" {
		r.DiscountType = aux.Type
	}
	r.DiscountType = OfferDiscountType(strings.ToLower(string(r.DiscountType)))
	if r.Value.IsZero() && aux.Amount != nil {
		r.Value = *aux.Amount
	}
	if r.CategoryID == nil && aux.Category != nil && aux.Category.ID != "" {
		id := aux.Category.ID
		r.CategoryID = &id
	}
	if len(r.ProductIDs) == 0 && len(aux.Products) > 0 {
		r.ProductIDs = aux.Products
	}
	if r.Scope == "" {
		switch {
		case r.CategoryID != nil:
			r.Scope = OfferScopeCategory
		case len(r.ProductIDs) > 0:
			r.Scope = OfferScopeProducts
		default:
			r.Scope = OfferScopeCart
		}
	}
	return nil
}

// CategoryRef представляет ссылку на категорию: строка с id, число или объект {"id": ...}.
type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON разбирает все встречающиеся формы ссылки на категорию.
func (c *CategoryRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &c.ID)
	case '{':
		var obj struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		c.Name = obj.Name
		if len(obj.ID) == 0 {
			return nil
		}
		var nested CategoryRef
		if err := nested.UnmarshalJSON(obj.ID); err != nil {
			return err
		}
		c.ID = nested.ID
		return nil
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("unsupported category reference: %s", string(data))
		}
		c.ID = num.String()
		return nil
	}
}

// CreateOfferRequest описывает запрос на создание акции.
type CreateOfferRequest struct {
	OfferRecord
}

// UpdateOfferRequest описывает полную замену параметров акции (id и code неизменны).
type UpdateOfferRequest struct {
	OfferRecord
}
