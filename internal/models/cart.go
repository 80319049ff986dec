package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product представляет позицию меню.
type Product struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	Price      decimal.Decimal `json:"price" db:"price"`
	CategoryID string          `json:"category_id" db:"category_id"`
	Available  bool            `json:"available" db:"available"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Ref возвращает снимок товара для строки корзины.
func (p Product) Ref() ProductRef {
	return ProductRef{ID: p.ID, Name: p.Name, Price: p.Price, CategoryID: p.CategoryID}
}

// ProductRef представляет снимок товара на момент добавления в корзину.
type ProductRef struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
}

// LineItem представляет строку корзины.
type LineItem struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// LineTotal возвращает price × quantity без округления.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Product.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart представляет сохраняемое состояние корзины.
type Cart struct {
	ID        uuid.UUID        `json:"id"`
	Items     []LineItem       `json:"items"`
	Delivery  *DeliveryRequest `json:"delivery,omitempty"`
	Quote     *DeliveryQuote   `json:"delivery_quote,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// AppliedOffer описывает акцию, внесшую вклад в скидку.
type AppliedOffer struct {
	OfferID string          `json:"offer_id"`
	Code    string          `json:"code"`
	Amount  decimal.Decimal `json:"amount"`
}

// PricingResult представляет результат расчёта корзины.
type PricingResult struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Total       decimal.Decimal `json:"total"`
	Applied     []AppliedOffer  `json:"applied_offers,omitempty"`
}

// OfferHint представляет подсказку о ещё не выполненном условии акции.
type OfferHint struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CartView содержит корзину вместе с расчётом и подсказками.
type CartView struct {
	Cart    *Cart         `json:"cart"`
	Pricing PricingResult `json:"pricing"`
	Hints   []OfferHint   `json:"hints"`
}

// AddCartItemRequest представляет запрос на добавление товара в корзину
type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

// SetQuantityRequest представляет запрос на изменение количества
type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// QuoteItem представляет строку запроса расчёта без корзины.
type QuoteItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// QuoteRequest представляет запрос расчёта без создания корзины.
type QuoteRequest struct {
	Items    []QuoteItem      `json:"items"`
	Delivery *DeliveryRequest `json:"delivery,omitempty"`
}

// QuoteResponse представляет ответ на QuoteRequest.
type QuoteResponse struct {
	Pricing PricingResult `json:"pricing"`
	Hints   []OfferHint   `json:"hints"`
}

// WithDeliveryFee возвращает копию результата с учётом стоимости доставки.
// Отрицательная стоимость считается нулевой.
func (r PricingResult) WithDeliveryFee(fee decimal.Decimal) PricingResult {
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	r.DeliveryFee = fee
	r.Total = payable(r.Subtotal, r.Discount).Add(fee)
	return r
}

// Rounded возвращает результат для отображения: суммы округлены до копеек,
// итог пересчитан из округлённых слагаемых, чтобы чек сходился.
// Суммы по акциям в сумме дают округлённую скидку.
func (r PricingResult) Rounded() PricingResult {
	out := PricingResult{
		Subtotal:    r.Subtotal.Round(2),
		Discount:    r.Discount.Round(2),
		DeliveryFee: r.DeliveryFee.Round(2),
	}
	out.Total = payable(out.Subtotal, out.Discount).Add(out.DeliveryFee)
	if len(r.Applied) > 0 {
		out.Applied = roundApplied(r.Applied, out.Discount)
	}
	return out
}

// roundApplied округляет нарастающий итог; последняя акция получает остаток до discount.
// Доли не отрицательны.
func roundApplied(applied []AppliedOffer, discount decimal.Decimal) []AppliedOffer {
	out := make([]AppliedOffer, len(applied))
	cum, prev := decimal.Zero, decimal.Zero
	for i, a := range applied {
		cum = cum.Add(a.Amount)
		next := cum.Round(2)
		if i == len(applied)-1 {
			next = discount
		}
		a.Amount = next.Sub(prev)
		if a.Amount.IsNegative() {
			a.Amount = decimal.Zero
		}
		prev = next
		out[i] = a
	}
	return out
}

func payable(subtotal, discount decimal.Decimal) decimal.Decimal {
	net := subtotal.Sub(discount)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
