package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
)

// ErrMalformedOffer возвращается, когда запись акции нельзя привести к Offer.
var ErrMalformedOffer = errors.New("malformed offer")

var hundred = decimal.NewFromInt(100)

// Discount описывает форму скидки. Реализации: Percent, Fixed, BuyXGetY.
type Discount interface {
	kind() models.OfferDiscountType
}

// Percent задает процент от базы области действия (0..100).
type Percent struct {
	Value decimal.Decimal
}

// Fixed задает фиксированную сумму.
type Fixed struct {
	Amount decimal.Decimal
}

// BuyXGetY: из каждых Buy+Get единиц Get бесплатно; Limit ограничивает общее число бесплатных единиц.
type BuyXGetY struct {
	Buy   int
	Get   int
	Limit *int
}

func (Percent) kind() models.OfferDiscountType  { return models.OfferDiscountPercent }
func (Fixed) kind() models.OfferDiscountType    { return models.OfferDiscountFixed }
func (BuyXGetY) kind() models.OfferDiscountType { return models.OfferDiscountBuyXGetY }

// Scope определяет часть корзины, к которой применяется акция.
type Scope interface {
	kind() models.OfferScope
	matches(item models.LineItem) bool
}

// CartScope охватывает всю корзину.
type CartScope struct{}

// CategoryScope охватывает товары одной категории.
type CategoryScope struct {
	CategoryID string
}

// ProductSetScope охватывает явный набор товаров.
type ProductSetScope struct {
	IDs []string
	set map[string]struct{}
}

// NewProductSetScope строит набор товаров, отбрасывая пустые и повторяющиеся id.
func NewProductSetScope(ids ...string) ProductSetScope {
	s := ProductSetScope{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := s.set[id]; dup {
			continue
		}
		s.set[id] = struct{}{}
		s.IDs = append(s.IDs, id)
	}
	return s
}

// Contains сообщает, входит ли товар в набор.
func (s ProductSetScope) Contains(productID string) bool {
	if s.set != nil {
		_, ok := s.set[productID]
		return ok
	}
	for _, id := range s.IDs {
		if id == productID {
			return true
		}
	}
	return false
}

func (CartScope) kind() models.OfferScope       { return models.OfferScopeCart }
func (CategoryScope) kind() models.OfferScope   { return models.OfferScopeCategory }
func (ProductSetScope) kind() models.OfferScope { return models.OfferScopeProducts }

func (CartScope) matches(models.LineItem) bool { return true }

func (s CategoryScope) matches(item models.LineItem) bool {
	return item.Product.CategoryID == s.CategoryID
}

func (s ProductSetScope) matches(item models.LineItem) bool {
	return s.Contains(item.Product.ID)
}

// Window задает интервал действия [Start, End). Любая граница может отсутствовать.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Contains проверяет Start <= now < End.
func (w Window) Contains(now time.Time) bool {
	if w.Start != nil && now.Before(*w.Start) {
		return false
	}
	if w.End != nil && !now.Before(*w.End) {
		return false
	}
	return true
}

// Conditions содержит условия применения акции.
type Conditions struct {
	MinItems    *int
	MinSubtotal *decimal.Decimal
	Window      *Window
}

// Offer представляет нормализованную акцию.
type Offer struct {
	ID          string
	Code        string
	Name        string
	Description string
	Discount    Discount
	Scope       Scope
	Conditions  Conditions
	Stackable   bool
	Priority    int
	Active      bool
}

// LiveAt сообщает, что акция включена и now попадает в окно действия.
func (o Offer) LiveAt(now time.Time) bool {
	if !o.Active {
		return false
	}
	if o.Conditions.Window != nil && !o.Conditions.Window.Contains(now) {
		return false
	}
	return true
}

// DisplayName возвращает название акции, а если его нет, код.
func (o Offer) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Code
}

// DiscountType возвращает форму скидки в терминах хранимой записи.
func (o Offer) DiscountType() models.OfferDiscountType {
	if o.Discount == nil {
		return ""
	}
	return o.Discount.kind()
}

// ScopeType возвращает область действия в терминах хранимой записи.
func (o Offer) ScopeType() models.OfferScope {
	if o.Scope == nil {
		return ""
	}
	return o.Scope.kind()
}

// Validate проверяет сочетание формы скидки и области действия.
func (o Offer) Validate() error {
	switch d := o.Discount.(type) {
	case Percent:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent value %s out of range 0..100", ErrMalformedOffer, d.Value)
		}
	case Fixed:
		if d.Amount.IsNegative() {
			return fmt.Errorf("%w: negative fixed amount %s", ErrMalformedOffer, d.Amount)
		}
	case BuyXGetY:
		if d.Buy < 1 || d.Get < 1 {
			return fmt.Errorf("%w: buy/get must be positive, got %d/%d", ErrMalformedOffer, d.Buy, d.Get)
		}
		if d.Limit != nil && *d.Limit < 0 {
			return fmt.Errorf("%w: negative free unit limit", ErrMalformedOffer)
		}
		if _, ok := o.Scope.(ProductSetScope); !ok {
			return fmt.Errorf("%w: buy_x_get_y requires products scope", ErrMalformedOffer)
		}
	default:
		return fmt.Errorf("%w: unknown discount kind %T", ErrMalformedOffer, o.Discount)
	}

	switch s := o.Scope.(type) {
	case CartScope:
	case CategoryScope:
		if s.CategoryID == "" {
			return fmt.Errorf("%w: category scope without category id", ErrMalformedOffer)
		}
	case ProductSetScope:
		if len(s.IDs) == 0 {
			return fmt.Errorf("%w: empty product set", ErrMalformedOffer)
		}
	default:
		return fmt.Errorf("%w: unknown scope %T", ErrMalformedOffer, o.Scope)
	}

	c := o.Conditions
	if c.MinItems != nil && *c.MinItems < 0 {
		return fmt.Errorf("%w: negative min_items", ErrMalformedOffer)
	}
	if c.MinSubtotal != nil && c.MinSubtotal.IsNegative() {
		return fmt.Errorf("%w: negative min_subtotal", ErrMalformedOffer)
	}
	if w := c.Window; w != nil && w.Start != nil && w.End != nil && !w.Start.Before(*w.End) {
		return fmt.Errorf("%w: window start is not before end", ErrMalformedOffer)
	}
	return nil
}

// NormalizeOffer приводит запись из БД или API к Offer.
// Все ветвления по «сырому» формату живут здесь и больше нигде.
func NormalizeOffer(r models.OfferRecord) (Offer, error) {
	o := Offer{
		ID:          strings.TrimSpace(r.ID),
		Code:        strings.TrimSpace(r.Code),
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Stackable:   r.Stackable,
		Priority:    r.Priority,
		Active:      r.Active,
	}
	if o.ID == "" {
		o.ID = o.Code
	}
	if o.Code == "" {
		o.Code = o.ID
	}
	if o.ID == "" {
		return Offer{}, fmt.Errorf("%w: missing id and code", ErrMalformedOffer)
	}

	switch models.OfferDiscountType(strings.ToLower(string(r.DiscountType))) {
	case models.OfferDiscountPercent:
		o.Discount = Percent{Value: r.Value}
	case models.OfferDiscountFixed:
		o.Discount = Fixed{Amount: r.Value}
	case models.OfferDiscountBuyXGetY:
		d := BuyXGetY{Buy: r.BuyQuantity, Get: r.GetQuantity}
		if r.FreeLimit != nil {
			limit := *r.FreeLimit
			d.Limit = &limit
		}
		o.Discount = d
	default:
		return Offer{}, fmt.Errorf("%w: offer %s: unknown discount type %q", ErrMalformedOffer, o.ID, r.DiscountType)
	}

	switch models.OfferScope(strings.ToLower(string(r.Scope))) {
	case models.OfferScopeCart, "":
		o.Scope = CartScope{}
	case models.OfferScopeCategory:
		if r.CategoryID == nil {
			return Offer{}, fmt.Errorf("%w: offer %s: category scope without category id", ErrMalformedOffer, o.ID)
		}
		o.Scope = CategoryScope{CategoryID: strings.TrimSpace(*r.CategoryID)}
	case models.OfferScopeProducts:
		o.Scope = NewProductSetScope(r.ProductIDs...)
	default:
		return Offer{}, fmt.Errorf("%w: offer %s: unknown scope %q", ErrMalformedOffer, o.ID, r.Scope)
	}

	if r.MinItems != nil {
		n := *r.MinItems
		o.Conditions.MinItems = &n
	}
	if r.MinSubtotal.Valid {
		v := r.MinSubtotal.Decimal
		o.Conditions.MinSubtotal = &v
	}
	if r.StartsAt != nil || r.EndsAt != nil {
		o.Conditions.Window = &Window{Start: r.StartsAt, End: r.EndsAt}
	}

	if err := o.Validate(); err != nil {
		return Offer{}, fmt.Errorf("offer %s: %w", o.ID, err)
	}
	return o, nil
}
