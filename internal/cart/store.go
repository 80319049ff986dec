package cart

import (
	"math"

	"restaurant-pricing/internal/clock"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity ограничивает количество в одной строке (колонка order_items.quantity INTEGER).
// Суммы количеств насыщаются на этом значении и не переполняются.
const MaxLineQuantity = math.MaxInt32

// Snapshot представляет состояние корзины вместе с расчётом на момент последней мутации.
type Snapshot struct {
	Items   []models.LineItem
	Pricing models.PricingResult
	Hints   []models.OfferHint
}

// Store владеет содержимым одной корзины и пересчитывает цену и подсказки
// синхронно после каждой мутации. Не потокобезопасен.
type Store struct {
	engine      *pricing.Engine
	hints       *pricing.HintGenerator
	catalog     *pricing.Catalog
	clock       clock.Clock
	items       []models.LineItem
	deliveryFee decimal.Decimal
	snapshot    Snapshot
}

// New создаёт пустую корзину. nil-зависимости заменяются значениями по умолчанию.
func New(engine *pricing.Engine, hints *pricing.HintGenerator, catalog *pricing.Catalog, clk clock.Clock) *Store {
	if engine == nil {
		engine = pricing.NewEngine(nil)
	}
	if hints == nil {
		hints = pricing.NewHintGenerator(nil)
	}
	if catalog == nil {
		catalog = pricing.EmptyCatalog()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	s := &Store{
		engine:      engine,
		hints:       hints,
		catalog:     catalog,
		clock:       clk,
		deliveryFee: decimal.Zero,
	}
	s.recompute()
	return s
}

// Load заменяет содержимое корзины целиком (например, при чтении из хранилища).
// Строки с неположительным количеством отбрасываются, повторы товара склеиваются.
func (s *Store) Load(items []models.LineItem, deliveryFee decimal.Decimal) {
	s.items = s.items[:0]
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if i := s.indexOf(it.Product.ID); i >= 0 {
			s.items[i].Quantity = addQuantity(s.items[i].Quantity, it.Quantity)
			continue
		}
		it.Quantity = addQuantity(0, it.Quantity)
		s.items = append(s.items, it)
	}
	s.deliveryFee = deliveryFee
	s.recompute()
}

// Add добавляет qty единиц товара (qty <= 0 означает 1).
// Количество в строке не превышает MaxLineQuantity.
// Если товар уже в корзине, количество увеличивается, а снимок цены обновляется.
func (s *Store) Add(product models.ProductRef, qty int) {
	if qty <= 0 {
		qty = 1
	}
	if i := s.indexOf(product.ID); i >= 0 {
		s.items[i].Product = product
		s.items[i].Quantity = addQuantity(s.items[i].Quantity, qty)
	} else {
		s.items = append(s.items, models.LineItem{Product: product, Quantity: addQuantity(0, qty)})
	}
	s.recompute()
}

// Remove удаляет строку товара. Возвращает false, если товара в корзине не было.
func (s *Store) Remove(productID string) bool {
	i := s.indexOf(productID)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.recompute()
	return true
}

// SetQuantity задает количество; qty <= 0 удаляет строку.
// Возвращает false, если товара в корзине не было.
func (s *Store) SetQuantity(productID string, qty int) bool {
	if qty <= 0 {
		return s.Remove(productID)
	}
	i := s.indexOf(productID)
	if i < 0 {
		return false
	}
	s.items[i].Quantity = addQuantity(0, qty)
	s.recompute()
	return true
}

// SetCatalog подменяет каталог акций целиком.
func (s *Store) SetCatalog(catalog *pricing.Catalog) {
	if catalog == nil {
		catalog = pricing.EmptyCatalog()
	}
	s.catalog = catalog
	s.recompute()
}

// SetDeliveryFee задает стоимость доставки (0 для самовывоза).
func (s *Store) SetDeliveryFee(fee decimal.Decimal) {
	s.deliveryFee = fee
	s.recompute()
}

// Items возвращает копию строк корзины.
func (s *Store) Items() []models.LineItem {
	return copyItems(s.items)
}

// Len возвращает число строк.
func (s *Store) Len() int {
	return len(s.items)
}

// Snapshot возвращает последний расчёт.
func (s *Store) Snapshot() Snapshot {
	out := s.snapshot
	out.Items = copyItems(s.snapshot.Items)
	return out
}

func (s *Store) recompute() {
	now := s.clock.Now()
	s.snapshot = Snapshot{
		Items:   copyItems(s.items),
		Pricing: s.engine.Compute(s.items, s.catalog, now).WithDeliveryFee(s.deliveryFee),
		Hints:   s.hints.Hints(s.items, s.catalog, now),
	}
}

func (s *Store) indexOf(productID string) int {
	for i, it := range s.items {
		if it.Product.ID == productID {
			return i
		}
	}
	return -1
}

func copyItems(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(items))
	copy(out, items)
	return out
}

// addQuantity складывает неотрицательные количества с насыщением на MaxLineQuantity.
func addQuantity(a, b int) int {
	if b > MaxLineQuantity-a {
		return MaxLineQuantity
	}
	return a + b
}
