package pricing

import (
	"math"
	"sort"
	"time"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
)

// Engine считает стоимость корзины с учётом акций.
// Compute не выполняет ввод-вывод и не меняет аргументы; единственный побочный эффект:
// предупреждение в лог о пропущенной некорректной акции.
type Engine struct {
	log *logger.Logger
}

// NewEngine создаёт движок расчёта.
func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{log: log}
}

// cartState содержит корзину без строк с неположительным количеством и её агрегаты.
type cartState struct {
	items     []models.LineItem
	subtotal  decimal.Decimal
	itemCount int
}

func newCartState(items []models.LineItem) cartState {
	st := cartState{items: make([]models.LineItem, 0, len(items)), subtotal: decimal.Zero}
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		st.items = append(st.items, it)
		st.subtotal = st.subtotal.Add(it.LineTotal())
		if it.Quantity > math.MaxInt-st.itemCount {
			st.itemCount = math.MaxInt
			continue
		}
		st.itemCount += it.Quantity
	}
	return st
}

// conditionsMet проверяет minItems и minSubtotal на исходной корзине.
func (st cartState) conditionsMet(c Conditions) bool {
	if c.MinItems != nil && st.itemCount < *c.MinItems {
		return false
	}
	if c.MinSubtotal != nil && st.subtotal.LessThan(*c.MinSubtotal) {
		return false
	}
	return true
}

// Compute возвращает subtotal, скидку и итог без доставки (DeliveryFee = 0).
// Доставка добавляется через PricingResult.WithDeliveryFee.
func (e *Engine) Compute(items []models.LineItem, catalog *Catalog, now time.Time) models.PricingResult {
	st := newCartState(items)
	result := models.PricingResult{
		Subtotal:    st.subtotal,
		Discount:    decimal.Zero,
		DeliveryFee: decimal.Zero,
		Total:       st.subtotal,
	}
	if catalog.Len() == 0 || len(st.items) == 0 {
		return result
	}

	eligible := make([]Offer, 0, catalog.Len())
	for _, o := range catalog.ByPriority() {
		if o.LiveAt(now) && st.conditionsMet(o.Conditions) {
			eligible = append(eligible, o)
		}
	}

	type contribution struct {
		offer  Offer
		amount decimal.Decimal
	}
	var (
		stacked []contribution
		best    *contribution
	)
	for _, o := range eligible {
		amount, ok := e.contribution(o, st)
		if !ok {
			continue
		}
		if o.Stackable {
			stacked = append(stacked, contribution{offer: o, amount: amount})
			continue
		}
		if best == nil || amount.GreaterThan(best.amount) {
			best = &contribution{offer: o, amount: amount}
		}
	}

	// Применённые акции идут в порядке приоритета.
	applied := make([]contribution, 0, len(stacked)+1)
	applied = append(applied, stacked...)
	if best != nil {
		applied = append(applied, *best)
		sort.SliceStable(applied, func(i, j int) bool {
			return applied[i].offer.Priority < applied[j].offer.Priority
		})
	}

	discount := decimal.Zero
	for _, c := range applied {
		discount = discount.Add(c.amount)
	}
	if discount.GreaterThan(st.subtotal) {
		discount = st.subtotal
	}

	// Суммы по акциям распределяются в пределах итоговой скидки, чтобы их сумма с ней совпадала.
	remaining := discount
	for _, c := range applied {
		amount := decimal.Min(c.amount, remaining)
		if !amount.IsPositive() {
			continue
		}
		remaining = remaining.Sub(amount)
		result.Applied = append(result.Applied, models.AppliedOffer{
			OfferID: c.offer.ID,
			Code:    c.offer.Code,
			Amount:  amount,
		})
	}

	result.Discount = discount
	result.Total = st.subtotal.Sub(discount)
	return result
}

// contribution считает скидку одной акции так, будто она применяется одна.
// Результат не отрицателен и не превышает базу области действия.
func (e *Engine) contribution(o Offer, st cartState) (decimal.Decimal, bool) {
	if err := o.Validate(); err != nil {
		e.log.WithError(err).WithField("offer_id", o.ID).Warn("Skipping malformed offer")
		return decimal.Zero, false
	}

	matched := make([]models.LineItem, 0, len(st.items))
	base := decimal.Zero
	for _, it := range st.items {
		if o.Scope.matches(it) {
			matched = append(matched, it)
			base = base.Add(it.LineTotal())
		}
	}
	if !base.IsPositive() {
		return decimal.Zero, true
	}

	var amount decimal.Decimal
	switch d := o.Discount.(type) {
	case Percent:
		amount = base.Mul(d.Value).Div(hundred)
	case Fixed:
		amount = d.Amount
	case BuyXGetY:
		amount = freeUnitsValue(matched, d)
	}

	if amount.IsNegative() {
		return decimal.Zero, true
	}
	return decimal.Min(amount, base), true
}

// freeUnitsValue считает стоимость бесплатных единиц: из каждых Buy+Get единиц Get бесплатны,
// бесплатными становятся самые дорогие единицы, при равной цене раньше добавленные.
func freeUnitsValue(items []models.LineItem, d BuyXGetY) decimal.Decimal {
	units := 0
	for _, it := range items {
		units += it.Quantity
	}
	free := units / (d.Buy + d.Get) * d.Get
	if d.Limit != nil && free > *d.Limit {
		free = *d.Limit
	}
	if free <= 0 {
		return decimal.Zero
	}

	sorted := make([]models.LineItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Product.Price.GreaterThan(sorted[j].Product.Price)
	})

	value := decimal.Zero
	for _, it := range sorted {
		if free == 0 {
			break
		}
		take := it.Quantity
		if take > free {
			take = free
		}
		value = value.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(take))))
		free -= take
	}
	return value
}
