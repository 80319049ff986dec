package pricing

import (
	"fmt"
	"time"

	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
)

// ItemsHintSuffix добавляется к коду акции в подсказке о нехватке позиций.
const ItemsHintSuffix = "_items"

// DefaultCurrency задает подпись валюты по умолчанию.
const DefaultCurrency = "lei"

// HintFormatter формирует текст подсказок.
type HintFormatter interface {
	MissingSubtotal(offer Offer, amount decimal.Decimal) string
	MissingItems(offer Offer, count int) string
}

// TextFormatter формирует английские подсказки с подписью валюты.
type TextFormatter struct {
	Currency string
}

func (f TextFormatter) MissingSubtotal(offer Offer, amount decimal.Decimal) string {
	currency := f.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return fmt.Sprintf("Add %s %s more to unlock %q", amount.StringFixed(2), currency, offer.DisplayName())
}

func (f TextFormatter) MissingItems(offer Offer, count int) string {
	noun := "items"
	if count == 1 {
		noun = "item"
	}
	return fmt.Sprintf("Add %d more %s to unlock %q", count, noun, offer.DisplayName())
}

// HintGenerator строит подсказки по акциям, условия которых ещё не выполнены.
type HintGenerator struct {
	formatter HintFormatter
}

// NewHintGenerator создаёт генератор; nil formatter заменяется на TextFormatter с валютой по умолчанию.
func NewHintGenerator(formatter HintFormatter) *HintGenerator {
	if formatter == nil {
		formatter = TextFormatter{Currency: DefaultCurrency}
	}
	return &HintGenerator{formatter: formatter}
}

// Hints обходит каталог в исходном порядке. Для включённой и действующей акции
// выдаётся по подсказке на каждое невыполненное условие: minSubtotal (код акции,
// недостающая сумма округляется вверх до копеек) и minItems (код + "_items").
func (g *HintGenerator) Hints(items []models.LineItem, catalog *Catalog, now time.Time) []models.OfferHint {
	st := newCartState(items)
	hints := make([]models.OfferHint, 0)
	for _, o := range catalog.ActiveAt(now) {
		if o.Validate() != nil {
			continue
		}
		c := o.Conditions
		if c.MinSubtotal != nil && st.subtotal.LessThan(*c.MinSubtotal) {
			missing := c.MinSubtotal.Sub(st.subtotal).RoundCeil(2)
			hints = append(hints, models.OfferHint{
				Code:    o.Code,
				Message: g.formatter.MissingSubtotal(o, missing),
			})
		}
		if c.MinItems != nil && st.itemCount < *c.MinItems {
			hints = append(hints, models.OfferHint{
				Code:    o.Code + ItemsHintSuffix,
				Message: g.formatter.MissingItems(o, *c.MinItems-st.itemCount),
			})
		}
	}
	return hints
}
