package pricing

import (
	"sort"
	"time"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
)

// Catalog представляет неизменяемый упорядоченный набор акций.
// Обновляется только целиком: строится новый Catalog и подменяет старый.
type Catalog struct {
	offers []Offer
	byID   map[string]int
	byCode map[string]int
}

// EmptyCatalog возвращает каталог без акций.
func EmptyCatalog() *Catalog {
	return NewCatalog()
}

// NewCatalog строит каталог из уже нормализованных акций в исходном порядке.
// При повторе id или кода поиск возвращает первую акцию.
func NewCatalog(offers ...Offer) *Catalog {
	c := &Catalog{
		offers: make([]Offer, len(offers)),
		byID:   make(map[string]int, len(offers)),
		byCode: make(map[string]int, len(offers)),
	}
	copy(c.offers, offers)
	for i, o := range c.offers {
		if _, ok := c.byID[o.ID]; !ok {
			c.byID[o.ID] = i
		}
		if _, ok := c.byCode[o.Code]; !ok {
			c.byCode[o.Code] = i
		}
	}
	return c
}

// NewCatalogFromRecords нормализует записи; битые пропускаются с предупреждением.
// Возвращает каталог и число пропущенных записей.
func NewCatalogFromRecords(records []models.OfferRecord, log *logger.Logger) (*Catalog, int) {
	offers := make([]Offer, 0, len(records))
	skipped := 0
	for _, r := range records {
		o, err := NormalizeOffer(r)
		if err != nil {
			skipped++
			if log != nil {
				log.WithError(err).WithField("offer_id", r.ID).Warn("Skipping malformed offer")
			}
			continue
		}
		offers = append(offers, o)
	}
	return NewCatalog(offers...), skipped
}

// Len возвращает число акций.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.offers)
}

// Offers возвращает копию акций в порядке каталога.
func (c *Catalog) Offers() []Offer {
	if c == nil {
		return nil
	}
	out := make([]Offer, len(c.offers))
	copy(out, c.offers)
	return out
}

// ActiveAt возвращает акции, включённые и действующие в момент now, в порядке каталога.
func (c *Catalog) ActiveAt(now time.Time) []Offer {
	if c == nil {
		return nil
	}
	out := make([]Offer, 0, len(c.offers))
	for _, o := range c.offers {
		if o.LiveAt(now) {
			out = append(out, o)
		}
	}
	return out
}

// ByPriority возвращает акции по возрастанию priority; при равенстве сохраняется порядок каталога.
func (c *Catalog) ByPriority() []Offer {
	out := c.Offers()
	sortByPriority(out)
	return out
}

// ByID ищет акцию по id.
func (c *Catalog) ByID(id string) (Offer, bool) {
	if c == nil {
		return Offer{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Offer{}, false
	}
	return c.offers[i], true
}

// ByCode ищет акцию по коду.
func (c *Catalog) ByCode(code string) (Offer, bool) {
	if c == nil {
		return Offer{}, false
	}
	i, ok := c.byCode[code]
	if !ok {
		return Offer{}, false
	}
	return c.offers[i], true
}

func sortByPriority(offers []Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Priority < offers[j].Priority
	})
}
