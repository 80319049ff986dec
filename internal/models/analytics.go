package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalyticsGroupBy описывает доступные варианты группировки периодов.
type AnalyticsGroupBy string

const (
	AnalyticsGroupNone  AnalyticsGroupBy = "none"
	AnalyticsGroupDay   AnalyticsGroupBy = "day"
	AnalyticsGroupWeek  AnalyticsGroupBy = "week"
	AnalyticsGroupMonth AnalyticsGroupBy = "month"
)

// AnalyticsFilter задает временной интервал и параметры агрегации.
type AnalyticsFilter struct {
	From           time.Time
	To             time.Time
	GroupBy        AnalyticsGroupBy
	TopItemsLimit  int
	OfferLimit     int
	OfferCode      string
	IncludePeriods bool
}

// KPIMetrics описывает бизнес-показатели за период.
type KPIMetrics struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Revenue      decimal.Decimal `json:"revenue"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discounts    decimal.Decimal `json:"discounts"`
	DiscountRate decimal.Decimal `json:"discount_rate"` // % от суммы товаров до скидок
	OrdersCount  int             `json:"orders_count"`
	AverageCheck decimal.Decimal `json:"average_check"`
	TopItems     []TopItem       `json:"top_items"`
	Periods      []KPIPeriod     `json:"periods,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
	GroupBy      string          `json:"group_by,omitempty"`
}

// KPIPeriod хранит агрегированные метрики по периоду.
type KPIPeriod struct {
	Period      string          `json:"period"`
	Revenue     decimal.Decimal `json:"revenue"`
	Discounts   decimal.Decimal `json:"discounts"`
	OrdersCount int             `json:"orders_count"`
}

// TopItem описывает популярный товар в заказах.
type TopItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// OfferAnalytics агрегирует применения акции.
type OfferAnalytics struct {
	OfferID       string          `json:"offer_id"`
	Code          string          `json:"code"`
	TimesApplied  int             `json:"times_applied"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
}
