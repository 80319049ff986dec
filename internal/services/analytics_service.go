package services

import (
	"context"
	"fmt"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/redis"

	"github.com/shopspring/decimal"
)

const (
	DefaultTopItemsLimit = 5
	DefaultOfferLimit    = 50
	defaultCacheTTL      = 10 * time.Minute
)

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// AnalyticsService агрегирует выручку и выданные скидки по оформленным заказам
// и кеширует тяжёлые выборки.
type AnalyticsService struct {
	db              *database.DB
	cache           statsCache
	log             *logger.Logger
	cacheTTL        time.Duration
	defaultTopItems int
	defaultOffers   int
	defaultGroupBy  models.AnalyticsGroupBy
}

// NewAnalyticsService создаёт новый сервис аналитики.
func NewAnalyticsService(db *database.DB, redisClient *redis.Client, log *logger.Logger, cfg *config.AnalyticsConfig) *AnalyticsService {
	s := &AnalyticsService{
		db:              db,
		log:             log,
		cacheTTL:        defaultCacheTTL,
		defaultTopItems: DefaultTopItemsLimit,
		defaultOffers:   DefaultOfferLimit,
		defaultGroupBy:  models.AnalyticsGroupNone,
	}
	if redisClient != nil {
		s.cache = redisClient
	}

	if cfg != nil {
		if cfg.CacheTTLMinutes > 0 {
			s.cacheTTL = time.Duration(cfg.CacheTTLMinutes) * time.Minute
		}
		if cfg.DefaultTopLimit > 0 {
			s.defaultTopItems = cfg.DefaultTopLimit
		}
		if cfg.DefaultOfferLimit > 0 {
			s.defaultOffers = cfg.DefaultOfferLimit
		}
		switch models.AnalyticsGroupBy(cfg.DefaultGroupBy) {
		case models.AnalyticsGroupDay, models.AnalyticsGroupWeek, models.AnalyticsGroupMonth, models.AnalyticsGroupNone:
			s.defaultGroupBy = models.AnalyticsGroupBy(cfg.DefaultGroupBy)
		}
	}

	return s
}

// GetKPIs возвращает выручку, скидки и топ товаров с опциональной группировкой по периодам.
func (s *AnalyticsService) GetKPIs(ctx context.Context, filter *models.AnalyticsFilter) (*models.KPIMetrics, error) {
	filter = s.normalizeFilter(filter)
	cacheKey := s.buildCacheKey("kpi", filter)

	var cached models.KPIMetrics
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	summary, err := s.fetchKPISummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	periods, err := s.fetchKPIPeriods(ctx, filter)
	if err != nil {
		return nil, err
	}

	topItems, err := s.fetchTopItems(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &models.KPIMetrics{
		From:         filter.From,
		To:           filter.To,
		Revenue:      summary.Revenue,
		Subtotal:     summary.Subtotal,
		Discounts:    summary.Discounts,
		DiscountRate: discountRate(summary.Discounts, summary.Subtotal),
		OrdersCount:  summary.OrdersCount,
		AverageCheck: summary.AverageCheck.Round(2),
		TopItems:     topItems,
		Periods:      periods,
		GeneratedAt:  time.Now(),
		GroupBy:      string(filter.GroupBy),
	}

	s.saveToCache(ctx, cacheKey, result)
	return result, nil
}

// GetOfferAnalytics возвращает, сколько раз применялась каждая акция и какую скидку она дала.
func (s *AnalyticsService) GetOfferAnalytics(ctx context.Context, filter *models.AnalyticsFilter) ([]*models.OfferAnalytics, error) {
	filter = s.normalizeFilter(filter)
	cacheKey := s.buildCacheKey("offers", filter)

	var cached []*models.OfferAnalytics
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	query := `
		SELECT oo.offer_id,
		       MIN(oo.code) AS code,
		       COUNT(*) AS times_applied,
		       COALESCE(SUM(oo.amount), 0) AS total_discount
		FROM order_offers oo
		JOIN orders o ON o.id = oo.order_id
		WHERE o.created_at BETWEEN $1 AND $2
		  AND ($4 = '' OR oo.code = $4)
		GROUP BY oo.offer_id
		ORDER BY total_discount DESC, times_applied DESC, oo.offer_id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To, filter.OfferLimit, filter.OfferCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load offer analytics: %w", err)
	}
	defer rows.Close()

	var result []*models.OfferAnalytics
	for rows.Next() {
		item := &models.OfferAnalytics{}
		if err := rows.Scan(&item.OfferID, &item.Code, &item.TimesApplied, &item.TotalDiscount); err != nil {
			return nil, fmt.Errorf("failed to scan offer analytics: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offer analytics: %w", err)
	}

	s.saveToCache(ctx, cacheKey, result)
	return result, nil
}

// InvalidateCache сбрасывает закешированную аналитику (после нового заказа).
func (s *AnalyticsService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeleteByPrefix(ctx, redis.KeyPrefixStats+":")
}

type kpiSummary struct {
	Revenue      decimal.Decimal
	Subtotal     decimal.Decimal
	Discounts    decimal.Decimal
	OrdersCount  int
	AverageCheck decimal.Decimal
}

func (s *AnalyticsService) fetchKPISummary(ctx context.Context, filter *models.AnalyticsFilter) (*kpiSummary, error) {
	query := `
		SELECT COALESCE(SUM(total_amount), 0) AS revenue,
		       COALESCE(SUM(subtotal), 0) AS subtotal,
		       COALESCE(SUM(discount_amount), 0) AS discounts,
		       COUNT(*) AS orders_count,
		       COALESCE(AVG(total_amount), 0) AS average_check
	FROM orders
	WHERE status = 'placed' AND created_at BETWEEN $1 AND $2
	`

	row := s.db.QueryRowContext(ctx, query, filter.From, filter.To)
	summary := &kpiSummary{}
	if err := row.Scan(&summary.Revenue, &summary.Subtotal, &summary.Discounts, &summary.OrdersCount, &summary.AverageCheck); err != nil {
		return nil, fmt.Errorf("failed to load KPI summary: %w", err)
	}

	return summary, nil
}

func (s *AnalyticsService) fetchKPIPeriods(ctx context.Context, filter *models.AnalyticsFilter) ([]models.KPIPeriod, error) {
	if filter.GroupBy == models.AnalyticsGroupNone || !filter.IncludePeriods {
		return nil, nil
	}

	periodExpr := "date_trunc('day', created_at)"
	switch filter.GroupBy {
	case models.AnalyticsGroupWeek:
		periodExpr = "date_trunc('week', created_at)"
	case models.AnalyticsGroupMonth:
		periodExpr = "date_trunc('month', created_at)"
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS period,
		       COALESCE(SUM(total_amount), 0) AS revenue,
		       COALESCE(SUM(discount_amount), 0) AS discounts,
		       COUNT(*) AS orders_count
	FROM orders
	WHERE status = 'placed' AND created_at BETWEEN $1 AND $2
	GROUP BY period
	ORDER BY period ASC
	`, periodExpr)

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load KPI periods: %w", err)
	}
	defer rows.Close()

	var result []models.KPIPeriod
	for rows.Next() {
		var (
			periodTime time.Time
			item       models.KPIPeriod
		)
		if err := rows.Scan(&periodTime, &item.Revenue, &item.Discounts, &item.OrdersCount); err != nil {
			return nil, fmt.Errorf("failed to scan KPI period: %w", err)
		}
		item.Period = formatPeriod(periodTime, filter.GroupBy)
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate KPI periods: %w", err)
	}

	return result, nil
}

func (s *AnalyticsService) fetchTopItems(ctx context.Context, filter *models.AnalyticsFilter) ([]models.TopItem, error) {
	query := `
		SELECT oi.name,
		       COALESCE(SUM(oi.quantity), 0) AS total_quantity,
		       COALESCE(SUM(oi.price * oi.quantity), 0) AS revenue
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id
	WHERE o.status = 'placed' AND o.created_at BETWEEN $1 AND $2
	GROUP BY oi.name
	ORDER BY total_quantity DESC, revenue DESC, oi.name ASC
	LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To, filter.TopItemsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top items: %w", err)
	}
	defer rows.Close()

	var result []models.TopItem
	for rows.Next() {
		var item models.TopItem
		if err := rows.Scan(&item.Name, &item.Quantity, &item.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan top item: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top items: %w", err)
	}

	return result, nil
}

func (s *AnalyticsService) buildCacheKey(kind string, filter *models.AnalyticsFilter) string {
	return redis.GenerateKey(redis.KeyPrefixStats, fmt.Sprintf(
		"%s:%s:%s:%s:%d:%d:%s:%t",
		kind,
		filter.From.Format("2006-01-02"),
		filter.To.Format("2006-01-02"),
		filter.GroupBy,
		filter.TopItemsLimit,
		filter.OfferLimit,
		filter.OfferCode,
		filter.IncludePeriods,
	))
}

func (s *AnalyticsService) normalizeFilter(filter *models.AnalyticsFilter) *models.AnalyticsFilter {
	if filter == nil {
		filter = &models.AnalyticsFilter{}
	}
	if filter.TopItemsLimit <= 0 {
		filter.TopItemsLimit = s.defaultTopItems
	}
	if filter.OfferLimit <= 0 {
		filter.OfferLimit = s.defaultOffers
	}
	if filter.GroupBy == "" {
		filter.GroupBy = s.defaultGroupBy
	}
	filter.IncludePeriods = filter.GroupBy != models.AnalyticsGroupNone
	return filter
}

func (s *AnalyticsService) tryGetFromCache(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}

	if err := s.cache.Get(ctx, key, dest); err != nil {
		return false
	}
	return true
}

func (s *AnalyticsService) saveToCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to cache analytics result")
	}
}

// discountRate возвращает долю скидок в сумме товаров в процентах.
func discountRate(discounts, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	return discounts.Div(subtotal).Mul(decimal.NewFromInt(100)).Round(2)
}

func formatPeriod(period time.Time, groupBy models.AnalyticsGroupBy) string {
	switch groupBy {
	case models.AnalyticsGroupWeek:
		return period.Format("2006-01-02") // начало недели
	case models.AnalyticsGroupMonth:
		return period.Format("2006-01")
	default:
		return period.Format("2006-01-02")
	}
}
