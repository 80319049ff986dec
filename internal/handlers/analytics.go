package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
)

const (
	dateLayout                = "2006-01-02"
	defaultMaxRangeDays       = 365
	defaultAnalyticsTimeout   = 5 * time.Second
	defaultTopLimitFallback   = 5
	defaultOfferLimitFallback = 50
)

// AnalyticsHandler отдаёт выручку и статистику акций в JSON или CSV.
type AnalyticsHandler struct {
	service AnalyticsProvider
	log     *logger.Logger
	cfg     *config.AnalyticsConfig
	now     func() time.Time
}

// NewAnalyticsHandler создаёт новый обработчик аналитики. cfg может быть nil.
func NewAnalyticsHandler(service AnalyticsProvider, log *logger.Logger, cfg *config.AnalyticsConfig) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		log:     log,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// analyticsQuery содержит разобранные параметры запроса аналитики.
type analyticsQuery struct {
	filter *models.AnalyticsFilter
	csv    bool
}

// GetKPIs возвращает выручку, скидки и топ товаров.
// GET /api/analytics/kpi?from=&to=&days=&group_by=&top_limit=&format=
func (h *AnalyticsHandler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}

	h.respond(w, r, "KPI", func(ctx context.Context) (interface{}, error) {
		return h.service.GetKPIs(ctx, q.filter)
	}, func(result interface{}) error {
		return writeKPICSV(w, result.(*models.KPIMetrics))
	}, q.csv)
}

// GetOfferAnalytics возвращает применения акций и выданные ими скидки.
// GET /api/analytics/offers?from=&to=&days=&code=&limit=&format=
func (h *AnalyticsHandler) GetOfferAnalytics(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}

	h.respond(w, r, "offer", func(ctx context.Context) (interface{}, error) {
		rows, err := h.service.GetOfferAnalytics(ctx, q.filter)
		if rows == nil {
			rows = []*models.OfferAnalytics{}
		}
		return rows, err
	}, func(result interface{}) error {
		return writeOfferCSV(w, result.([]*models.OfferAnalytics))
	}, q.csv)
}

func (h *AnalyticsHandler) parse(w http.ResponseWriter, r *http.Request) (*analyticsQuery, bool) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return nil, false
	}
	q, err := parseAnalyticsQuery(r, h.cfg, h.now())
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return q, true
}

// respond загружает данные с таймаутом и пишет их как JSON или, при asCSV, через writeCSV.
func (h *AnalyticsHandler) respond(w http.ResponseWriter, r *http.Request, kind string,
	load func(ctx context.Context) (interface{}, error), writeCSV func(result interface{}) error, asCSV bool) {
	ctx, cancel := context.WithTimeout(r.Context(), analyticsTimeout(h.cfg))
	defer cancel()

	result, err := load(ctx)
	if err != nil {
		h.log.WithError(err).WithField("report", kind).Error("Failed to load analytics")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load analytics")
		return
	}

	if asCSV {
		if err := writeCSV(result); err != nil {
			h.log.WithError(err).WithField("report", kind).Warn("Failed to stream analytics CSV")
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func parseAnalyticsQuery(r *http.Request, cfg *config.AnalyticsConfig, now time.Time) (*analyticsQuery, error) {
	query := r.URL.Query()
	maxDays := defaultMaxRangeDays
	if cfg != nil && cfg.MaxRangeDays > 0 {
		maxDays = cfg.MaxRangeDays
	}

	from, to, err := parseRange(query.Get("from"), query.Get("to"), query.Get("days"), maxDays, now)
	if err != nil {
		return nil, err
	}

	groupBy, err := parseGroupBy(query.Get("group_by"), cfg)
	if err != nil {
		return nil, err
	}

	var format string
	switch format = strings.ToLower(query.Get("format")); format {
	case "", "json", "csv":
	default:
		return nil, fmt.Errorf("format must be json or csv")
	}

	topDefault, offerDefault := defaultTopLimitFallback, defaultOfferLimitFallback
	if cfg != nil {
		if cfg.DefaultTopLimit > 0 {
			topDefault = cfg.DefaultTopLimit
		}
		if cfg.DefaultOfferLimit > 0 {
			offerDefault = cfg.DefaultOfferLimit
		}
	}

	return &analyticsQuery{
		filter: &models.AnalyticsFilter{
			From:          from,
			To:            to,
			GroupBy:       groupBy,
			TopItemsLimit: parseIntWithDefault(query.Get("top_limit"), topDefault),
			OfferLimit:    parseIntWithDefault(query.Get("limit"), offerDefault),
			OfferCode:     strings.ToUpper(strings.TrimSpace(query.Get("code"))),
		},
		csv: format == "csv",
	}, nil
}

// parseRange возвращает границы периода в UTC: явные from/to или последние days дней до to.
func parseRange(fromParam, toParam, daysParam string, maxDays int, now time.Time) (time.Time, time.Time, error) {
	to := endOfDay(now)
	if toParam != "" {
		parsed, err := time.Parse(dateLayout, toParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' date, expected YYYY-MM-DD")
		}
		to = endOfDay(parsed)
	}

	days := maxDays
	if daysParam != "" {
		if fromParam != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("use either 'from' or 'days'")
		}
		n, err := strconv.Atoi(daysParam)
		if err != nil || n <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("'days' must be a positive number")
		}
		days = n
	}

	from := startOfDay(to.AddDate(0, 0, -days+1))
	if fromParam != "" {
		parsed, err := time.Parse(dateLayout, fromParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' date, expected YYYY-MM-DD")
		}
		from = startOfDay(parsed)
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("'from' date must be before 'to' date")
	}
	if from.Before(startOfDay(to.AddDate(0, 0, -maxDays+1))) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range too wide, max %d days", maxDays)
	}
	return from, to, nil
}

// parseGroupBy разбирает group_by; некорректное значение по умолчанию из конфига трактуется как none.
func parseGroupBy(value string, cfg *config.AnalyticsConfig) (models.AnalyticsGroupBy, error) {
	if value == "" {
		if cfg != nil {
			if g := models.AnalyticsGroupBy(strings.ToLower(cfg.DefaultGroupBy)); validGroupBy(g) {
				return g, nil
			}
		}
		return models.AnalyticsGroupNone, nil
	}
	g := models.AnalyticsGroupBy(strings.ToLower(value))
	if !validGroupBy(g) {
		return "", fmt.Errorf("group_by must be one of: day, week, month, none")
	}
	return g, nil
}

func validGroupBy(g models.AnalyticsGroupBy) bool {
	switch g {
	case models.AnalyticsGroupNone, models.AnalyticsGroupDay, models.AnalyticsGroupWeek, models.AnalyticsGroupMonth:
		return true
	}
	return false
}

func parseIntWithDefault(value string, defaultValue int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func writeKPICSV(w http.ResponseWriter, m *models.KPIMetrics) error {
	writer := startCSV(w, "kpi.csv")

	_ = writer.Write([]string{"section", "period", "revenue", "subtotal", "discounts", "discount_rate", "orders_count", "average_check"})
	rangeLabel := m.From.Format(dateLayout) + ".." + m.To.Format(dateLayout)
	_ = writer.Write([]string{"summary", rangeLabel, money(m.Revenue), money(m.Subtotal), money(m.Discounts),
		money(m.DiscountRate), strconv.Itoa(m.OrdersCount), money(m.AverageCheck)})
	for _, p := range m.Periods {
		_ = writer.Write([]string{"period", p.Period, money(p.Revenue), "", money(p.Discounts), "", strconv.Itoa(p.OrdersCount), ""})
	}

	_ = writer.Write([]string{})
	_ = writer.Write([]string{"section", "item_name", "quantity", "revenue"})
	for _, item := range m.TopItems {
		_ = writer.Write([]string{"top_item", item.Name, strconv.Itoa(item.Quantity), money(item.Revenue)})
	}

	writer.Flush()
	return writer.Error()
}

func writeOfferCSV(w http.ResponseWriter, rows []*models.OfferAnalytics) error {
	writer := startCSV(w, "offers.csv")
	_ = writer.Write([]string{"offer_id", "code", "times_applied", "total_discount", "average_discount"})
	for _, row := range rows {
		avg := decimal.Zero
		if row.TimesApplied > 0 {
			avg = row.TotalDiscount.DivRound(decimal.NewFromInt(int64(row.TimesApplied)), 2)
		}
		_ = writer.Write([]string{row.OfferID, row.Code, strconv.Itoa(row.TimesApplied), money(row.TotalDiscount), money(avg)})
	}

	writer.Flush()
	return writer.Error()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func startCSV(w http.ResponseWriter, filename string) *csv.Writer {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	return csv.NewWriter(w)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

func analyticsTimeout(cfg *config.AnalyticsConfig) time.Duration {
	if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return defaultAnalyticsTimeout
}
