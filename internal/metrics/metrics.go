package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Исходы загрузки каталога акций.
const (
	CatalogLoadedFromCache = "cache"
	CatalogLoadedFromDB    = "db"
	CatalogLoadFailed      = "error"
)

// Metrics хранит коллекторы Prometheus. Методы безопасны для nil-получателя,
// поэтому сервисы могут работать без метрик.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	catalogLoads    *prometheus.CounterVec
	catalogOffers   prometheus.Gauge
	offersSkipped   prometheus.Counter
	cartMutations   *prometheus.CounterVec
	checkouts       prometheus.Counter
	discountGranted prometheus.Counter
}

// New создаёт собственный реестр и регистрирует в нём все коллекторы.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "restaurant"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
		catalogLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_loads_total",
				Help:      "Offer catalog loads by source or failure",
			},
			[]string{"outcome"},
		),
		catalogOffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_offers",
			Help:      "Number of offers in the installed catalog snapshot",
		}),
		offersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_malformed_offers_total",
			Help:      "Offer records skipped during catalog normalization",
		}),
		cartMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cart_mutations_total",
				Help:      "Cart mutations by operation",
			},
			[]string{"operation"},
		),
		checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Orders placed",
		}),
		discountGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_granted_total",
			Help:      "Sum of discounts granted on placed orders",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.catalogLoads,
		m.catalogOffers,
		m.offersSkipped,
		m.cartMutations,
		m.checkouts,
		m.discountGranted,
	)

	return m
}

// Registry возвращает реестр (нужен тестам и для подключения сторонних коллекторов).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware записывает метрики HTTP-запросов.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		path := NormalizePath(r.URL.Path)
		m.requestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// CatalogLoaded учитывает загрузку каталога.
func (m *Metrics) CatalogLoaded(outcome string, offers, skipped int) {
	if m == nil {
		return
	}
	m.catalogLoads.WithLabelValues(outcome).Inc()
	if outcome == CatalogLoadFailed {
		return
	}
	m.catalogOffers.Set(float64(offers))
	m.offersSkipped.Add(float64(skipped))
}

// CartMutated учитывает мутацию корзины.
func (m *Metrics) CartMutated(operation string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(operation).Inc()
}

// OrderPlaced учитывает оформленный заказ и выданную скидку.
func (m *Metrics) OrderPlaced(discount decimal.Decimal) {
	if m == nil {
		return
	}
	m.checkouts.Inc()
	if discount.IsPositive() {
		m.discountGranted.Add(discount.InexactFloat64())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// NormalizePath заменяет идентификаторы в пути на плейсхолдеры, чтобы не раздувать кардинальность.
//
//	/api/carts/{uuid}/items/{product} -> /api/carts/:id/items/:product_id
//	/api/admin/offers/{id}            -> /api/admin/offers/:id
func NormalizePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 3 || segments[0] != "api" {
		return path
	}

	switch segments[1] {
	case "carts", "orders":
		if len(segments) >= 3 {
			segments[2] = ":id"
		}
		if len(segments) >= 5 && segments[3] == "items" {
			segments[4] = ":product_id"
		}
	case "admin":
		if len(segments) >= 4 && segments[2] == "offers" && segments[3] != "refresh" {
			segments[3] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}
