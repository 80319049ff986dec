package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthHandler представляет обработчик для проверки здоровья системы
type HealthHandler struct {
	db           DBHealth
	redisClient  RedisHealth
	kafkaBrokers []string
	kafkaCheck   func([]string) error

	catalog       CatalogState
	catalogMaxAge time.Duration
	now           func() time.Time
}

// NewHealthHandler создаёт новый обработчик здоровья. checkKafka == nil означает проверку через sarama.
func NewHealthHandler(db DBHealth, redisClient RedisHealth, kafkaBrokers []string, checkKafka func([]string) error) *HealthHandler {
	if checkKafka == nil {
		checkKafka = checkKafkaHealth
	}
	return &HealthHandler{
		db:           db,
		redisClient:  redisClient,
		kafkaBrokers: kafkaBrokers,
		kafkaCheck:   checkKafka,
		now:          time.Now,
	}
}

// WithCatalog добавляет в проверки состояние каталога акций.
// Снимок старше maxAge помечается как stale; maxAge <= 0 отключает проверку возраста.
func (h *HealthHandler) WithCatalog(catalog CatalogState, maxAge time.Duration) *HealthHandler {
	h.catalog = catalog
	h.catalogMaxAge = maxAge
	return h
}

// HealthResponse представляет ответ проверки здоровья
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Catalog  *CatalogStatus    `json:"catalog,omitempty"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
}

// CatalogStatus описывает текущий снимок акций.
type CatalogStatus struct {
	Initialized bool       `json:"initialized"`
	Loading     bool       `json:"loading"`
	Stale       bool       `json:"stale"`
	Offers      int        `json:"offers"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
	AgeSeconds  int64      `json:"age_seconds,omitempty"`
}

// dependency описывает внешнюю зависимость, без которой сервис не обслуживает запросы.
type dependency struct {
	name     string
	notReady string
	check    func(ctx context.Context) error
}

var startTime = time.Now()

func (h *HealthHandler) dependencies() []dependency {
	return []dependency{
		{name: "database", notReady: "Database not ready", check: func(context.Context) error { return h.db.Health() }},
		{name: "redis", notReady: "Redis not ready", check: h.redisClient.Health},
		{name: "kafka", notReady: "Kafka not ready", check: func(context.Context) error { return h.kafkaCheck(h.kafkaBrokers) }},
	}
}

// Health проверяет состояние всех компонентов системы.
// Пустой или устаревший каталог не делает сервис нездоровым: корзины считаются без скидок или по старому снимку.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   statusHealthy,
		Services: make(map[string]string),
		Version:  "1.0.0",
		Uptime:   time.Since(startTime).String(),
	}
	for _, dep := range h.dependencies() {
		if err := dep.check(ctx); err != nil {
			response.Services[dep.name] = statusUnhealthy + ": " + err.Error()
			response.Status = statusUnhealthy
			continue
		}
		response.Services[dep.name] = statusHealthy
	}

	if h.catalog != nil {
		response.Catalog = h.catalogStatus()
		switch {
		case !response.Catalog.Initialized:
			response.Services["catalog"] = "not loaded"
		case response.Catalog.Stale:
			response.Services["catalog"] = "stale"
		default:
			response.Services["catalog"] = statusHealthy
		}
	}

	statusCode := http.StatusOK
	if response.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, response)
}

// Readiness проверяет готовность приложения к обработке запросов:
// зависимости доступны и каталог акций загружен хотя бы раз.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, dep := range h.dependencies() {
		if err := dep.check(ctx); err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, dep.notReady)
			return
		}
	}

	if h.catalog != nil && !h.catalog.Initialized() {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Offer catalog not ready")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Liveness проверяет, что приложение живо
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(startTime).String(),
	})
}

func (h *HealthHandler) catalogStatus() *CatalogStatus {
	status := &CatalogStatus{
		Initialized: h.catalog.Initialized(),
		Loading:     h.catalog.Loading(),
	}
	if c := h.catalog.Current(); c != nil {
		status.Offers = c.Len()
	}
	if at := h.catalog.LoadedAt(); !at.IsZero() {
		age := h.now().Sub(at)
		status.LoadedAt = &at
		status.AgeSeconds = int64(age / time.Second)
		status.Stale = h.catalogMaxAge > 0 && age > h.catalogMaxAge
	}
	return status
}

// CheckKafkaHealth проверяет доступность Kafka брокеров.
func CheckKafkaHealth(brokers []string) error {
	return checkKafkaHealth(brokers)
}

func checkKafkaHealth(brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = 3 * time.Second
	cfg.Net.ReadTimeout = 5 * time.Second
	cfg.Net.WriteTimeout = 5 * time.Second
	cfg.Metadata.Retry.Max = 1
	cfg.Metadata.Retry.Backoff = 500 * time.Millisecond

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return nil
}
