package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/handlers"
	"restaurant-pricing/internal/kafka"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/metrics"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/redis"
	"restaurant-pricing/internal/services"
)

const (
	adminOffersRefreshPath = "/api/admin/offers/refresh"
	initialCatalogTimeout  = 10 * time.Second
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	catalog  *services.CatalogStore
	metrics  *metrics.Metrics
	handler  http.Handler
	server   *http.Server
}

// routeHandlers содержит обработчики, из которых собирается HTTP API.
type routeHandlers struct {
	health    *handlers.HealthHandler
	offers    *handlers.OfferHandler
	menu      *handlers.MenuHandler
	carts     *handlers.CartHandler
	orders    *handlers.OrderHandler
	analytics *handlers.AnalyticsHandler
	rateLimit *handlers.RateLimitHandler
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting restaurant pricing server...")

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	go runCatalogRefresher(refreshCtx, app.catalog, time.Duration(app.cfg.Catalog.RefreshIntervalSeconds)*time.Second, app.log)

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopRefresh()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	app.catalog.Wait()
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создаёт все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.Database.RunMigrations {
		if err := db.Migrate(log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	offerService := services.NewOfferService(db, log, producer, nil)
	catalogStore := services.NewCatalogStore(offerService, redisClient, log, m, &cfg.Catalog)
	offerService.SetCatalog(catalogStore)
	loadInitialCatalog(catalogStore, log)

	origin := services.Coordinates{Lat: cfg.Delivery.OriginLat, Lon: cfg.Delivery.OriginLon}
	geocodingService := services.NewGeocodingService(redisClient, log, &cfg.Geocoding, origin, cfg.Delivery.MaxDistanceKm)
	productService := services.NewProductService(db, log)
	deliveryService := services.NewDeliveryService(db, redisClient, geocodingService, log, &cfg.Delivery)
	analyticsService := services.NewAnalyticsService(db, redisClient, log, &cfg.Analytics)
	cartService := services.NewCartService(redisClient, productService, deliveryService, catalogStore, producer, m, log, cfg)
	orderService := services.NewOrderService(db, cartService, producer, analyticsService, m, log)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)

	routes := routeHandlers{
		health:    handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck).WithCatalog(catalogStore, catalogMaxAge(&cfg.Catalog)),
		offers:    handlers.NewOfferHandler(offerService, catalogStore, log),
		menu:      handlers.NewMenuHandler(productService, deliveryService, log),
		carts:     handlers.NewCartHandler(cartService, orderService, log),
		orders:    handlers.NewOrderHandler(orderService, redisClient, log),
		analytics: handlers.NewAnalyticsHandler(analyticsService, log, &cfg.Analytics),
		rateLimit: handlers.NewRateLimitHandler(rateLimiter, log),
	}

	registerEventHandlers(consumer, catalogStore, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	mux := setupRoutes(routes, rateLimiter, m, log)
	handler := m.Middleware(mux)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		catalog:  catalogStore,
		metrics:  m,
		handler:  handler,
		server:   server,
	}, nil
}

// loadInitialCatalog загружает акции до старта HTTP. Ошибка не фатальна:
// корзины считаются без скидок, пока фоновое обновление не загрузит каталог.
func loadInitialCatalog(store *services.CatalogStore, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), initialCatalogTimeout)
	defer cancel()

	catalog, err := store.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("Initial offer catalog load failed, serving without offers")
		return
	}
	log.WithField("offers", catalog.Len()).Info("Offer catalog loaded")
}

// catalogMaxAge считает снимок устаревшим, если пропущено три плановых обновления подряд.
func catalogMaxAge(cfg *config.CatalogConfig) time.Duration {
	if cfg.RefreshIntervalSeconds <= 0 {
		return 0
	}
	return 3 * time.Duration(cfg.RefreshIntervalSeconds) * time.Second
}

// catalogRefresher описывает то, что нужно периодическому обновлению каталога.
type catalogRefresher interface {
	Refresh(ctx context.Context) bool
}

// runCatalogRefresher периодически перечитывает каталог, пока ctx не отменён.
func runCatalogRefresher(ctx context.Context, store catalogRefresher, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		log.Info("Periodic offer catalog refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !store.Refresh(ctx) {
				log.Debug("Offer catalog refresh already in progress")
			}
		}
	}
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(h routeHandlers, limiter handlers.MiddlewareLimiter, m *metrics.Metrics, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	applyAPI := func(next http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(limiter, log, next))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(h.health.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(h.health.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(h.health.Liveness))

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	// Menu and delivery endpoints
	mux.HandleFunc("/api/products", applyAPI(h.menu.ListProducts))
	mux.HandleFunc("/api/products/", applyAPI(h.menu.GetProduct))
	mux.HandleFunc("/api/zones", applyAPI(h.menu.ListZones))
	mux.HandleFunc("/api/delivery/quote", applyAPI(h.menu.QuoteDelivery))

	// Offer endpoints
	mux.HandleFunc("/api/offers", applyAPI(h.offers.ListActive))
	mux.HandleFunc("/api/admin/offers", applyAPI(handleOffersRoute(h.offers)))
	mux.HandleFunc("/api/admin/offers/", applyAPI(handleOfferRoute(h.offers)))

	// Cart endpoints
	mux.HandleFunc("/api/carts", applyAPI(h.carts.CreateCart))
	mux.HandleFunc("/api/carts/", applyAPI(h.carts.HandleCart))
	mux.HandleFunc("/api/quote", applyAPI(h.carts.Quote))

	// Order endpoints
	mux.HandleFunc("/api/orders", applyAPI(h.orders.GetOrders))
	mux.HandleFunc("/api/orders/", applyAPI(h.orders.GetOrder))

	// Analytics endpoints
	mux.HandleFunc("/api/analytics/kpi", applyAPI(h.analytics.GetKPIs))
	mux.HandleFunc("/api/analytics/offers", applyAPI(h.analytics.GetOfferAnalytics))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", applyAPI(h.rateLimit.Status))

	return mux
}

// handleOffersRoute обрабатывает коллекцию акций
func handleOffersRoute(handler *handlers.OfferHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListOffers(w, r)
		case http.MethodPost:
			handler.CreateOffer(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleOfferRoute обрабатывает отдельную акцию и принудительное обновление каталога
func handleOfferRoute(handler *handlers.OfferHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == adminOffersRefreshPath {
			handler.RefreshCatalog(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			handler.GetOffer(w, r)
		case http.MethodPut:
			handler.UpdateOffer(w, r)
		case http.MethodDelete:
			handler.DeleteOffer(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, catalog handlers.CatalogView, log *logger.Logger) {
	// Акцию изменил другой экземпляр сервиса: сбрасываем общий кеш и перечитываем каталог.
	consumer.HandleOfferChanged(func(ctx context.Context, change models.OfferChangedData) error {
		log.WithFields(map[string]interface{}{
			"offer_id": change.OfferID,
			"action":   change.Action,
		}).Info("Processing offer changed event")
		if err := catalog.Invalidate(ctx); err != nil {
			log.WithError(err).Warn("Failed to invalidate offer catalog cache")
		}
		catalog.Refresh(ctx)
		return nil
	})
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
