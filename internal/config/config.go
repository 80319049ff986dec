package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Logger    LoggerConfig    `json:"logger"`
	Geocoding GeocodingConfig `json:"geocoding"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Pricing   PricingConfig   `json:"pricing"`
	Catalog   CatalogConfig   `json:"catalog"`
	Cart      CartConfig      `json:"cart"`
	Analytics AnalyticsConfig `json:"analytics"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host          string `json:"host"`
	Port          string `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	DBName        string `json:"db_name"`
	SSLMode       string `json:"ssl_mode"`
	MaxOpenConns  int    `json:"max_open_conns"`
	RunMigrations bool   `json:"run_migrations"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Offers string `json:"offers"`
	Orders string `json:"orders"`
	Carts  string `json:"carts"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// GeocodingConfig описывает настройки геокодера
type GeocodingConfig struct {
	Provider       string `json:"provider"`        // offline | yandex
	YandexAPIKey   string `json:"yandex_api_key"`  // Ключ для Yandex геокодера
	YandexBaseURL  string `json:"yandex_base_url"` // https://geocode-maps.yandex.ru/1.x
	TimeoutSeconds int    `json:"timeout_seconds"` // таймаут http-запроса
}

// DeliveryConfig хранит тарифы доставки и координаты ресторана
type DeliveryConfig struct {
	OriginLat        float64 `json:"origin_lat"`
	OriginLon        float64 `json:"origin_lon"`
	BaseFare         float64 `json:"base_fare"`
	PerKm            float64 `json:"per_km"`
	MinFare          float64 `json:"min_fare"`
	MaxDistanceKm    float64 `json:"max_distance_km"`
	FreeDeliveryOver float64 `json:"free_delivery_over"` // 0 = выключено
	ZoneCacheMinutes int     `json:"zone_cache_minutes"`
}

// PricingConfig хранит параметры отображения цен и подсказок
type PricingConfig struct {
	Currency string `json:"currency"`
}

// CatalogConfig описывает кеширование и обновление каталога акций
type CatalogConfig struct {
	CacheTTLSeconds        int `json:"cache_ttl_seconds"`
	RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
	LoadTimeoutSeconds     int `json:"load_timeout_seconds"`
}

// CartConfig описывает хранение корзин
type CartConfig struct {
	TTLHours        int `json:"ttl_hours"`
	MaxItemQuantity int `json:"max_item_quantity"`
}

// AnalyticsConfig хранит настройки аналитики
type AnalyticsConfig struct {
	CacheTTLMinutes       int    `json:"cache_ttl_minutes"`
	MaxRangeDays          int    `json:"max_range_days"`
	DefaultGroupBy        string `json:"default_group_by"`
	DefaultTopLimit       int    `json:"default_top_limit"`
	DefaultOfferLimit     int    `json:"default_offer_limit"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// RateLimitConfig описывает настройки rate limiting
type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	KeyPrefix     string `json:"key_prefix"`
}

// MetricsConfig описывает настройки Prometheus
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env (если есть) подхватывается, но не перекрывает уже выставленные переменные.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "restaurant_user"),
			Password:      getEnv("DB_PASSWORD", "restaurant_pass"),
			DBName:        getEnv("DB_NAME", "restaurant"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			RunMigrations: getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "restaurant-pricing"),
			Topics: Topics{
				Offers: getEnv("KAFKA_TOPIC_OFFERS", "offers"),
				Orders: getEnv("KAFKA_TOPIC_ORDERS", "orders"),
				Carts:  getEnv("KAFKA_TOPIC_CARTS", "carts"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Geocoding: GeocodingConfig{
			Provider:       getEnv("GEOCODER_PROVIDER", "offline"),
			YandexAPIKey:   getEnv("YANDEX_GEOCODER_API_KEY", ""),
			YandexBaseURL:  getEnv("YANDEX_GEOCODER_BASE_URL", "https://geocode-maps.yandex.ru/1.x"),
			TimeoutSeconds: getEnvAsInt("GEOCODER_TIMEOUT_SECONDS", 5),
		},
		Delivery: DeliveryConfig{
			OriginLat:        getEnvAsFloat("DELIVERY_ORIGIN_LAT", 47.1585),
			OriginLon:        getEnvAsFloat("DELIVERY_ORIGIN_LON", 27.6014),
			BaseFare:         getEnvAsFloat("DELIVERY_BASE_FARE", 5.0),
			PerKm:            getEnvAsFloat("DELIVERY_PER_KM", 2.0),
			MinFare:          getEnvAsFloat("DELIVERY_MIN_FARE", 10.0),
			MaxDistanceKm:    getEnvAsFloat("DELIVERY_MAX_DISTANCE_KM", 15.0),
			FreeDeliveryOver: getEnvAsFloat("DELIVERY_FREE_OVER", 0),
			ZoneCacheMinutes: getEnvAsInt("DELIVERY_ZONE_CACHE_MINUTES", 30),
		},
		Pricing: PricingConfig{
			Currency: getEnv("PRICING_CURRENCY", "lei"),
		},
		Catalog: CatalogConfig{
			CacheTTLSeconds:        getEnvAsInt("CATALOG_CACHE_TTL_SECONDS", 300),
			RefreshIntervalSeconds: getEnvAsInt("CATALOG_REFRESH_INTERVAL_SECONDS", 60),
			LoadTimeoutSeconds:     getEnvAsInt("CATALOG_LOAD_TIMEOUT_SECONDS", 5),
		},
		Cart: CartConfig{
			TTLHours:        getEnvAsInt("CART_TTL_HOURS", 72),
			MaxItemQuantity: getEnvAsInt("CART_MAX_ITEM_QUANTITY", 999),
		},
		Analytics: AnalyticsConfig{
			CacheTTLMinutes:       getEnvAsInt("ANALYTICS_CACHE_TTL_MINUTES", 10),
			MaxRangeDays:          getEnvAsInt("ANALYTICS_MAX_RANGE_DAYS", 365),
			DefaultGroupBy:        getEnv("ANALYTICS_DEFAULT_GROUP_BY", "none"),
			DefaultTopLimit:       getEnvAsInt("ANALYTICS_DEFAULT_TOP_LIMIT", 5),
			DefaultOfferLimit:     getEnvAsInt("ANALYTICS_DEFAULT_OFFER_LIMIT", 50),
			RequestTimeoutSeconds: getEnvAsInt("ANALYTICS_REQUEST_TIMEOUT_SECONDS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvAsBool("METRICS_ENABLED", true),
			Namespace: getEnv("METRICS_NAMESPACE", "restaurant"),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
