package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/redis"
)

const (
	geocodeCacheTTL = 24 * time.Hour
	kmPerDegreeLat  = 111.195
)

// Coordinates представляют координаты точки.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type geocodeCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// GeocodingService превращает адрес доставки в координаты с кешированием в Redis.
// Провайдер yandex ходит во внешний API; offline (и fallback при ошибке API)
// детерминированно раскладывает адреса вокруг ресторана в радиусе spreadKm.
type GeocodingService struct {
	cache    geocodeCache
	log      *logger.Logger
	client   *http.Client
	cfg      *config.GeocodingConfig
	origin   Coordinates
	spreadKm float64
}

// NewGeocodingService создаёт сервис геокодирования. redisClient может быть nil.
func NewGeocodingService(redisClient *redis.Client, log *logger.Logger, cfg *config.GeocodingConfig, origin Coordinates, spreadKm float64) *GeocodingService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if spreadKm <= 0 {
		spreadKm = 10
	}
	s := &GeocodingService{
		log:      log,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg,
		origin:   origin,
		spreadKm: spreadKm,
	}
	if redisClient != nil {
		s.cache = redisClient
	}
	return s
}

// Geocode возвращает координаты по адресу, используя кеш Redis.
func (s *GeocodingService) Geocode(ctx context.Context, address string) (float64, float64, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, 0, fmt.Errorf("address is empty")
	}

	key := redis.GenerateKey(redis.KeyPrefixGeocode, hashKey(address))

	if s.cache != nil {
		var cached Coordinates
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Lat, cached.Lon, nil
		}
	}

	var coords Coordinates
	if strings.EqualFold(s.cfg.Provider, "yandex") && s.cfg.YandexAPIKey != "" {
		lat, lon, err := s.yandexGeocode(ctx, address)
		if err != nil {
			s.log.WithError(err).WithField("address", address).Warn("Yandex geocode failed, fallback to offline")
			coords = s.offlineCoordinates(address)
		} else {
			coords = Coordinates{Lat: lat, Lon: lon}
		}
	} else {
		coords = s.offlineCoordinates(address)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, coords, geocodeCacheTTL); err != nil {
			s.log.WithError(err).WithField("address", address).Warn("Failed to cache geocode result")
		}
	}

	return coords.Lat, coords.Lon, nil
}

// yandexGeocode вызывает API Яндекс Геокодера и возвращает координаты (lat, lon).
func (s *GeocodingService) yandexGeocode(ctx context.Context, address string) (float64, float64, error) {
	params := url.Values{}
	params.Set("apikey", s.cfg.YandexAPIKey)
	params.Set("format", "json")
	params.Set("geocode", address)

	endpoint := s.cfg.YandexBaseURL
	if endpoint == "" {
		endpoint = "https://geocode-maps.yandex.ru/1.x"
	}

	reqURL := endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to call yandex geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, 0, fmt.Errorf("yandex geocode returned status %d: %s", resp.StatusCode, string(body))
	}

	var data yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, 0, fmt.Errorf("failed to decode yandex geocode response: %w", err)
	}

	pos := data.FirstPos()
	if pos == "" {
		return 0, 0, fmt.Errorf("yandex geocode returned empty position")
	}

	// pos формат: "37.6173 55.7558" (lon lat)
	var lon, lat float64
	_, err = fmt.Sscanf(pos, "%f %f", &lon, &lat)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse position: %w", err)
	}

	return lat, lon, nil
}

// Структуры для парсинга Yandex ответа
type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

func (r *yandexResponse) FirstPos() string {
	if len(r.Response.GeoObjectCollection.FeatureMember) == 0 {
		return ""
	}
	return r.Response.GeoObjectCollection.FeatureMember[0].GeoObject.Point.Pos
}

// offlineCoordinates выбирает по хешу адреса направление и расстояние от ресторана
// (не дальше spreadKm). Один и тот же адрес всегда даёт одну и ту же точку.
func (s *GeocodingService) offlineCoordinates(address string) Coordinates {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(address)))
	val := h.Sum64()

	bearing := float64(val%36000) / 36000 * 2 * math.Pi
	distKm := float64((val/36000)%10000) / 10000 * s.spreadKm

	dLat := distKm * math.Cos(bearing) / kmPerDegreeLat
	dLon := distKm * math.Sin(bearing) / (kmPerDegreeLat * math.Cos(s.origin.Lat*math.Pi/180))

	return Coordinates{Lat: s.origin.Lat + dLat, Lon: s.origin.Lon + dLon}
}

// hashKey делает короткий ключ для адреса.
func hashKey(address string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(address)))
	return fmt.Sprintf("%x", h.Sum64())
}
