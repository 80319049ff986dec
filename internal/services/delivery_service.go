package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/redis"

	"github.com/shopspring/decimal"
)

const defaultZoneCacheTTL = 30 * time.Minute

// Geocoder превращает адрес в координаты.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat float64, lon float64, err error)
}

type zoneCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DeliveryService считает стоимость получения заказа: самовывоз бесплатен,
// доставка в зону стоит по тарифу зоны, доставка по адресу считается по расстоянию.
type DeliveryService struct {
	db       *database.DB
	cache    zoneCache
	geocoder Geocoder
	fare     *FareCalculator
	log      *logger.Logger

	origin        Coordinates
	maxDistanceKm float64
	freeOver      decimal.Decimal
	zoneTTL       time.Duration
}

// NewDeliveryService создаёт сервис доставки. redisClient может быть nil.
func NewDeliveryService(db *database.DB, redisClient *redis.Client, geocoder Geocoder, log *logger.Logger, cfg *config.DeliveryConfig) *DeliveryService {
	s := &DeliveryService{
		db:       db,
		geocoder: geocoder,
		log:      log,
		fare:     NewFareCalculator(cfg.BaseFare, cfg.PerKm, cfg.MinFare),
		origin:   Coordinates{Lat: cfg.OriginLat, Lon: cfg.OriginLon},
		zoneTTL:  defaultZoneCacheTTL,
	}
	if redisClient != nil {
		s.cache = redisClient
	}
	if cfg.MaxDistanceKm > 0 {
		s.maxDistanceKm = cfg.MaxDistanceKm
	}
	if cfg.FreeDeliveryOver > 0 {
		s.freeOver = decimal.NewFromFloat(cfg.FreeDeliveryOver)
	}
	if cfg.ZoneCacheMinutes > 0 {
		s.zoneTTL = time.Duration(cfg.ZoneCacheMinutes) * time.Minute
	}
	return s
}

// Quote возвращает тариф для выбранного способа получения. nil означает самовывоз.
func (s *DeliveryService) Quote(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error) {
	if req == nil {
		return pickupQuote(), nil
	}

	switch models.DeliveryMode(strings.ToLower(string(req.Mode))) {
	case "", models.DeliveryModePickup:
		return pickupQuote(), nil
	case models.DeliveryModeDelivery:
	default:
		return nil, apperror.Newf(apperror.KindValidation, "unknown delivery mode %q", req.Mode)
	}

	if zoneID := strings.TrimSpace(req.ZoneID); zoneID != "" {
		zone, err := s.GetZone(ctx, zoneID)
		if err != nil {
			return nil, err
		}
		if !zone.Active {
			return nil, apperror.Newf(apperror.KindUnavailable, "delivery zone %s is not served", zone.ID)
		}
		return &models.DeliveryQuote{
			Mode:     models.DeliveryModeDelivery,
			ZoneID:   zone.ID,
			Fee:      zone.Fee,
			MinOrder: zone.MinOrder,
		}, nil
	}

	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, apperror.Validation("delivery requires zone_id or address", nil)
	}
	if s.geocoder == nil {
		return nil, apperror.Unavailable("address delivery is not configured", nil)
	}

	lat, lon, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}

	distance := haversineKm(s.origin.Lat, s.origin.Lon, lat, lon)
	if s.maxDistanceKm > 0 && distance > s.maxDistanceKm {
		return nil, apperror.Newf(apperror.KindUnavailable, "address is %.1f km away, delivery radius is %.0f km", distance, s.maxDistanceKm)
	}
	distance = math.Round(distance*10) / 10

	return &models.DeliveryQuote{
		Mode:       models.DeliveryModeDelivery,
		Fee:        s.fare.CalculateCost(distance),
		MinOrder:   decimal.Zero,
		DistanceKm: &distance,
	}, nil
}

// FeeFor возвращает стоимость доставки с учётом бесплатной доставки от порога.
// payable содержит сумму товаров после скидок.
func (s *DeliveryService) FeeFor(quote *models.DeliveryQuote, payable decimal.Decimal) decimal.Decimal {
	if quote == nil || quote.Mode != models.DeliveryModeDelivery {
		return decimal.Zero
	}
	if s.freeOver.IsPositive() && payable.GreaterThanOrEqual(s.freeOver) {
		return decimal.Zero
	}
	return quote.Fee
}

// GetZone возвращает зону доставки, используя кеш Redis.
func (s *DeliveryService) GetZone(ctx context.Context, id string) (*models.DeliveryZone, error) {
	key := redis.GenerateKey(redis.KeyPrefixZone, id)
	if s.cache != nil {
		var cached models.DeliveryZone
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	query := `
		SELECT id, name, fee, min_order, active
		FROM delivery_zones
		WHERE id = $1
	`

	zone := &models.DeliveryZone{}
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&zone.ID, &zone.Name, &zone.Fee, &zone.MinOrder, &zone.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("delivery zone not found", err)
		}
		return nil, fmt.Errorf("failed to get delivery zone: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, zone, s.zoneTTL); err != nil {
			s.log.WithError(err).WithField("zone_id", id).Warn("Failed to cache delivery zone")
		}
	}
	return zone, nil
}

// ListZones возвращает обслуживаемые зоны.
func (s *DeliveryService) ListZones(ctx context.Context) ([]*models.DeliveryZone, error) {
	query := `
		SELECT id, name, fee, min_order, active
		FROM delivery_zones
		WHERE active = TRUE
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery zones: %w", err)
	}
	defer rows.Close()

	var zones []*models.DeliveryZone
	for rows.Next() {
		zone := &models.DeliveryZone{}
		if err := rows.Scan(&zone.ID, &zone.Name, &zone.Fee, &zone.MinOrder, &zone.Active); err != nil {
			return nil, fmt.Errorf("failed to scan delivery zone: %w", err)
		}
		zones = append(zones, zone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery zones: %w", err)
	}

	return zones, nil
}

func pickupQuote() *models.DeliveryQuote {
	return &models.DeliveryQuote{
		Mode:     models.DeliveryModePickup,
		Fee:      decimal.Zero,
		MinOrder: decimal.Zero,
	}
}
