package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"restaurant-pricing/internal/clock"
	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/redis"
)

// RateDecision представляет результат проверки лимита для одного запроса.
type RateDecision struct {
	Allowed   bool
	Limit     int64
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// RateLimiter ограничивает число запросов клиента в фиксированном окне.
// Счётчики живут в Redis, поэтому лимит общий для всех экземпляров сервиса.
type RateLimiter struct {
	redis   rateRedis
	log     *logger.Logger
	clock   clock.Clock
	enabled bool
	limit   int64
	window  time.Duration
	prefix  string
}

type rateRedis interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// NewRateLimiter создаёт rate limiter. Без Redis или с выключенной настройкой все запросы пропускаются.
func NewRateLimiter(redisClient *redis.Client, log *logger.Logger, cfg *config.RateLimitConfig) *RateLimiter {
	if redisClient == nil || cfg == nil || !cfg.Enabled || cfg.Requests <= 0 || cfg.WindowSeconds <= 0 {
		return &RateLimiter{enabled: false, clock: clock.NewRealClock()}
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RateLimiter{
		redis:   redisClient,
		log:     log,
		clock:   clock.NewRealClock(),
		enabled: true,
		limit:   int64(cfg.Requests),
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		prefix:  prefix,
	}
}

// Allow учитывает запрос клиента key. Если Redis недоступен, запрос пропускается,
// а ошибка возвращается вместе с разрешающим решением для логирования.
func (r *RateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	now := r.clock.Now()
	if !r.enabled {
		return RateDecision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
	}

	redisKey := r.makeKey(key)
	count, err := r.redis.Incr(ctx, redisKey)
	if err != nil {
		return RateDecision{Allowed: true, Limit: r.limit, Remaining: r.limit}, fmt.Errorf("rate limiter incr failed: %w", err)
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, r.window); err != nil {
			r.log.WithError(err).WithField("key", redisKey).Warn("Failed to set rate limit ttl")
		}
	}

	return RateDecision{
		Allowed:   count <= r.limit,
		Limit:     r.limit,
		Used:      count,
		Remaining: remainingOf(r.limit, count),
		ResetAt:   now.Add(r.windowLeft(ctx, redisKey)),
	}, nil
}

// Usage возвращает состояние окна клиента, не учитывая запрос.
func (r *RateLimiter) Usage(ctx context.Context, key string) (RateDecision, error) {
	if !r.enabled {
		return RateDecision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
	}

	redisKey := r.makeKey(key)
	count, err := r.redis.GetInt(ctx, redisKey)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return RateDecision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
		}
		return RateDecision{}, fmt.Errorf("rate limiter usage failed: %w", err)
	}

	return RateDecision{
		Allowed:   count < r.limit,
		Limit:     r.limit,
		Used:      count,
		Remaining: remainingOf(r.limit, count),
		ResetAt:   r.clock.Now().Add(r.windowLeft(ctx, redisKey)),
	}, nil
}

// Enabled сообщает, включён ли rate limiting.
func (r *RateLimiter) Enabled() bool {
	return r.enabled
}

// Window возвращает длину окна.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

func (r *RateLimiter) windowLeft(ctx context.Context, redisKey string) time.Duration {
	ttl, err := r.redis.TTL(ctx, redisKey)
	if err != nil || ttl <= 0 {
		if err != nil {
			r.log.WithError(err).WithField("key", redisKey).Warn("Failed to get rate limit ttl")
		}
		return r.window
	}
	return ttl
}

func (r *RateLimiter) makeKey(key string) string {
	safeKey := strings.ReplaceAll(key, ":", "_")
	return fmt.Sprintf("%s:%s", r.prefix, safeKey)
}

func remainingOf(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

// ExtractClientIP получает IP из заголовков/RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
