package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/services"
)

// Области лимитирования: у оформления заказа и админки свои счётчики,
// чтобы просмотр меню и корзины не съедал их бюджет.
const (
	RateScopeAPI      = "api"
	RateScopeCheckout = "checkout"
	RateScopeAdmin    = "admin"
)

var rateScopes = []string{RateScopeAPI, RateScopeCheckout, RateScopeAdmin}

// MiddlewareLimiter описывает контракт для rate limiter.
type MiddlewareLimiter interface {
	Allow(ctx context.Context, key string) (services.RateDecision, error)
	Enabled() bool
}

// RateLimitStatusProvider расширяет интерфейс для эндпоинта статуса.
type RateLimitStatusProvider interface {
	MiddlewareLimiter
	Usage(ctx context.Context, key string) (services.RateDecision, error)
	Window() time.Duration
}

// RateLimitUsage показывает состояние окна одной области.
type RateLimitUsage struct {
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	ResetAt   string `json:"reset_at,omitempty"`
}

// RateLimitStatus представляет ответ GET /api/rate-limit/status.
type RateLimitStatus struct {
	Enabled       bool                      `json:"enabled"`
	Client        string                    `json:"client,omitempty"`
	WindowSeconds int64                     `json:"window_seconds,omitempty"`
	Scopes        map[string]RateLimitUsage `json:"scopes,omitempty"`
}

// RateLimitHandler отдаёт состояние лимитов клиента.
type RateLimitHandler struct {
	limiter RateLimitStatusProvider
	log     *logger.Logger
}

// NewRateLimitHandler создаёт новый RateLimitHandler. limiter может быть nil.
func NewRateLimitHandler(limiter RateLimitStatusProvider, log *logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		limiter: limiter,
		log:     log,
	}
}

// Status возвращает использование лимита клиентом по всем областям.
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.limiter == nil || !h.limiter.Enabled() {
		writeJSONResponse(w, http.StatusOK, RateLimitStatus{Enabled: false})
		return
	}

	client := services.ExtractClientIP(r)
	status := RateLimitStatus{
		Enabled:       true,
		Client:        client,
		WindowSeconds: int64(h.limiter.Window() / time.Second),
		Scopes:        make(map[string]RateLimitUsage, len(rateScopes)),
	}
	for _, scope := range rateScopes {
		usage, err := h.limiter.Usage(r.Context(), rateLimitKey(scope, client))
		if err != nil {
			h.log.WithError(err).WithField("scope", scope).Error("Failed to fetch rate limit usage")
			writeErrorResponse(w, http.StatusInternalServerError, "Failed to fetch rate limit usage")
			return
		}
		u := RateLimitUsage{Limit: usage.Limit, Used: usage.Used, Remaining: usage.Remaining}
		if !usage.ResetAt.IsZero() {
			u.ResetAt = usage.ResetAt.UTC().Format(time.RFC3339)
		}
		status.Scopes[scope] = u
	}

	writeJSONResponse(w, http.StatusOK, status)
}

// RateLimitScope относит запрос к области лимитирования.
func RateLimitScope(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasPrefix(path, "/api/admin/"), path == "/api/admin":
		return RateScopeAdmin
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/checkout"):
		return RateScopeCheckout
	}
	return RateScopeAPI
}

func rateLimitKey(scope, client string) string {
	return scope + ":" + client
}

// RateLimitMiddleware применяет rate limiting к хендлеру.
// Ошибка хранилища лимитов не блокирует запрос.
func RateLimitMiddleware(limiter MiddlewareLimiter, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter == nil || !limiter.Enabled() {
			next(w, r)
			return
		}

		scope := RateLimitScope(r)
		client := services.ExtractClientIP(r)
		decision, err := limiter.Allow(r.Context(), rateLimitKey(scope, client))
		if err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"client": client,
				"scope":  scope,
			}).Warn("Rate limiter failed, request allowed")
			next(w, r)
			return
		}

		setRateLimitHeaders(w.Header(), scope, decision)
		if !decision.Allowed {
			writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next(w, r)
	}
}

func setRateLimitHeaders(h http.Header, scope string, d services.RateDecision) {
	h.Set("X-RateLimit-Scope", scope)
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if d.ResetAt.IsZero() {
		return
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		retry := int64(time.Until(d.ResetAt).Seconds())
		if retry < 1 {
			retry = 1
		}
		h.Set("Retry-After", strconv.FormatInt(retry, 10))
	}
}
