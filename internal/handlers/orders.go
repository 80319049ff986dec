package handlers

import (
	"net/http"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/redis"
)

const ordersPrefix = "/api/orders/"

// OrderHandler отдаёт оформленные заказы. Заказ после оформления не меняется,
// поэтому ответ GetOrder кешируется без инвалидации.
type OrderHandler struct {
	orders OrderService
	cache  RedisClient
	log    *logger.Logger
}

// NewOrderHandler создаёт новый обработчик заказов. cache может быть nil.
func NewOrderHandler(orders OrderService, cache RedisClient, log *logger.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, cache: cache, log: log}
}

// GetOrder получает заказ по ID
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	orderID, err := extractUUIDFromPath(r.URL.Path, ordersPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	cacheKey := redis.GenerateKey(redis.KeyPrefixOrder, orderID.String())
	if h.cache != nil {
		var cached models.Order
		if err := h.cache.Get(r.Context(), cacheKey, &cached); err == nil {
			h.log.WithField("order_id", orderID).Debug("Order retrieved from cache")
			writeJSONResponse(w, http.StatusOK, &cached)
			return
		}
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), cacheKey, order, defaultCacheTTL); err != nil {
			h.log.WithError(err).Error("Failed to cache order")
		}
	}

	writeJSONResponse(w, http.StatusOK, order)
}

// GetOrders получает страницу заказов
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := parsePagination(r)
	orders, err := h.orders.ListOrders(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get orders")
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	writeJSONResponse(w, http.StatusOK, orders)
}
