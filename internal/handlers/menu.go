package handlers

import (
	"net/http"
	"strings"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
)

const productsPrefix = "/api/products/"

// MenuHandler отдаёт меню, зоны доставки и расчёт доставки.
type MenuHandler struct {
	products ProductCatalog
	zones    ZoneDirectory
	log      *logger.Logger
}

// NewMenuHandler создаёт обработчик меню.
func NewMenuHandler(products ProductCatalog, zones ZoneDirectory, log *logger.Logger) *MenuHandler {
	return &MenuHandler{products: products, zones: zones, log: log}
}

// ListProducts возвращает доступные товары, ?category= сужает выборку.
func (h *MenuHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	products, err := h.products.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list products")
		return
	}
	if products == nil {
		products = []*models.Product{}
	}

	writeJSONResponse(w, http.StatusOK, products)
}

// GetProduct возвращает товар по id.
func (h *MenuHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	segments, err := pathSegments(r.URL.Path, productsPrefix)
	if err != nil || len(segments) != 1 {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := h.products.GetProduct(r.Context(), segments[0])
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get product")
		return
	}

	writeJSONResponse(w, http.StatusOK, product)
}

// ListZones возвращает обслуживаемые зоны доставки.
func (h *MenuHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	zones, err := h.zones.ListZones(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list delivery zones")
		return
	}
	if zones == nil {
		zones = []*models.DeliveryZone{}
	}

	writeJSONResponse(w, http.StatusOK, zones)
}

// QuoteDelivery считает стоимость доставки без корзины.
// GET принимает mode, zone_id и address в query, POST принимает их в теле.
func (h *MenuHandler) QuoteDelivery(w http.ResponseWriter, r *http.Request) {
	var req models.DeliveryRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = models.DeliveryRequest{
			Mode:    models.DeliveryMode(strings.TrimSpace(q.Get("mode"))),
			ZoneID:  q.Get("zone_id"),
			Address: q.Get("address"),
		}
	case http.MethodPost:
		if err := decodeJSON(r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	quote, err := h.zones.Quote(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to quote delivery")
		return
	}

	writeJSONResponse(w, http.StatusOK, quote)
}
