package handlers

import (
	"net/http"
	"time"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"
)

const adminOffersPrefix = "/api/admin/offers/"

// OfferHandler обслуживает администрирование акций и публичный список действующих акций.
type OfferHandler struct {
	offers  OfferAdmin
	catalog CatalogView
	log     *logger.Logger
	now     func() time.Time
}

// NewOfferHandler создаёт обработчик акций.
func NewOfferHandler(offers OfferAdmin, catalog CatalogView, log *logger.Logger) *OfferHandler {
	return &OfferHandler{
		offers:  offers,
		catalog: catalog,
		log:     log,
		now:     time.Now,
	}
}

// ActiveOffer представляет акцию в публичном ответе.
type ActiveOffer struct {
	ID           string                   `json:"id"`
	Code         string                   `json:"code"`
	Name         string                   `json:"name"`
	Description  string                   `json:"description,omitempty"`
	DiscountType models.OfferDiscountType `json:"discount_type"`
	Scope        models.OfferScope        `json:"scope"`
	Stackable    bool                     `json:"stackable"`
	Priority     int                      `json:"priority"`
	EndsAt       *time.Time               `json:"ends_at,omitempty"`
}

// ListActive возвращает акции каталога, действующие сейчас, в порядке применения (по возрастанию priority).
func (h *OfferHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	catalog := pricing.EmptyCatalog()
	if h.catalog != nil {
		catalog = h.catalog.Current()
	}

	now := h.now()
	active := make([]ActiveOffer, 0)
	for _, o := range catalog.ByPriority() {
		if !o.LiveAt(now) {
			continue
		}
		item := ActiveOffer{
			ID:           o.ID,
			Code:         o.Code,
			Name:         o.DisplayName(),
			Description:  o.Description,
			DiscountType: o.DiscountType(),
			Scope:        o.ScopeType(),
			Stackable:    o.Stackable,
			Priority:     o.Priority,
		}
		if win := o.Conditions.Window; win != nil {
			item.EndsAt = win.End
		}
		active = append(active, item)
	}

	writeJSONResponse(w, http.StatusOK, active)
}

// CreateOffer создаёт акцию.
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreateOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.offers.CreateOffer(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create offer")
		return
	}

	writeJSONResponse(w, http.StatusCreated, offer)
}

// ListOffers возвращает все акции постранично.
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := parsePagination(r)
	offers, err := h.offers.ListOffers(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list offers")
		return
	}
	if offers == nil {
		offers = []*models.OfferRecord{}
	}

	writeJSONResponse(w, http.StatusOK, offers)
}

// GetOffer возвращает акцию по id.
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := offerIDFromPath(w, r)
	if !ok {
		return
	}

	offer, err := h.offers.GetOffer(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get offer")
		return
	}

	writeJSONResponse(w, http.StatusOK, offer)
}

// UpdateOffer заменяет параметры акции.
func (h *OfferHandler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := offerIDFromPath(w, r)
	if !ok {
		return
	}

	var req models.UpdateOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.offers.UpdateOffer(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update offer")
		return
	}

	writeJSONResponse(w, http.StatusOK, offer)
}

// DeleteOffer удаляет акцию.
func (h *OfferHandler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, ok := offerIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.offers.DeleteOffer(r.Context(), id); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete offer")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshCatalog сбрасывает кеш каталога и запускает перезагрузку в фоне.
func (h *OfferHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.catalog == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Offer catalog is not configured")
		return
	}

	if err := h.catalog.Invalidate(r.Context()); err != nil {
		h.log.WithError(err).Warn("Failed to invalidate offer catalog cache")
	}
	started := h.catalog.Refresh(r.Context())

	writeJSONResponse(w, http.StatusAccepted, map[string]interface{}{
		"started": started,
		"offers":  h.catalog.Current().Len(),
	})
}

func offerIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	segments, err := pathSegments(r.URL.Path, adminOffersPrefix)
	if err != nil || len(segments) != 1 {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid offer ID")
		return "", false
	}
	return segments[0], true
}
