package handlers

import (
	"net/http"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/google/uuid"
)

const cartsPrefix = "/api/carts/"

// CartHandler обслуживает корзины, расчёт без корзины и оформление заказа.
type CartHandler struct {
	carts  CartManager
	orders OrderService
	log    *logger.Logger
}

// NewCartHandler создаёт обработчик корзин.
func NewCartHandler(carts CartManager, orders OrderService, log *logger.Logger) *CartHandler {
	return &CartHandler{carts: carts, orders: orders, log: log}
}

// CreateCart создаёт пустую корзину.
func (h *CartHandler) CreateCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	view, err := h.carts.CreateCart(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create cart")
		return
	}

	writeJSONResponse(w, http.StatusCreated, view)
}

// HandleCart разбирает /api/carts/{id}[/items[/{product_id}]|/delivery|/checkout].
func (h *CartHandler) HandleCart(w http.ResponseWriter, r *http.Request) {
	segments, err := pathSegments(r.URL.Path, cartsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid cart ID")
		return
	}
	cartID, err := uuid.Parse(segments[0])
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid cart ID")
		return
	}

	switch {
	case len(segments) == 1:
		h.handleCartRoot(w, r, cartID)
	case len(segments) == 2 && segments[1] == "items":
		h.addItem(w, r, cartID)
	case len(segments) == 3 && segments[1] == "items":
		h.handleItem(w, r, cartID, segments[2])
	case len(segments) == 2 && segments[1] == "delivery":
		h.setDelivery(w, r, cartID)
	case len(segments) == 2 && segments[1] == "checkout":
		h.checkout(w, r, cartID)
	default:
		writeErrorResponse(w, http.StatusNotFound, "Not found")
	}
}

func (h *CartHandler) handleCartRoot(w http.ResponseWriter, r *http.Request, cartID uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		view, err := h.carts.GetCart(r.Context(), cartID)
		if err != nil {
			writeServiceError(w, h.log, err, "Failed to get cart")
			return
		}
		writeJSONResponse(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := h.carts.DeleteCart(r.Context(), cartID); err != nil {
			writeServiceError(w, h.log, err, "Failed to delete cart")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request, cartID uuid.UUID) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.AddCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.carts.AddItem(r.Context(), cartID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to add cart item")
		return
	}

	writeJSONResponse(w, http.StatusOK, view)
}

func (h *CartHandler) handleItem(w http.ResponseWriter, r *http.Request, cartID uuid.UUID, productID string) {
	switch r.Method {
	case http.MethodPut:
		var req models.SetQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		view, err := h.carts.SetQuantity(r.Context(), cartID, productID, req.Quantity)
		if err != nil {
			writeServiceError(w, h.log, err, "Failed to update cart item")
			return
		}
		writeJSONResponse(w, http.StatusOK, view)
	case http.MethodDelete:
		view, err := h.carts.RemoveItem(r.Context(), cartID, productID)
		if err != nil {
			writeServiceError(w, h.log, err, "Failed to remove cart item")
			return
		}
		writeJSONResponse(w, http.StatusOK, view)
	default:
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *CartHandler) setDelivery(w http.ResponseWriter, r *http.Request, cartID uuid.UUID) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.DeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.carts.SetDelivery(r.Context(), cartID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to set delivery")
		return
	}

	writeJSONResponse(w, http.StatusOK, view)
}

func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request, cartID uuid.UUID) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.orders == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Checkout is not available")
		return
	}

	var req models.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.orders.Checkout(r.Context(), cartID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to checkout cart")
		return
	}

	writeJSONResponse(w, http.StatusCreated, order)
}

// Quote считает набор товаров без создания корзины.
func (h *CartHandler) Quote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.carts.Quote(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to quote cart")
		return
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
