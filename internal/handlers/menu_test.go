package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
)

type stubMenu struct {
	products     []*models.Product
	product      *models.Product
	zones        []*models.DeliveryZone
	quote        *models.DeliveryQuote
	err          error
	lastCategory string
	lastProduct  string
	lastDelivery *models.DeliveryRequest
}

func (s *stubMenu) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	s.lastProduct = id
	return s.product, s.err
}

func (s *stubMenu) ListProducts(ctx context.Context, categoryID string) ([]*models.Product, error) {
	s.lastCategory = categoryID
	return s.products, s.err
}

func (s *stubMenu) ListZones(ctx context.Context) ([]*models.DeliveryZone, error) {
	return s.zones, s.err
}

func (s *stubMenu) Quote(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error) {
	s.lastDelivery = req
	return s.quote, s.err
}

func TestMenuHandler_ListProducts(t *testing.T) {
	menu := &stubMenu{products: []*models.Product{
		{ID: "margherita", Name: "Margherita", Price: decimal.NewFromInt(32), CategoryID: "pizza", Available: true},
	}}
	h := NewMenuHandler(menu, menu, logger.Discard())

	rr := httptest.NewRecorder()
	h.ListProducts(rr, httptest.NewRequest(http.MethodGet, "/api/products?category=pizza", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if menu.lastCategory != "pizza" {
		t.Fatalf("expected category filter pizza, got %q", menu.lastCategory)
	}

	var got []models.Product
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || !got[0].Price.Equal(decimal.NewFromInt(32)) {
		t.Fatalf("unexpected products: %+v", got)
	}
}

func TestMenuHandler_GetProduct(t *testing.T) {
	menu := &stubMenu{product: &models.Product{ID: "cola", Name: "Cola", Price: decimal.NewFromInt(10), CategoryID: "drinks"}}
	h := NewMenuHandler(menu, menu, logger.Discard())

	rr := httptest.NewRecorder()
	h.GetProduct(rr, httptest.NewRequest(http.MethodGet, "/api/products/cola", nil))
	if rr.Code != http.StatusOK || menu.lastProduct != "cola" {
		t.Fatalf("expected 200 for cola, got %d (%s)", rr.Code, menu.lastProduct)
	}

	rr = httptest.NewRecorder()
	h.GetProduct(rr, httptest.NewRequest(http.MethodGet, "/api/products/", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rr.Code)
	}

	menu.err = apperror.NotFound("product not found", nil)
	rr = httptest.NewRecorder()
	h.GetProduct(rr, httptest.NewRequest(http.MethodGet, "/api/products/ghost", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMenuHandler_ListZones(t *testing.T) {
	menu := &stubMenu{}
	h := NewMenuHandler(menu, menu, logger.Discard())

	rr := httptest.NewRecorder()
	h.ListZones(rr, httptest.NewRequest(http.MethodGet, "/api/zones", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestMenuHandler_QuoteDelivery(t *testing.T) {
	quote := &models.DeliveryQuote{Mode: models.DeliveryModeDelivery, ZoneID: "center", Fee: decimal.NewFromInt(15), MinOrder: decimal.NewFromInt(50)}
	menu := &stubMenu{quote: quote}
	h := NewMenuHandler(menu, menu, logger.Discard())

	rr := httptest.NewRecorder()
	h.QuoteDelivery(rr, httptest.NewRequest(http.MethodGet, "/api/delivery/quote?mode=delivery&zone_id=center", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", rr.Code)
	}
	if menu.lastDelivery == nil || menu.lastDelivery.Mode != models.DeliveryModeDelivery || menu.lastDelivery.ZoneID != "center" {
		t.Fatalf("GET: unexpected request %+v", menu.lastDelivery)
	}

	rr = httptest.NewRecorder()
	h.QuoteDelivery(rr, httptest.NewRequest(http.MethodPost, "/api/delivery/quote", strings.NewReader(`{"mode":"delivery","address":"Str. Stefan cel Mare 1"}`)))
	if rr.Code != http.StatusOK || menu.lastDelivery.Address != "Str. Stefan cel Mare 1" {
		t.Fatalf("POST: unexpected result %d %+v", rr.Code, menu.lastDelivery)
	}

	rr = httptest.NewRecorder()
	h.QuoteDelivery(rr, httptest.NewRequest(http.MethodDelete, "/api/delivery/quote", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	menu.err = apperror.Unavailable("address is 22.0 km away, delivery radius is 15 km", nil)
	rr = httptest.NewRecorder()
	h.QuoteDelivery(rr, httptest.NewRequest(http.MethodGet, "/api/delivery/quote?mode=delivery&address=far", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}
