package services

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"
	"restaurant-pricing/internal/redis"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "debug", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &database.DB{DB: db}, mock
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skip: cannot start miniredis in this environment: %v", err)
		}
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	parts := strings.Split(mr.Addr(), ":")
	cfg := &config.RedisConfig{
		Host: parts[0],
		Port: parts[1],
		DB:   0,
	}

	rdb, err := redis.Connect(cfg, newTestLogger())
	if err != nil {
		t.Fatalf("failed to connect redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	return rdb, mr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func product(id, category, price string) *models.Product {
	return &models.Product{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Price: dec(price), CategoryID: category, Available: true}
}

// recordingEvents собирает опубликованные события всех типов.
type recordingEvents struct {
	mu           sync.Mutex
	offerChanges []models.OfferChangedData
	orders       []uuid.UUID
	carts        []models.CartUpdatedData
	err          error
}

func (e *recordingEvents) PublishOfferChanged(offerID, code string, action models.OfferChangeAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offerChanges = append(e.offerChanges, models.OfferChangedData{OfferID: offerID, Code: code, Action: action})
	return e.err
}

func (e *recordingEvents) PublishOrderPlaced(order *models.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, order.ID)
	return e.err
}

func (e *recordingEvents) PublishCartUpdated(cartID uuid.UUID, itemCount int, subtotal, total decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.carts = append(e.carts, models.CartUpdatedData{CartID: cartID, ItemCount: itemCount, Subtotal: subtotal, Total: total})
	return e.err
}

type staticCatalog struct {
	catalog *pricing.Catalog
}

func (c staticCatalog) Current() *pricing.Catalog { return c.catalog }

type stubProducts map[string]*models.Product

func (p stubProducts) GetOrderableProduct(_ context.Context, id string) (*models.Product, error) {
	product, ok := p[id]
	if !ok {
		return nil, apperror.NotFound("product not found", nil)
	}
	if !product.Available {
		return nil, apperror.Unavailable("product is not available", nil)
	}
	return product, nil
}

func (p stubProducts) GetProducts(_ context.Context, ids []string) (map[string]*models.Product, error) {
	out := make(map[string]*models.Product)
	for _, id := range ids {
		if product, ok := p[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

// stubQuoter: самовывоз бесплатно, зона "center" стоит 15 при минимальном заказе 50,
// бесплатная доставка от freeOver (если задан).
type stubQuoter struct {
	freeOver decimal.Decimal
}

func (q stubQuoter) Quote(_ context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error) {
	if req == nil || req.Mode == models.DeliveryModePickup {
		return &models.DeliveryQuote{Mode: models.DeliveryModePickup}, nil
	}
	if req.ZoneID != "center" {
		return nil, apperror.NotFound("delivery zone not found", nil)
	}
	return &models.DeliveryQuote{Mode: models.DeliveryModeDelivery, ZoneID: "center", Fee: dec("15"), MinOrder: dec("50")}, nil
}

func (q stubQuoter) FeeFor(quote *models.DeliveryQuote, payable decimal.Decimal) decimal.Decimal {
	if quote == nil || quote.Mode != models.DeliveryModeDelivery {
		return decimal.Zero
	}
	if q.freeOver.IsPositive() && payable.GreaterThanOrEqual(q.freeOver) {
		return decimal.Zero
	}
	return quote.Fee
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
