package handlers

import (
	"context"
	"time"

	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"

	"github.com/google/uuid"
)

// ----- Offers -----

type OfferAdmin interface {
	CreateOffer(ctx context.Context, req *models.CreateOfferRequest) (*models.OfferRecord, error)
	UpdateOffer(ctx context.Context, id string, req *models.UpdateOfferRequest) (*models.OfferRecord, error)
	DeleteOffer(ctx context.Context, id string) error
	GetOffer(ctx context.Context, id string) (*models.OfferRecord, error)
	ListOffers(ctx context.Context, limit, offset int) ([]*models.OfferRecord, error)
}

type CatalogView interface {
	Current() *pricing.Catalog
	Refresh(ctx context.Context) bool
	Invalidate(ctx context.Context) error
}

// ----- Menu -----

type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, categoryID string) ([]*models.Product, error)
}

type ZoneDirectory interface {
	ListZones(ctx context.Context) ([]*models.DeliveryZone, error)
	Quote(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error)
}

// ----- Carts -----

type CartManager interface {
	CreateCart(ctx context.Context) (*models.CartView, error)
	GetCart(ctx context.Context, id uuid.UUID) (*models.CartView, error)
	AddItem(ctx context.Context, id uuid.UUID, req *models.AddCartItemRequest) (*models.CartView, error)
	RemoveItem(ctx context.Context, id uuid.UUID, productID string) (*models.CartView, error)
	SetQuantity(ctx context.Context, id uuid.UUID, productID string, qty int) (*models.CartView, error)
	SetDelivery(ctx context.Context, id uuid.UUID, req *models.DeliveryRequest) (*models.CartView, error)
	DeleteCart(ctx context.Context, id uuid.UUID) error
	Quote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error)
}

// ----- Orders -----

type OrderService interface {
	Checkout(ctx context.Context, cartID uuid.UUID, req *models.CheckoutRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]*models.Order, error)
}

// ----- Analytics -----

type AnalyticsProvider interface {
	GetKPIs(ctx context.Context, filter *models.AnalyticsFilter) (*models.KPIMetrics, error)
	GetOfferAnalytics(ctx context.Context, filter *models.AnalyticsFilter) ([]*models.OfferAnalytics, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}

type CatalogState interface {
	Initialized() bool
	Loading() bool
	LoadedAt() time.Time
	Current() *pricing.Catalog
}

// ----- Cache -----

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}
