package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/cart"
	"restaurant-pricing/internal/clock"
	"restaurant-pricing/internal/config"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/metrics"
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"
	"restaurant-pricing/internal/redis"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultCartTTL         = 72 * time.Hour
	defaultMaxItemQuantity = 999
)

// Операции над корзиной (метка метрики cart_mutations_total).
const (
	CartOpCreate   = "create"
	CartOpAdd      = "add"
	CartOpRemove   = "remove"
	CartOpQuantity = "set_quantity"
	CartOpDelivery = "set_delivery"
)

type cartRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Mutate(ctx context.Context, key string, ttl time.Duration, fn redis.MutateFunc) error
}

// ProductLookup отдаёт товары меню для корзины.
type ProductLookup interface {
	GetOrderableProduct(ctx context.Context, id string) (*models.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error)
}

// DeliveryQuoter считает стоимость получения заказа.
type DeliveryQuoter interface {
	Quote(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error)
	FeeFor(quote *models.DeliveryQuote, payable decimal.Decimal) decimal.Decimal
}

// CatalogProvider отдаёт текущий каталог акций.
type CatalogProvider interface {
	Current() *pricing.Catalog
}

// CartEvents публикует пересчитанные корзины.
type CartEvents interface {
	PublishCartUpdated(cartID uuid.UUID, itemCount int, subtotal, total decimal.Decimal) error
}

// CartService хранит корзины в Redis и пересчитывает их при каждом изменении.
// Изменения идут через optimistic-транзакцию, поэтому параллельные запросы
// к одной корзине не теряют друг друга.
type CartService struct {
	repo     cartRepository
	products ProductLookup
	delivery DeliveryQuoter
	catalog  CatalogProvider
	events   CartEvents
	engine   *pricing.Engine
	hints    *pricing.HintGenerator
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *logger.Logger
	ttl      time.Duration
	maxQty   int
}

// NewCartService создаёт сервис корзин. delivery, catalog, events и m могут быть nil.
func NewCartService(
	redisClient *redis.Client,
	products ProductLookup,
	delivery DeliveryQuoter,
	catalog CatalogProvider,
	events CartEvents,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg *config.Config,
) *CartService {
	s := &CartService{
		products: products,
		delivery: delivery,
		catalog:  catalog,
		events:   events,
		engine:   pricing.NewEngine(log),
		hints:    pricing.NewHintGenerator(nil),
		clock:    clock.NewRealClock(),
		metrics:  m,
		log:      log,
		ttl:      defaultCartTTL,
		maxQty:   defaultMaxItemQuantity,
	}
	if redisClient != nil {
		s.repo = redisClient
	}
	if cfg != nil {
		if cfg.Cart.TTLHours > 0 {
			s.ttl = time.Duration(cfg.Cart.TTLHours) * time.Hour
		}
		if cfg.Cart.MaxItemQuantity > 0 {
			s.maxQty = cfg.Cart.MaxItemQuantity
		}
		if cfg.Pricing.Currency != "" {
			s.hints = pricing.NewHintGenerator(pricing.TextFormatter{Currency: cfg.Pricing.Currency})
		}
	}
	return s
}

// CreateCart создаёт пустую корзину.
func (s *CartService) CreateCart(ctx context.Context) (*models.CartView, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("cart storage is not configured")
	}

	now := s.clock.Now()
	c := &models.Cart{
		ID:        uuid.New(),
		Items:     []models.LineItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Set(ctx, cartKey(c.ID), c, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}

	s.metrics.CartMutated(CartOpCreate)
	s.log.WithField("cart_id", c.ID).Info("Cart created")

	view := s.Price(c)
	return &view, nil
}

// GetCart возвращает корзину, пересчитанную по текущему каталогу.
func (s *CartService) GetCart(ctx context.Context, id uuid.UUID) (*models.CartView, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("cart storage is not configured")
	}

	var c models.Cart
	if err := s.repo.Get(ctx, cartKey(id), &c); err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, apperror.NotFound("cart not found", err)
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	view := s.Price(&c)
	return &view, nil
}

// AddItem добавляет товар. Количество <= 0 означает одну единицу.
// Итоговое количество в строке не может превышать лимит корзины.
func (s *CartService) AddItem(ctx context.Context, id uuid.UUID, req *models.AddCartItemRequest) (*models.CartView, error) {
	if req == nil || strings.TrimSpace(req.ProductID) == "" {
		return nil, apperror.Validation("product_id is required", nil)
	}
	if err := s.checkQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if s.products == nil {
		return nil, fmt.Errorf("product catalog is not configured")
	}

	product, err := s.products.GetOrderableProduct(ctx, strings.TrimSpace(req.ProductID))
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, CartOpAdd, func(_ *models.Cart, store *cart.Store) error {
		store.Add(product.Ref(), req.Quantity)
		return s.checkLines(store.Items())
	})
}

// RemoveItem удаляет строку товара.
func (s *CartService) RemoveItem(ctx context.Context, id uuid.UUID, productID string) (*models.CartView, error) {
	return s.mutate(ctx, id, CartOpRemove, func(_ *models.Cart, store *cart.Store) error {
		if !store.Remove(productID) {
			return apperror.NotFound("item not in cart", nil)
		}
		return nil
	})
}

// SetQuantity задает количество товара; 0 и меньше удаляют строку.
func (s *CartService) SetQuantity(ctx context.Context, id uuid.UUID, productID string, qty int) (*models.CartView, error) {
	if err := s.checkQuantity(qty); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, CartOpQuantity, func(_ *models.Cart, store *cart.Store) error {
		if !store.SetQuantity(productID, qty) {
			return apperror.NotFound("item not in cart", nil)
		}
		return nil
	})
}

// SetDelivery выбирает способ получения и фиксирует тариф в корзине.
func (s *CartService) SetDelivery(ctx context.Context, id uuid.UUID, req *models.DeliveryRequest) (*models.CartView, error) {
	quote, err := s.quoteDelivery(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, CartOpDelivery, func(c *models.Cart, _ *cart.Store) error {
		c.Delivery = req
		c.Quote = quote
		return nil
	})
}

// DeleteCart удаляет корзину. Удаление отсутствующей корзины не ошибка.
func (s *CartService) DeleteCart(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return fmt.Errorf("cart storage is not configured")
	}
	if err := s.repo.Delete(ctx, cartKey(id)); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// Quote считает стоимость набора товаров без сохранения корзины.
func (s *CartService) Quote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error) {
	if req == nil || len(req.Items) == 0 {
		return nil, apperror.Validation("items are required", nil)
	}
	if s.products == nil {
		return nil, fmt.Errorf("product catalog is not configured")
	}

	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if err := s.checkQuantity(it.Quantity); err != nil {
			return nil, err
		}
		ids = append(ids, strings.TrimSpace(it.ProductID))
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(req.Items))
	for i, it := range req.Items {
		p, ok := products[ids[i]]
		if !ok {
			return nil, apperror.Newf(apperror.KindNotFound, "product %s not found", ids[i])
		}
		if !p.Available {
			return nil, apperror.Newf(apperror.KindUnavailable, "product %s is not available", p.ID)
		}
		items = append(items, models.LineItem{Product: p.Ref(), Quantity: it.Quantity})
	}

	quote, err := s.quoteDelivery(ctx, req.Delivery)
	if err != nil {
		return nil, err
	}

	store := s.newStore(items)
	if err := s.checkLines(store.Items()); err != nil {
		return nil, err
	}
	s.applyDeliveryFee(store, quote)
	snap := store.Snapshot()

	return &models.QuoteResponse{
		Pricing: snap.Pricing.Rounded(),
		Hints:   nonNilHints(snap.Hints),
	}, nil
}

// Price пересчитывает корзину по текущему каталогу и сохранённому тарифу доставки.
func (s *CartService) Price(c *models.Cart) models.CartView {
	store := s.newStore(c.Items)
	return s.view(c, store)
}

// QuoteDelivery считает тариф (используется при оформлении с другим способом получения).
func (s *CartService) QuoteDelivery(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error) {
	return s.quoteDelivery(ctx, req)
}

type cartMutation func(c *models.Cart, store *cart.Store) error

func (s *CartService) mutate(ctx context.Context, id uuid.UUID, op string, apply cartMutation) (*models.CartView, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("cart storage is not configured")
	}

	var view models.CartView
	err := s.repo.Mutate(ctx, cartKey(id), s.ttl, func(current []byte) (interface{}, error) {
		if current == nil {
			return nil, apperror.NotFound("cart not found", nil)
		}
		var c models.Cart
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, fmt.Errorf("failed to decode cart: %w", err)
		}

		store := s.newStore(c.Items)
		if err := apply(&c, store); err != nil {
			return nil, err
		}
		c.UpdatedAt = s.clock.Now()
		view = s.view(&c, store)
		return &c, nil
	})
	if err != nil {
		if errors.Is(err, redis.ErrConflict) {
			return nil, apperror.Conflict("cart was modified concurrently, retry the request", err)
		}
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}

	s.metrics.CartMutated(op)
	s.publishUpdated(&view)
	return &view, nil
}

func (s *CartService) checkQuantity(qty int) error {
	if qty > s.maxQty {
		return apperror.Newf(apperror.KindValidation, "quantity must not exceed %d", s.maxQty)
	}
	return nil
}

// checkLines проверяет строки после склейки повторов товара.
func (s *CartService) checkLines(items []models.LineItem) error {
	for _, it := range items {
		if it.Quantity > s.maxQty {
			return apperror.Newf(apperror.KindValidation, "quantity of %s must not exceed %d", it.Product.ID, s.maxQty)
		}
	}
	return nil
}

func (s *CartService) newStore(items []models.LineItem) *cart.Store {
	var catalog *pricing.Catalog
	if s.catalog != nil {
		catalog = s.catalog.Current()
	}
	store := cart.New(s.engine, s.hints, catalog, s.clock)
	store.Load(items, decimal.Zero)
	return store
}

// view фиксирует содержимое store в c и собирает округлённый результат.
func (s *CartService) view(c *models.Cart, store *cart.Store) models.CartView {
	s.applyDeliveryFee(store, c.Quote)
	snap := store.Snapshot()

	c.Items = snap.Items
	if c.Items == nil {
		c.Items = []models.LineItem{}
	}
	return models.CartView{
		Cart:    c,
		Pricing: snap.Pricing.Rounded(),
		Hints:   nonNilHints(snap.Hints),
	}
}

// applyDeliveryFee выставляет доставку по сумме после скидок (порог бесплатной доставки).
func (s *CartService) applyDeliveryFee(store *cart.Store, quote *models.DeliveryQuote) {
	if quote == nil {
		return
	}
	pricingResult := store.Snapshot().Pricing
	payable := pricingResult.Subtotal.Sub(pricingResult.Discount)

	fee := quote.Fee
	if s.delivery != nil {
		fee = s.delivery.FeeFor(quote, payable)
	}
	store.SetDeliveryFee(fee)
}

func (s *CartService) quoteDelivery(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error) {
	if req == nil {
		return nil, nil
	}
	if s.delivery == nil {
		return nil, apperror.Unavailable("delivery is not configured", nil)
	}
	return s.delivery.Quote(ctx, req)
}

func (s *CartService) publishUpdated(view *models.CartView) {
	if s.events == nil || view.Cart == nil {
		return
	}

	count := 0
	for _, it := range view.Cart.Items {
		count += it.Quantity
	}
	if err := s.events.PublishCartUpdated(view.Cart.ID, count, view.Pricing.Subtotal, view.Pricing.Total); err != nil {
		s.log.WithError(err).WithField("cart_id", view.Cart.ID).Warn("Failed to publish cart update")
	}
}

func cartKey(id uuid.UUID) string {
	return redis.GenerateKey(redis.KeyPrefixCart, id.String())
}

func nonNilHints(hints []models.OfferHint) []models.OfferHint {
	if hints == nil {
		return []models.OfferHint{}
	}
	return hints
}
