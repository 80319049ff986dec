package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/metrics"
	"restaurant-pricing/internal/models"

	"github.com/google/uuid"
)

// CheckoutCarts описывает то, что оформлению нужно от корзин.
type CheckoutCarts interface {
	GetCart(ctx context.Context, id uuid.UUID) (*models.CartView, error)
	Price(c *models.Cart) models.CartView
	QuoteDelivery(ctx context.Context, req *models.DeliveryRequest) (*models.DeliveryQuote, error)
	DeleteCart(ctx context.Context, id uuid.UUID) error
}

// OrderEvents публикует оформленные заказы.
type OrderEvents interface {
	PublishOrderPlaced(order *models.Order) error
}

// StatsInvalidator сбрасывает закешированную аналитику.
type StatsInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// OrderService оформляет корзины в заказы
type OrderService struct {
	db        *database.DB
	carts     CheckoutCarts
	events    OrderEvents
	analytics StatsInvalidator
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewOrderService создаёт новый экземпляр сервиса заказов. events, analytics и m могут быть nil.
func NewOrderService(db *database.DB, carts CheckoutCarts, events OrderEvents, analytics StatsInvalidator, m *metrics.Metrics, log *logger.Logger) *OrderService {
	return &OrderService{
		db:        db,
		carts:     carts,
		events:    events,
		analytics: analytics,
		metrics:   m,
		log:       log,
	}
}

// Checkout пересчитывает корзину по текущему каталогу, сохраняет заказ со строками
// и применёнными акциями в одной транзакции и удаляет корзину.
func (s *OrderService) Checkout(ctx context.Context, cartID uuid.UUID, req *models.CheckoutRequest) (*models.Order, error) {
	if req == nil {
		return nil, apperror.Validation("checkout payload is required", nil)
	}
	name := strings.TrimSpace(req.CustomerName)
	phone := strings.TrimSpace(req.CustomerPhone)
	if name == "" || phone == "" {
		return nil, apperror.Validation("customer_name and customer_phone are required", nil)
	}

	view, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if req.Delivery != nil {
		quote, err := s.carts.QuoteDelivery(ctx, req.Delivery)
		if err != nil {
			return nil, err
		}
		c := *view.Cart
		c.Delivery = req.Delivery
		c.Quote = quote
		priced := s.carts.Price(&c)
		view = &priced
	}
	if len(view.Cart.Items) == 0 {
		return nil, apperror.Validation("cart is empty", nil)
	}

	order := newOrderFromCart(view, name, phone)
	if quote := view.Cart.Quote; quote != nil && quote.MinOrder.IsPositive() {
		payable := order.Subtotal.Sub(order.DiscountAmount)
		if payable.LessThan(quote.MinOrder) {
			return nil, apperror.Newf(apperror.KindValidation, "minimum order for delivery is %s, cart is %s",
				quote.MinOrder.StringFixed(2), payable.StringFixed(2))
		}
	}

	if err := s.insertOrder(ctx, order); err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"order_id":     order.ID,
		"cart_id":      cartID,
		"total_amount": order.TotalAmount.StringFixed(2),
		"discount":     order.DiscountAmount.StringFixed(2),
		"offers":       len(order.Offers),
	}).Info("Order placed")

	s.metrics.OrderPlaced(order.DiscountAmount)
	s.afterCheckout(ctx, cartID, order)
	return order, nil
}

func newOrderFromCart(view *models.CartView, name, phone string) *models.Order {
	order := &models.Order{
		ID:             uuid.New(),
		CustomerName:   name,
		CustomerPhone:  phone,
		DeliveryMode:   models.DeliveryModePickup,
		Subtotal:       view.Pricing.Subtotal,
		DiscountAmount: view.Pricing.Discount,
		DeliveryFee:    view.Pricing.DeliveryFee,
		TotalAmount:    view.Pricing.Total,
		Offers:         view.Pricing.Applied,
		Status:         models.OrderStatusPlaced,
		CreatedAt:      time.Now(),
	}
	if quote := view.Cart.Quote; quote != nil {
		order.DeliveryMode = quote.Mode
		if quote.ZoneID != "" {
			zoneID := quote.ZoneID
			order.ZoneID = &zoneID
		}
	}
	if d := view.Cart.Delivery; d != nil && order.DeliveryMode == models.DeliveryModeDelivery {
		order.DeliveryAddress = strings.TrimSpace(d.Address)
	}

	for _, it := range view.Cart.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			ProductID:  it.Product.ID,
			Name:       it.Product.Name,
			CategoryID: it.Product.CategoryID,
			Quantity:   it.Quantity,
			Price:      it.Product.Price,
		})
	}
	return order
}

func (s *OrderService) insertOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO orders (id, customer_name, customer_phone, delivery_mode, delivery_address, zone_id,
		                    subtotal, discount_amount, delivery_fee, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query, order.ID, order.CustomerName, order.CustomerPhone,
		order.DeliveryMode, order.DeliveryAddress, order.ZoneID,
		order.Subtotal, order.DiscountAmount, order.DeliveryFee, order.TotalAmount, order.Status, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, name, category_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, itemQuery, item.ID, item.OrderID, item.ProductID, item.Name, item.CategoryID, item.Quantity, item.Price)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	offerQuery := `
		INSERT INTO order_offers (order_id, offer_id, code, amount)
		VALUES ($1, $2, $3, $4)
	`
	for _, applied := range order.Offers {
		_, err = tx.ExecContext(ctx, offerQuery, order.ID, applied.OfferID, applied.Code, applied.Amount)
		if err != nil {
			return fmt.Errorf("failed to record applied offer: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// afterCheckout выполняет побочные действия; заказ к этому моменту уже сохранён.
func (s *OrderService) afterCheckout(ctx context.Context, cartID uuid.UUID, order *models.Order) {
	if err := s.carts.DeleteCart(ctx, cartID); err != nil {
		s.log.WithError(err).WithField("cart_id", cartID).Warn("Failed to delete checked out cart")
	}
	if s.events != nil {
		if err := s.events.PublishOrderPlaced(order); err != nil {
			s.log.WithError(err).WithField("order_id", order.ID).Warn("Failed to publish order placed")
		}
	}
	if s.analytics != nil {
		if err := s.analytics.InvalidateCache(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to invalidate analytics cache")
		}
	}
}

// GetOrder получает заказ по ID вместе со строками и акциями
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `
		SELECT id, customer_name, customer_phone, delivery_mode, delivery_address, zone_id,
		       subtotal, discount_amount, delivery_fee, total_amount, status, created_at
		FROM orders
		WHERE id = $1
	`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("order not found", err)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, name, category_id, quantity, price
		FROM order_items
		WHERE order_id = $1
	`
	rows, err := s.db.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.CategoryID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}

	offersQuery := `
		SELECT offer_id, code, amount
		FROM order_offers
		WHERE order_id = $1
		ORDER BY amount DESC, offer_id ASC
	`
	offerRows, err := s.db.QueryContext(ctx, offersQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order offers: %w", err)
	}
	defer offerRows.Close()

	for offerRows.Next() {
		var applied models.AppliedOffer
		if err := offerRows.Scan(&applied.OfferID, &applied.Code, &applied.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan order offer: %w", err)
		}
		order.Offers = append(order.Offers, applied)
	}
	if err := offerRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order offers: %w", err)
	}

	return order, nil
}

// ListOrders возвращает страницу заказов без строк (новые сверху)
func (s *OrderService) ListOrders(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, customer_name, customer_phone, delivery_mode, delivery_address, zone_id,
		       subtotal, discount_amount, delivery_fee, total_amount, status, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	if err := row.Scan(
		&order.ID, &order.CustomerName, &order.CustomerPhone, &order.DeliveryMode, &order.DeliveryAddress, &order.ZoneID,
		&order.Subtotal, &order.DiscountAmount, &order.DeliveryFee, &order.TotalAmount, &order.Status, &order.CreatedAt,
	); err != nil {
		return nil, err
	}
	return order, nil
}
