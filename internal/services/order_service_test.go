package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

var orderColumns = []string{
	"id", "customer_name", "customer_phone", "delivery_mode", "delivery_address", "zone_id",
	"subtotal", "discount_amount", "delivery_fee", "total_amount", "status", "created_at",
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateCache(context.Context) error {
	c.calls++
	return nil
}

type orderFixture struct {
	svc       *OrderService
	carts     *CartService
	mock      sqlmock.Sqlmock
	events    *recordingEvents
	analytics *countingInvalidator
	redis     *miniredis.Miniredis
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	carts, _, mr := newTestCartService(t, stubQuoter{})
	db, mock := newMockDB(t)
	t.Cleanup(func() { _ = db.Close() })

	events := &recordingEvents{}
	analytics := &countingInvalidator{}
	return &orderFixture{
		svc:       NewOrderService(db, carts, events, analytics, nil, newTestLogger()),
		carts:     carts,
		mock:      mock,
		events:    events,
		analytics: analytics,
		redis:     mr,
	}
}

func (f *orderFixture) cartWith(t *testing.T, delivery *models.DeliveryRequest, items map[string]int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := createTestCart(t, f.carts)
	for productID, qty := range items {
		if _, err := f.carts.AddItem(ctx, id, &models.AddCartItemRequest{ProductID: productID, Quantity: qty}); err != nil {
			t.Fatalf("add %s: %v", productID, err)
		}
	}
	if delivery != nil {
		if _, err := f.carts.SetDelivery(ctx, id, delivery); err != nil {
			t.Fatalf("set delivery: %v", err)
		}
	}
	return id
}

func validCheckout() *models.CheckoutRequest {
	return &models.CheckoutRequest{CustomerName: "Ana", CustomerPhone: "+37360000000"}
}

func TestOrderService_Checkout(t *testing.T) {
	f := newOrderFixture(t)
	cartID := f.cartWith(t, &models.DeliveryRequest{Mode: models.DeliveryModeDelivery, ZoneID: "center"}, map[string]int{"margherita": 2})

	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_offers")).
		WithArgs(sqlmock.AnyArg(), "pizza-15", "PIZZA15", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	order, err := f.svc.Checkout(context.Background(), cartID, validCheckout())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if !order.Subtotal.Equal(dec("64")) || !order.DiscountAmount.Equal(dec("9.60")) ||
		!order.DeliveryFee.Equal(dec("15")) || !order.TotalAmount.Equal(dec("69.40")) {
		t.Fatalf("unexpected order amounts %+v", order)
	}
	if order.DeliveryMode != models.DeliveryModeDelivery || order.ZoneID == nil || *order.ZoneID != "center" {
		t.Fatalf("unexpected delivery on order %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 || order.Items[0].OrderID != order.ID {
		t.Fatalf("unexpected order items %+v", order.Items)
	}
	if len(order.Offers) != 1 || order.Offers[0].Code != "PIZZA15" {
		t.Fatalf("unexpected applied offers %+v", order.Offers)
	}
	if order.Status != models.OrderStatusPlaced {
		t.Fatalf("unexpected status %s", order.Status)
	}

	if f.redis.Exists(cartKey(cartID)) {
		t.Fatalf("expected cart deleted after checkout")
	}
	if len(f.events.orders) != 1 || f.events.orders[0] != order.ID {
		t.Fatalf("expected order placed event, got %+v", f.events.orders)
	}
	if f.analytics.calls != 1 {
		t.Fatalf("expected analytics cache invalidated")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_Checkout_OverridesDelivery(t *testing.T) {
	f := newOrderFixture(t)
	cartID := f.cartWith(t, &models.DeliveryRequest{Mode: models.DeliveryModeDelivery, ZoneID: "center"}, map[string]int{"margherita": 2})

	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_offers")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	req := validCheckout()
	req.Delivery = &models.DeliveryRequest{Mode: models.DeliveryModePickup}
	order, err := f.svc.Checkout(context.Background(), cartID, req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.DeliveryMode != models.DeliveryModePickup || order.ZoneID != nil || !order.DeliveryFee.IsZero() {
		t.Fatalf("expected pickup order, got %+v", order)
	}
	if !order.TotalAmount.Equal(dec("54.40")) {
		t.Fatalf("expected total without delivery, got %s", order.TotalAmount)
	}
}

func TestOrderService_Checkout_MinimumOrder(t *testing.T) {
	f := newOrderFixture(t)
	cartID := f.cartWith(t, &models.DeliveryRequest{Mode: models.DeliveryModeDelivery, ZoneID: "center"}, map[string]int{"cola": 1})

	_, err := f.svc.Checkout(context.Background(), cartID, validCheckout())
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected minimum order validation error, got %v", err)
	}
	if !f.redis.Exists(cartKey(cartID)) {
		t.Fatalf("rejected checkout must keep the cart")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected db calls: %v", err)
	}
}

func TestOrderService_Checkout_Rejects(t *testing.T) {
	f := newOrderFixture(t)
	emptyCart := f.cartWith(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.Checkout(ctx, emptyCart, validCheckout()); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	if _, err := f.svc.Checkout(ctx, emptyCart, &models.CheckoutRequest{CustomerName: "Ana"}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected missing phone error, got %v", err)
	}
	if _, err := f.svc.Checkout(ctx, emptyCart, nil); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected missing payload error, got %v", err)
	}
	if _, err := f.svc.Checkout(ctx, uuid.New(), validCheckout()); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected unknown cart error, got %v", err)
	}
}

func TestOrderService_Checkout_InsertFailureKeepsCart(t *testing.T) {
	f := newOrderFixture(t)
	cartID := f.cartWith(t, nil, map[string]int{"margherita": 1})

	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(errors.New("disk full"))
	f.mock.ExpectRollback()

	if _, err := f.svc.Checkout(context.Background(), cartID, validCheckout()); err == nil {
		t.Fatalf("expected insert error")
	}
	if !f.redis.Exists(cartKey(cartID)) {
		t.Fatalf("failed checkout must keep the cart")
	}
	if len(f.events.orders) != 0 {
		t.Fatalf("failed checkout must not publish events")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_GetOrder(t *testing.T) {
	f := newOrderFixture(t)
	orderID := uuid.New()

	f.mock.ExpectQuery(regexp.QuoteMeta("FROM orders")).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(orderColumns).AddRow(
			orderID.String(), "Ana", "+37360000000", "delivery", "", "center",
			"64.00", "9.60", "15.00", "69.40", "placed", testNow,
		))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "name", "category_id", "quantity", "price"}).
			AddRow(uuid.NewString(), orderID.String(), "margherita", "Margherita", "pizza", 2, "32.00"))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM order_offers")).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"offer_id", "code", "amount"}).
			AddRow("pizza-15", "PIZZA15", "9.60"))

	order, err := f.svc.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.ID != orderID || !order.TotalAmount.Equal(dec("69.40")) || order.ZoneID == nil {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(order.Items) != 1 || len(order.Offers) != 1 || !order.Offers[0].Amount.Equal(dec("9.60")) {
		t.Fatalf("unexpected order details %+v", order)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	f := newOrderFixture(t)
	orderID := uuid.New()

	f.mock.ExpectQuery(regexp.QuoteMeta("FROM orders")).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(orderColumns))

	if _, err := f.svc.GetOrder(context.Background(), orderID); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderService_ListOrders(t *testing.T) {
	f := newOrderFixture(t)

	f.mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(uuid.NewString(), "Ana", "+37360000000", "pickup", "", nil,
				"32.00", "4.80", "0", "27.20", "placed", testNow))

	orders, err := f.svc.ListOrders(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].ZoneID != nil || orders[0].DeliveryMode != models.DeliveryModePickup {
		t.Fatalf("unexpected orders %+v", orders)
	}
}
