package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var offerColumnNames = []string{
	"id", "code", "name", "description", "discount_type", "value", "buy_quantity", "get_quantity", "free_limit",
	"scope", "category_id", "product_ids", "min_items", "min_subtotal", "starts_at", "ends_at",
	"stackable", "priority", "active", "created_at", "updated_at",
}

type stubReloader struct {
	invalidated int
	refreshed   int
	err         error
}

func (r *stubReloader) Invalidate(context.Context) error {
	r.invalidated++
	return r.err
}

func (r *stubReloader) Refresh(context.Context) bool {
	r.refreshed++
	return true
}

func newTestOfferService(t *testing.T) (*OfferService, sqlmock.Sqlmock, *recordingEvents, *stubReloader) {
	t.Helper()
	db, mock := newMockDB(t)
	t.Cleanup(func() { _ = db.Close() })

	events := &recordingEvents{}
	reloader := &stubReloader{}
	return NewOfferService(db, newTestLogger(), events, reloader), mock, events, reloader
}

func pizzaOfferRequest() models.OfferRecord {
	return models.OfferRecord{
		Code:         " PIZZA15 ",
		Name:         "Pizza week",
		DiscountType: "PERCENT",
		Value:        dec("15"),
		Scope:        models.OfferScopeCategory,
		CategoryID:   strPtr("pizza"),
		MinSubtotal:  decimal.NewNullDecimal(dec("30")),
		Active:       true,
	}
}

func TestOfferService_CreateOffer(t *testing.T) {
	svc, mock, events, reloader := newTestOfferService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := svc.CreateOffer(context.Background(), &models.CreateOfferRequest{OfferRecord: pizzaOfferRequest()})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	if record.ID != "PIZZA15" || record.Code != "PIZZA15" {
		t.Fatalf("expected id to fall back to trimmed code, got %q/%q", record.ID, record.Code)
	}
	if record.DiscountType != models.OfferDiscountPercent || record.Scope != models.OfferScopeCategory {
		t.Fatalf("expected normalized kind, got %s/%s", record.DiscountType, record.Scope)
	}
	if record.ProductIDs == nil {
		t.Fatalf("expected non-nil product ids")
	}
	if record.CreatedAt.IsZero() || !record.CreatedAt.Equal(record.UpdatedAt) {
		t.Fatalf("expected timestamps set")
	}

	if reloader.invalidated != 1 || reloader.refreshed != 1 {
		t.Fatalf("expected catalog reload, got %+v", reloader)
	}
	if len(events.offerChanges) != 1 || events.offerChanges[0].Action != models.OfferCreated || events.offerChanges[0].Code != "PIZZA15" {
		t.Fatalf("unexpected offer events %+v", events.offerChanges)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOfferService_CreateOffer_GeneratesID(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := pizzaOfferRequest()
	req.Code = ""
	record, err := svc.CreateOffer(context.Background(), &models.CreateOfferRequest{OfferRecord: req})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if record.ID == "" || record.Code != record.ID {
		t.Fatalf("expected generated id reused as code, got %q/%q", record.ID, record.Code)
	}
}

func TestOfferService_CreateOffer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.OfferRecord)
	}{
		{name: "missing name", mutate: func(r *models.OfferRecord) { r.Name = "  " }},
		{name: "percent out of range", mutate: func(r *models.OfferRecord) { r.Value = dec("150") }},
		{name: "unknown discount type", mutate: func(r *models.OfferRecord) { r.DiscountType = "cashback" }},
		{name: "category scope without category", mutate: func(r *models.OfferRecord) { r.CategoryID = nil }},
		{
			name: "buy x get y outside product scope",
			mutate: func(r *models.OfferRecord) {
				r.DiscountType = models.OfferDiscountBuyXGetY
				r.BuyQuantity = 2
				r.GetQuantity = 1
			},
		},
		{
			name: "window start after end",
			mutate: func(r *models.OfferRecord) {
				start := testNow
				end := testNow.Add(-time.Hour)
				r.StartsAt = &start
				r.EndsAt = &end
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock, events, _ := newTestOfferService(t)

			req := pizzaOfferRequest()
			tt.mutate(&req)
			_, err := svc.CreateOffer(context.Background(), &models.CreateOfferRequest{OfferRecord: req})
			if !apperror.Is(err, apperror.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(events.offerChanges) != 0 {
				t.Fatalf("rejected offer must not publish events")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unexpected db calls: %v", err)
			}
		})
	}
}

func TestOfferService_CreateOffer_Duplicate(t *testing.T) {
	svc, mock, events, _ := newTestOfferService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offers")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := svc.CreateOffer(context.Background(), &models.CreateOfferRequest{OfferRecord: pizzaOfferRequest()})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(events.offerChanges) != 0 {
		t.Fatalf("failed insert must not publish events")
	}
}

func TestOfferService_CreateOffer_ProductScope(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := svc.CreateOffer(context.Background(), &models.CreateOfferRequest{OfferRecord: models.OfferRecord{
		ID:           "cola-2for1",
		Name:         "Cola 2+1",
		DiscountType: models.OfferDiscountBuyXGetY,
		BuyQuantity:  2,
		GetQuantity:  1,
		FreeLimit:    intPtr(3),
		Scope:        models.OfferScopeProducts,
		ProductIDs:   []string{" cola ", "cola", "fanta"},
		Active:       true,
	}})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if record.Code != "cola-2for1" {
		t.Fatalf("expected code to fall back to id, got %q", record.Code)
	}
	if len(record.ProductIDs) != 2 || record.ProductIDs[0] != "cola" || record.ProductIDs[1] != "fanta" {
		t.Fatalf("expected normalized product ids, got %v", record.ProductIDs)
	}
}

func TestOfferService_UpdateOffer(t *testing.T) {
	svc, mock, events, _ := newTestOfferService(t)
	created := testNow.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM offers WHERE id = $1")).
		WithArgs("pizza-15").
		WillReturnRows(sqlmock.NewRows(offerColumnNames).AddRow(
			"pizza-15", "PIZZA15", "Pizza week", "", "percent", "15", 0, 0, nil,
			"category", "pizza", "{}", nil, "30", nil, nil,
			false, 0, true, created, created,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE offers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := pizzaOfferRequest()
	req.Code = "OTHER"
	req.Value = dec("20")
	record, err := svc.UpdateOffer(context.Background(), "pizza-15", &models.UpdateOfferRequest{OfferRecord: req})
	if err != nil {
		t.Fatalf("update offer: %v", err)
	}
	if record.ID != "pizza-15" || record.Code != "PIZZA15" {
		t.Fatalf("id and code must not change, got %q/%q", record.ID, record.Code)
	}
	if !record.Value.Equal(dec("20")) || !record.CreatedAt.Equal(created) {
		t.Fatalf("unexpected updated record %+v", record)
	}
	if len(events.offerChanges) != 1 || events.offerChanges[0].Action != models.OfferUpdated {
		t.Fatalf("expected update event, got %+v", events.offerChanges)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOfferService_UpdateOffer_NotFound(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM offers WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(offerColumnNames))

	req := pizzaOfferRequest()
	_, err := svc.UpdateOffer(context.Background(), "missing", &models.UpdateOfferRequest{OfferRecord: req})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOfferService_DeleteOffer(t *testing.T) {
	svc, mock, events, reloader := newTestOfferService(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM offers WHERE id = $1")).
		WithArgs("pizza-15").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM offers WHERE id = $1")).
		WithArgs("pizza-15").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := svc.DeleteOffer(context.Background(), "pizza-15"); err != nil {
		t.Fatalf("delete offer: %v", err)
	}
	if err := svc.DeleteOffer(context.Background(), "pizza-15"); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	if reloader.refreshed != 1 {
		t.Fatalf("expected one catalog refresh, got %d", reloader.refreshed)
	}
	if len(events.offerChanges) != 1 || events.offerChanges[0].Action != models.OfferDeleted {
		t.Fatalf("expected one delete event, got %+v", events.offerChanges)
	}
}

func TestOfferService_AfterChangeToleratesFailures(t *testing.T) {
	svc, mock, events, reloader := newTestOfferService(t)
	reloader.err = errors.New("redis is down")
	events.err = errors.New("kafka is down")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM offers WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.DeleteOffer(context.Background(), "pizza-15"); err != nil {
		t.Fatalf("side effect failures must not fail the delete: %v", err)
	}
	if reloader.refreshed != 1 {
		t.Fatalf("expected refresh despite invalidate failure")
	}
}

func TestOfferService_ListOfferRecords(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)
	created := testNow.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows(offerColumnNames).
			AddRow("pizza-15", "PIZZA15", "Pizza week", "", "percent", "15", 0, 0, nil,
				"category", "pizza", "{}", nil, "30", nil, nil,
				false, 10, true, created, created).
			AddRow("cola-2for1", "COLA", "Cola 2+1", "", "buy_x_get_y", "0", 2, 1, 3,
				"products", nil, "{cola,fanta}", 3, nil, created, nil,
				true, 0, true, created, created))

	records, err := svc.ListOfferRecords(context.Background())
	if err != nil {
		t.Fatalf("list offer records: %v", err)
	}
	if len(records) != 2 || records[0].ID != "pizza-15" || records[1].ID != "cola-2for1" {
		t.Fatalf("expected catalog order preserved, got %+v", records)
	}
	if !records[0].MinSubtotal.Valid || !records[0].MinSubtotal.Decimal.Equal(dec("30")) {
		t.Fatalf("expected min subtotal scanned, got %+v", records[0].MinSubtotal)
	}
	if records[0].ProductIDs != nil {
		t.Fatalf("expected empty product set to stay nil, got %v", records[0].ProductIDs)
	}
	second := records[1]
	if len(second.ProductIDs) != 2 || second.FreeLimit == nil || *second.FreeLimit != 3 || second.MinItems == nil || second.StartsAt == nil {
		t.Fatalf("unexpected second record %+v", second)
	}
	if second.MinSubtotal.Valid {
		t.Fatalf("expected null min subtotal")
	}
}

func TestOfferService_ListOfferRecords_Empty(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM offers ORDER BY created_at ASC")).
		WillReturnRows(sqlmock.NewRows(offerColumnNames))

	records, err := svc.ListOfferRecords(context.Background())
	if err != nil {
		t.Fatalf("list offer records: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", records)
	}
}

func TestOfferService_ListOffers(t *testing.T) {
	svc, mock, _, _ := newTestOfferService(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $1 OFFSET $2")).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(offerColumnNames).
			AddRow("pizza-15", "PIZZA15", "Pizza week", "", "percent", "15", 0, 0, nil,
				"category", "pizza", "{}", nil, "30", nil, nil,
				false, 0, true, testNow, testNow))

	offers, err := svc.ListOffers(context.Background(), 0, -5)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 1 || offers[0].Code != "PIZZA15" {
		t.Fatalf("unexpected offers %+v", offers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
