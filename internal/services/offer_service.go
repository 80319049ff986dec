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
	"restaurant-pricing/internal/models"
	"restaurant-pricing/internal/pricing"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const offerColumns = `id, code, name, description, discount_type, value, buy_quantity, get_quantity, free_limit,
		scope, category_id, product_ids, min_items, min_subtotal, starts_at, ends_at,
		stackable, priority, active, created_at, updated_at`

// OfferEvents публикует изменения акций.
type OfferEvents interface {
	PublishOfferChanged(offerID, code string, action models.OfferChangeAction) error
}

// CatalogReloader перечитывает каталог после изменения акций.
type CatalogReloader interface {
	Invalidate(ctx context.Context) error
	Refresh(ctx context.Context) bool
}

// OfferService управляет акциями в БД. Каждая запись проходит ту же нормализацию,
// что и при сборке каталога, поэтому в таблицу не попадают акции, которые движок отбросит.
type OfferService struct {
	db      *database.DB
	log     *logger.Logger
	events  OfferEvents
	catalog CatalogReloader
}

// NewOfferService создаёт сервис акций. events и catalog могут быть nil.
func NewOfferService(db *database.DB, log *logger.Logger, events OfferEvents, catalog CatalogReloader) *OfferService {
	return &OfferService{
		db:      db,
		log:     log,
		events:  events,
		catalog: catalog,
	}
}

// SetCatalog подключает каталог после создания (каталог сам читает акции через этот сервис).
func (s *OfferService) SetCatalog(catalog CatalogReloader) {
	s.catalog = catalog
}

// CreateOffer создаёт акцию. Пустой id генерируется, пустой code берётся из id.
func (s *OfferService) CreateOffer(ctx context.Context, req *models.CreateOfferRequest) (*models.OfferRecord, error) {
	if req == nil {
		return nil, apperror.Validation("offer payload is required", nil)
	}
	record := req.OfferRecord
	record.ID = strings.TrimSpace(record.ID)
	record.Code = strings.TrimSpace(record.Code)
	if record.ID == "" && record.Code == "" {
		record.ID = uuid.NewString()
	}
	if err := validateOfferRecord(&record); err != nil {
		return nil, err
	}

	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	query := `
		INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.Code, record.Name, record.Description, record.DiscountType, record.Value,
		record.BuyQuantity, record.GetQuantity, record.FreeLimit,
		record.Scope, record.CategoryID, pq.Array(record.ProductIDs), record.MinItems, record.MinSubtotal,
		record.StartsAt, record.EndsAt, record.Stackable, record.Priority, record.Active,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.Conflict("offer with this id or code already exists", err)
		}
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"offer_id":   record.ID,
		"offer_code": record.Code,
	}).Info("Offer created")

	s.afterChange(ctx, &record, models.OfferCreated)
	return &record, nil
}

// UpdateOffer заменяет параметры акции. id и code не меняются.
func (s *OfferService) UpdateOffer(ctx context.Context, id string, req *models.UpdateOfferRequest) (*models.OfferRecord, error) {
	if req == nil {
		return nil, apperror.Validation("offer payload is required", nil)
	}
	current, err := s.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}

	record := req.OfferRecord
	record.ID = current.ID
	record.Code = current.Code
	record.CreatedAt = current.CreatedAt
	if err := validateOfferRecord(&record); err != nil {
		return nil, err
	}
	record.UpdatedAt = time.Now()

	query := `
		UPDATE offers
		SET name = $1, description = $2, discount_type = $3, value = $4, buy_quantity = $5, get_quantity = $6,
		    free_limit = $7, scope = $8, category_id = $9, product_ids = $10, min_items = $11, min_subtotal = $12,
		    starts_at = $13, ends_at = $14, stackable = $15, priority = $16, active = $17, updated_at = $18
		WHERE id = $19
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Name, record.Description, record.DiscountType, record.Value, record.BuyQuantity, record.GetQuantity,
		record.FreeLimit, record.Scope, record.CategoryID, pq.Array(record.ProductIDs), record.MinItems, record.MinSubtotal,
		record.StartsAt, record.EndsAt, record.Stackable, record.Priority, record.Active, record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.NotFound("offer not found", nil)
	}

	s.log.WithField("offer_id", record.ID).Info("Offer updated")
	s.afterChange(ctx, &record, models.OfferUpdated)
	return &record, nil
}

// DeleteOffer удаляет акцию.
func (s *OfferService) DeleteOffer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM offers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete offer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("offer not found", nil)
	}

	s.log.WithField("offer_id", id).Info("Offer deleted")
	s.afterChange(ctx, &models.OfferRecord{ID: id}, models.OfferDeleted)
	return nil
}

// GetOffer возвращает акцию по id.
func (s *OfferService) GetOffer(ctx context.Context, id string) (*models.OfferRecord, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	record, err := scanOffer(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("offer not found", err)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return record, nil
}

// ListOffers возвращает страницу акций для администрирования (новые сверху).
func (s *OfferService) ListOffers(ctx context.Context, limit, offset int) ([]*models.OfferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + offerColumns + ` FROM offers ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.OfferRecord
	for rows.Next() {
		record, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offers: %w", err)
	}

	return offers, nil
}

// ListOfferRecords возвращает все акции в порядке каталога: по времени создания.
func (s *OfferService) ListOfferRecords(ctx context.Context) ([]models.OfferRecord, error) {
	query := `SELECT ` + offerColumns + ` FROM offers ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load offers: %w", err)
	}
	defer rows.Close()

	records := make([]models.OfferRecord, 0)
	for rows.Next() {
		record, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offers: %w", err)
	}

	return records, nil
}

// afterChange сбрасывает кеш каталога, запускает перезагрузку и публикует событие.
// Ошибки здесь не отменяют уже сохранённое изменение.
func (s *OfferService) afterChange(ctx context.Context, record *models.OfferRecord, action models.OfferChangeAction) {
	if s.catalog != nil {
		if err := s.catalog.Invalidate(ctx); err != nil {
			s.log.WithError(err).WithField("offer_id", record.ID).Warn("Failed to invalidate offer catalog")
		}
		s.catalog.Refresh(ctx)
	}
	if s.events != nil {
		if err := s.events.PublishOfferChanged(record.ID, record.Code, action); err != nil {
			s.log.WithError(err).WithField("offer_id", record.ID).Warn("Failed to publish offer change")
		}
	}
}

// validateOfferRecord приводит запись к виду, в котором она попадёт в каталог,
// и отклоняет то, что каталог отбросил бы как некорректное.
func validateOfferRecord(record *models.OfferRecord) error {
	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		return apperror.Validation("offer name is required", nil)
	}

	offer, err := pricing.NormalizeOffer(*record)
	if err != nil {
		return apperror.Validation(err.Error(), err)
	}
	record.ID = offer.ID
	record.Code = offer.Code
	record.DiscountType = offer.DiscountType()
	record.Scope = offer.ScopeType()
	record.ProductIDs = []string{}
	if set, ok := offer.Scope.(pricing.ProductSetScope); ok {
		record.ProductIDs = set.IDs
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*models.OfferRecord, error) {
	r := &models.OfferRecord{}
	var productIDs []string
	if err := row.Scan(
		&r.ID, &r.Code, &r.Name, &r.Description, &r.DiscountType, &r.Value, &r.BuyQuantity, &r.GetQuantity, &r.FreeLimit,
		&r.Scope, &r.CategoryID, pq.Array(&productIDs), &r.MinItems, &r.MinSubtotal, &r.StartsAt, &r.EndsAt,
		&r.Stackable, &r.Priority, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(productIDs) > 0 {
		r.ProductIDs = productIDs
	}
	return r, nil
}
