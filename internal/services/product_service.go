package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"restaurant-pricing/internal/apperror"
	"restaurant-pricing/internal/database"
	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/lib/pq"
)

// ProductService читает меню.
type ProductService struct {
	db  *database.DB
	log *logger.Logger
}

// NewProductService создаёт сервис меню.
func NewProductService(db *database.DB, log *logger.Logger) *ProductService {
	return &ProductService{db: db, log: log}
}

// GetProduct возвращает товар по id, включая недоступные.
func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := `
		SELECT id, name, price, category_id, available, created_at
		FROM products
		WHERE id = $1
	`

	p := &models.Product{}
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID, &p.Available, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("product not found", err)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetOrderableProduct возвращает товар, который можно положить в корзину.
func (s *ProductService) GetOrderableProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Available {
		return nil, apperror.Newf(apperror.KindUnavailable, "product %s is not available", p.ID)
	}
	return p, nil
}

// GetProducts возвращает товары по списку id. Отсутствующие id в результат не попадают.
func (s *ProductService) GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	result := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT id, name, price, category_id, available, created_at
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID, &p.Available, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return result, nil
}

// ListProducts возвращает доступные товары, опционально одной категории.
func (s *ProductService) ListProducts(ctx context.Context, categoryID string) ([]*models.Product, error) {
	query := `
		SELECT id, name, price, category_id, available, created_at
		FROM products
		WHERE available = TRUE
	`
	args := []interface{}{}
	if categoryID = strings.TrimSpace(categoryID); categoryID != "" {
		query += " AND category_id = $1"
		args = append(args, categoryID)
	}
	query += " ORDER BY category_id ASC, name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryID, &p.Available, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}
