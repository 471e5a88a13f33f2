package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/fitfinder/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProductNotFound is returned when a product lookup has no match.
var ErrProductNotFound = errors.New("product not found")

// ProductRepository handles catalog product rows.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert creates or updates a product keyed by product code.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - p: product to create or update; p.ID is kept from the existing row.
// Returns:
//   - error: non-nil if the write fails.
func (r *ProductRepository) Upsert(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "storage_key", "updated_at"}),
	}).Create(p).Error
}

// GetByID retrieves a product by its ID.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByCode retrieves a product by its catalog code.
func (r *ProductRepository) GetByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	if err := r.db.WithContext(ctx).First(&p, "product_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns products ordered by code.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - category: optional category filter; empty lists all.
//   - limit: maximum number of records.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Product: products in the page.
//   - int64: total matching products.
//   - error: non-nil if the query fails.
func (r *ProductRepository) List(ctx context.Context, category string, limit, offset int) ([]domain.Product, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Product{})
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	var products []domain.Product
	if err := q.Order("product_code ASC").Limit(limit).Offset(offset).Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// FindByCodes returns products whose code or ID is in refs, keyed by the ref.
func (r *ProductRepository) FindByCodes(ctx context.Context, refs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	var products []domain.Product
	if err := r.db.WithContext(ctx).
		Where("product_code IN ? OR id IN ?", refs, refs).
		Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	for _, p := range products {
		out[p.ProductCode] = p
		out[p.ID] = p
	}
	return out, nil
}
