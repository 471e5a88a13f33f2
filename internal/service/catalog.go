package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/imaging"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/source"
	"github.com/timmy/fitfinder/internal/storage"
)

// ProductStore persists catalog rows.
type ProductStore interface {
	Upsert(ctx context.Context, p *domain.Product) error
	GetByCode(ctx context.Context, code string) (*domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context, category string, limit, offset int) ([]domain.Product, int64, error)
}

// ImageEmbedder turns an image into a vector.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// ProductIndex stores product vectors.
type ProductIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload repository.ProductPayload) error
}

// ErrInvalidProduct is returned for product input that cannot be indexed.
var ErrInvalidProduct = errors.New("invalid product")

// CatalogConfig holds configuration for the catalog service.
type CatalogConfig struct {
	Prefix    string // storage prefix for product images
	Workers   int
	BatchSize int
}

// CatalogService indexes product images for visual search.
type CatalogService struct {
	products ProductStore
	storage  storage.ObjectStorage
	embedder ImageEmbedder
	index    ProductIndex
	cfg      CatalogConfig
}

// NewCatalogService creates a new catalog service. embedder and index may
// both be nil when the remote visual search index is maintained elsewhere.
func NewCatalogService(
	products ProductStore,
	objectStorage storage.ObjectStorage,
	embedder ImageEmbedder,
	index ProductIndex,
	cfg CatalogConfig,
) *CatalogService {
	if cfg.Prefix == "" {
		cfg.Prefix = "products"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &CatalogService{
		products: products,
		storage:  objectStorage,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
	}
}

// ProductInput is one product to index.
type ProductInput struct {
	Code        string
	Name        string
	Description string
	Category    string
	Filename    string
	Data        []byte
}

// IndexProduct stores the product image, indexes its vector and saves the row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - in: product fields and image bytes.
//
// Returns:
//   - *domain.Product: the saved product.
//   - error: ErrInvalidProduct for bad input, otherwise storage or index errors.
func (s *CatalogService) IndexProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" || strings.Contains(code, "/") {
		return nil, fmt.Errorf("%w: product code %q", ErrInvalidProduct, in.Code)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidProduct)
	}
	contentType := imaging.DetectContentType(in.Data)
	if !imaging.IsSupported(contentType) {
		return nil, fmt.Errorf("%w: unsupported image type %s", ErrInvalidProduct, contentType)
	}

	filename := path.Base(in.Filename)
	if filename == "." || filename == "/" || filename == "" {
		filename = "image" + imaging.ExtensionFor(contentType)
	}
	name := in.Name
	if name == "" {
		name = code
	}

	productID := uuid.NewString()
	existing, err := s.products.GetByCode(ctx, code)
	switch {
	case err == nil:
		productID = existing.ID
	case !errors.Is(err, repository.ErrProductNotFound):
		return nil, fmt.Errorf("failed to check product: %w", err)
	}

	// Embed before anything is persisted.
	var vector []float32
	if s.embedder != nil && s.index != nil {
		vector, err = s.embedder.EmbedImage(ctx, in.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to embed product image: %w", err)
		}
	}

	key := storage.JoinKey(s.cfg.Prefix, code, filename)
	if err := s.storage.Put(ctx, key, in.Data, contentType); err != nil {
		return nil, fmt.Errorf("failed to upload product image: %w", err)
	}

	if vector != nil {
		payload := repository.ProductPayload{
			ProductID:   productID,
			ProductCode: code,
			Category:    in.Category,
			StorageKey:  key,
		}
		if err := s.index.Upsert(ctx, productID, vector, payload); err != nil {
			return nil, fmt.Errorf("failed to upsert product vector: %w", err)
		}
	}

	now := time.Now().UTC()
	p := &domain.Product{
		ID:          productID,
		ProductCode: code,
		Name:        name,
		Description: in.Description,
		Category:    in.Category,
		StorageKey:  key,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
	}
	if err := s.products.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}

	logger.With(logger.Fields{
		"product_code":   code,
		logger.FieldSize: len(in.Data),
	}).Debug(ctx, "Product indexed")
	return p, nil
}

// GetProduct returns a product by id.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.products.GetByID(ctx, id)
}

// ListProducts returns one page of products, optionally filtered by category.
func (s *CatalogService) ListProducts(ctx context.Context, category string, limit, offset int) ([]domain.Product, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.products.List(ctx, category, limit, offset)
}

// URL returns the public URL of a product image key.
func (s *CatalogService) URL(key string) string {
	return s.storage.GetURL(key)
}

// IndexStats holds statistics for a catalog indexing run.
type IndexStats struct {
	TotalItems     int64
	ProcessedItems int64
	SkippedItems   int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// IndexOptions holds options for IndexFromSource.
type IndexOptions struct {
	Force bool // re-index products that already exist
}

type indexResult struct {
	code    string
	skipped bool
	err     error
}

// IndexFromSource indexes up to limit products from src with a worker pool.
func (s *CatalogService) IndexFromSource(ctx context.Context, src source.Source, limit int, opts *IndexOptions) (*IndexStats, error) {
	if opts == nil {
		opts = &IndexOptions{}
	}
	stats := &IndexStats{StartTime: time.Now()}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
		"force":  opts.Force,
	}).Info("Starting catalog indexing")

	itemsChan := make(chan source.ProductItem, s.cfg.Workers*2)
	resultsChan := make(chan indexResult, s.cfg.Workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for r := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			switch {
			case r.skipped:
				atomic.AddInt64(&stats.SkippedItems, 1)
			case r.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				logger.FromContext(ctx).WithField("product_code", r.code).WithError(r.err).Error("Failed to index product")
			}
		}
		close(done)
	}()

	var fetchErr error
	cursor := ""
	fetched := 0
fetch:
	for ctx.Err() == nil {
		batch := s.cfg.BatchSize
		if limit > 0 {
			remaining := limit - fetched
			if remaining <= 0 {
				break
			}
			if batch > remaining {
				batch = remaining
			}
		}

		items, next, err := src.FetchBatch(ctx, cursor, batch)
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}
		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		fetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done
	stats.EndTime = time.Now()

	logger.FromContext(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Catalog indexing completed")

	return stats, fetchErr
}

func (s *CatalogService) worker(ctx context.Context, items <-chan source.ProductItem, results chan<- indexResult, opts *IndexOptions) {
	for item := range items {
		if ctx.Err() != nil {
			results <- indexResult{code: item.Code, err: ctx.Err()}
			continue
		}
		results <- s.indexItem(ctx, item, opts)
	}
}

func (s *CatalogService) indexItem(ctx context.Context, item source.ProductItem, opts *IndexOptions) indexResult {
	res := indexResult{code: item.Code}
	if !opts.Force {
		_, err := s.products.GetByCode(ctx, item.Code)
		if err == nil {
			res.skipped = true
			return res
		}
		if !errors.Is(err, repository.ErrProductNotFound) {
			res.err = fmt.Errorf("failed to check existence: %w", err)
			return res
		}
	}

	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		res.err = fmt.Errorf("failed to read image: %w", err)
		return res
	}
	_, res.err = s.IndexProduct(ctx, ProductInput{
		Code:        item.Code,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		Filename:    item.Filename,
		Data:        data,
	})
	return res
}
