package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/repository"
)

const upstreamQdrant = "qdrant"

// ImageEmbedder produces a vector for an encoded image.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// VectorSearcher finds nearest product vectors.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, category string) ([]repository.ProductHit, error)
}

// QdrantConfig bounds vector lookups.
type QdrantConfig struct {
	TopK int
	// Timeout bounds a single vector search attempt.
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// QdrantSearcher answers similarity queries from the self-hosted product index.
type QdrantSearcher struct {
	embedder ImageEmbedder
	vectors  VectorSearcher
	cfg      QdrantConfig
}

// NewQdrantSearcher creates a searcher over the product vector collection.
func NewQdrantSearcher(embedder ImageEmbedder, vectors VectorSearcher, cfg QdrantConfig) *QdrantSearcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 100 * time.Millisecond
	}
	return &QdrantSearcher{embedder: embedder, vectors: vectors, cfg: cfg}
}

// Search embeds q.Image and looks up its nearest products.
func (s *QdrantSearcher) Search(ctx context.Context, q Query) ([]Match, error) {
	start := time.Now()

	vector, err := s.embedder.EmbedImage(ctx, q.Image)
	if err != nil {
		return nil, err
	}

	topK := q.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	var category string
	if q.Category == domain.CategoryTop || q.Category == domain.CategoryBottom {
		category = string(q.Category)
	}

	hits, err := s.searchVectors(ctx, vector, topK, category)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		id := h.Payload.ProductID
		if id == "" {
			id = h.Payload.ProductCode
		}
		if id == "" {
			id = ProductIDFromKey(h.Payload.StorageKey)
		}
		if id == "" {
			continue
		}
		matches = append(matches, Match{
			ProductID: id,
			Score:     float64(h.Score),
			ImageKey:  h.Payload.StorageKey,
			Metadata: map[string]interface{}{
				"point_id": h.PointID,
				"category": h.Payload.Category,
			},
		})
	}

	logger.With(logger.Fields{
		logger.FieldUpstream: upstreamQdrant,
	}).WithDuration(time.Since(start)).WithCount(len(matches)).Info(ctx, "Vector search finished")

	return RankMatches(matches), nil
}

// searchVectors runs the lookup with a per-attempt deadline, retrying
// Unavailable and DeadlineExceeded up to RetryCount times.
func (s *QdrantSearcher) searchVectors(ctx context.Context, vector []float32, topK int, category string) ([]repository.ProductHit, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.WrapError(domain.ReasonSearchUnavailable, ctx.Err())
			case <-time.After(s.cfg.RetryWait):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		hits, err := s.vectors.Search(attemptCtx, vector, topK, category)
		cancel()
		if err == nil {
			return hits, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryableVectorError(err) {
			break
		}
		logger.With(logger.Fields{
			logger.FieldUpstream: upstreamQdrant,
			"attempt":            attempt + 1,
		}).Warn(ctx, "Vector search attempt failed: %v", err)
	}
	return nil, domain.WrapError(domain.ReasonSearchUnavailable,
		fmt.Errorf("vector search failed: %w", lastErr))
}

func retryableVectorError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
