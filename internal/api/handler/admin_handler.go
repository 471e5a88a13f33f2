package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/service"
	"github.com/timmy/fitfinder/internal/source"
)

// Indexer runs catalog indexing from a source.
type Indexer interface {
	IndexFromSource(ctx context.Context, src source.Source, limit int, opts *service.IndexOptions) (*service.IndexStats, error)
}

// AdminHandler handles catalog indexing operations.
type AdminHandler struct {
	indexer Indexer
	sources map[string]source.Source

	// Index job state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.IndexStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - indexer: catalog service.
//   - sources: map of catalog sources keyed by name.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(indexer Indexer, sources map[string]source.Source) *AdminHandler {
	return &AdminHandler{
		indexer: indexer,
		sources: sources,
	}
}

// IndexRequest represents the index API request.
type IndexRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"min=0,max=100000"`
	Force  bool   `json:"force"`
}

// IndexResponse represents the index API response.
type IndexResponse struct {
	Message string              `json:"message"`
	Stats   *service.IndexStats `json:"stats,omitempty"`
}

// IndexStatusResponse represents the index job status.
type IndexStatusResponse struct {
	IsRunning     bool                `json:"is_running"`
	LastRunTime   string              `json:"last_run_time,omitempty"`
	LastRunStatus string              `json:"last_run_status,omitempty"`
	CurrentStats  *service.IndexStats `json:"current_stats,omitempty"`
}

// TriggerIndex handles POST /api/v1/admin/index. Only one run is allowed
// at a time.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerIndex(c *gin.Context) {
	ctx := c.Request.Context()

	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid index request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: "unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Index request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, ErrorBody{Error: "indexing is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	// Detach from the request so a client disconnect does not abort the run.
	runCtx := logger.FromContext(ctx).WithContext(context.Background())
	start := time.Now()
	stats, err := h.indexer.IndexFromSource(runCtx, src, req.Limit, &service.IndexOptions{Force: req.Force})
	duration := time.Since(start)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Index run failed: source=%s, error=%v", req.Source, err)
		c.JSON(http.StatusInternalServerError, ErrorBody{Error: err.Error()})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.ProcessedItems,
	}).Info(ctx, "Index run completed: source=%s, total=%d, skipped=%d, failed=%d",
		req.Source, stats.TotalItems, stats.SkippedItems, stats.FailedItems)

	c.JSON(http.StatusOK, IndexResponse{
		Message: "Indexing completed",
		Stats:   stats,
	})
}

// GetIndexStatus handles GET /api/v1/admin/index/status.
func (h *AdminHandler) GetIndexStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := IndexStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
