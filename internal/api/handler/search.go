package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/api/middleware"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/service"
)

// Orchestrator is the search workflow used by SearchHandler.
type Orchestrator interface {
	Begin(ctx context.Context, sessionID string, up service.Upload) (*service.SessionStateView, error)
	Select(ctx context.Context, sessionID string, sel service.Selection) (*service.SessionStateView, error)
	SearchWholeImage(ctx context.Context, sessionID string) (*service.SessionStateView, error)
	Status(ctx context.Context, sessionID string) (*service.SessionStateView, error)
	Reset(ctx context.Context, sessionID string) error
}

// SearchHandler handles the visual search session endpoints.
type SearchHandler struct {
	orchestrator   Orchestrator
	maxUploadBytes int64
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - orchestrator: search workflow.
//   - maxUploadBytes: largest accepted image.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(orchestrator Orchestrator, maxUploadBytes int64) *SearchHandler {
	return &SearchHandler{
		orchestrator:   orchestrator,
		maxUploadBytes: maxUploadBytes,
	}
}

// failedResponse carries the failed state together with the error.
type failedResponse struct {
	ErrorBody
	State *service.SessionStateView `json:"state"`
}

// respond writes view, or the error with the failed view when both are set.
func respond(c *gin.Context, view *service.SessionStateView, err error) {
	if err == nil {
		c.JSON(http.StatusOK, view)
		return
	}
	var derr *domain.Error
	if view != nil && errors.As(err, &derr) {
		c.JSON(StatusForReason(derr.Reason), failedResponse{
			ErrorBody: ErrorBody{Reason: derr.Reason, Error: derr.Error()},
			State:     view,
		})
		return
	}
	writeError(c, err)
}

// Upload handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context with multipart field "image".
// Returns: none (writes JSON response).
func (h *SearchHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	if h.maxUploadBytes > 0 {
		// Leave room for the multipart envelope; the exact limit is checked on the file.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, domain.NewError(domain.ReasonDetectionInvalidInput, "upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		writeError(c, domain.NewError(domain.ReasonDetectionInvalidInput, "multipart field \"image\" is required"))
		return
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		writeError(c, domain.NewError(domain.ReasonDetectionInvalidInput, "upload exceeds %d bytes", h.maxUploadBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, domain.WrapError(domain.ReasonDetectionInvalidInput, err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, domain.WrapError(domain.ReasonDetectionInvalidInput, err))
		return
	}

	logger.CtxInfo(ctx, "Received upload: filename=%s, size=%d", fh.Filename, len(data))

	view, err := h.orchestrator.Begin(ctx, middleware.SessionID(c), service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	respond(c, view, err)
}

// Select handles POST /api/v1/search/selection.
// Parameters:
//   - c: Gin request context with a JSON selection body; an empty body
//     confirms the auto-selected detection.
// Returns: none (writes JSON response).
func (h *SearchHandler) Select(c *gin.Context) {
	var sel service.Selection
	if err := c.ShouldBindJSON(&sel); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, domain.NewError(domain.ReasonInvalidSelection, "invalid request: %v", err))
		return
	}

	view, err := h.orchestrator.Select(c.Request.Context(), middleware.SessionID(c), sel)
	respond(c, view, err)
}

// WholeImage handles POST /api/v1/search/whole-image.
func (h *SearchHandler) WholeImage(c *gin.Context) {
	view, err := h.orchestrator.SearchWholeImage(c.Request.Context(), middleware.SessionID(c))
	respond(c, view, err)
}

// Status handles GET /api/v1/search.
func (h *SearchHandler) Status(c *gin.Context) {
	view, err := h.orchestrator.Status(c.Request.Context(), middleware.SessionID(c))
	respond(c, view, err)
}

// Reset handles DELETE /api/v1/search.
func (h *SearchHandler) Reset(c *gin.Context) {
	err := h.orchestrator.Reset(c.Request.Context(), middleware.SessionID(c))
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
