package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Reason domain.Reason `json:"reason,omitempty"`
	Error  string        `json:"error"`
}

// StatusForReason maps a failure reason to an HTTP status code.
func StatusForReason(reason domain.Reason) int {
	switch reason {
	case domain.ReasonInvalidSelection, domain.ReasonDetectionInvalidInput:
		return http.StatusBadRequest
	case domain.ReasonSearchInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.ReasonSessionNotFound:
		return http.StatusNotFound
	case domain.ReasonSessionExpired:
		return http.StatusGone
	case domain.ReasonSessionConflict:
		return http.StatusConflict
	case domain.ReasonDetectionUnavailable, domain.ReasonSearchUnavailable:
		return http.StatusBadGateway
	case domain.ReasonStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status of its reason. Errors without a
// reason are logged and reported as internal.
func writeError(c *gin.Context, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal error"})
		return
	}
	c.JSON(StatusForReason(derr.Reason), ErrorBody{Reason: derr.Reason, Error: derr.Error()})
}
