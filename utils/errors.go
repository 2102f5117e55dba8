package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"learning-coach-platform/models"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithDomainError maps pipeline errors to status codes. Anything
// unrecognized is a 500.
func RespondWithDomainError(c *gin.Context, err error) {
	var upstream *models.UpstreamError
	var embedding *models.EmbeddingError

	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		RespondWithNotFound(c, "Document not found")
	case errors.Is(err, models.ErrDocumentNotReady):
		RespondWithError(c, http.StatusConflict, "DOCUMENT_NOT_READY", "Document is still being processed", nil)
	case errors.Is(err, models.ErrIndexAlreadyQueued):
		RespondWithError(c, http.StatusConflict, "already_queued", "Document indexing is already queued", nil)
	case errors.Is(err, models.ErrIndexingInProgress):
		RespondWithError(c, http.StatusConflict, "indexing_in_progress", "Document is already being indexed", nil)
	case errors.As(err, &upstream):
		RespondWithError(c, http.StatusBadGateway, "upstream_error", "The AI service could not answer right now",
			gin.H{"service": upstream.Service, "status": upstream.StatusCode})
	case errors.As(err, &embedding):
		RespondWithError(c, http.StatusBadGateway, "embedding_error", "The embedding service could not process the question", nil)
	default:
		RespondWithInternalError(c, "Unexpected error", nil)
	}
}
