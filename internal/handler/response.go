package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/middleware"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Status: statusOK, Data: data})
}

// RespondCreated sends a 201 success response.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Status: statusOK, Data: data})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string, details ...string) {
	c.JSON(status, APIResponse{Status: statusError, Code: code, Message: msg, Errors: details})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, domain.ErrFileGone):
		return http.StatusGone, "GONE", "file has been deleted"
	case errors.Is(err, domain.ErrSchemaNotFound):
		return http.StatusNotFound, "SCHEMA_NOT_FOUND", "schema not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "forbidden"
	case errors.Is(err, domain.ErrEmptyUpload):
		return http.StatusBadRequest, "EMPTY_UPLOAD", "uploaded file is empty"
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds maximum allowed size"
	case errors.Is(err, domain.ErrDuplicateName):
		return http.StatusConflict, "DUPLICATE_NAME", "a file with this name already exists in the project"
	case errors.Is(err, domain.ErrInvalidRerunMode):
		return http.StatusBadRequest, "INVALID_RERUN_MODE", "mode must be one of parse-only, predict-only, audit-only, judge-only"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", "invalid input"
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests, "QUEUE_FULL", "ingest queue is full; retry later"
	case errors.Is(err, domain.ErrThrottled):
		return http.StatusTooManyRequests, "THROTTLED", "a re-run of this file is already in progress"
	case errors.Is(err, domain.ErrStateRejected):
		return http.StatusConflict, "STATE_CONFLICT", "the file is not in a state that allows this operation"
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusUnprocessableEntity, "NOT_READY", "the file has not finished processing"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "unsupported file format"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// userMessage returns the detail shown to clients for 4xx errors.
func userMessage(err error, fallback string) []string {
	if err == nil || err.Error() == fallback {
		return nil
	}
	return []string{err.Error()}
}

// errorHandler maps errors at the HTTP boundary and logs server faults.
type errorHandler struct {
	log *logger.Logger
}

// HandleError maps a domain error and sends the appropriate error response.
func (h errorHandler) HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		requestID, _ := c.Get(middleware.ContextKeyRequestID)
		h.log.Error("http: internal error", "request_id", requestID, "path", c.FullPath(), "error", err)
		RespondError(c, status, code, msg)
		return
	}
	RespondError(c, status, code, msg, userMessage(err, msg)...)
}
