// Package errors maps domain errors to HTTP status codes and writes the
// standard error body.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Pbasnal/comic-visibility/internal/gateway"
	"github.com/Pbasnal/comic-visibility/internal/service"
	"github.com/Pbasnal/comic-visibility/internal/store"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	ErrorCodeComicNotFound ErrorCode = "COMIC_NOT_FOUND"
	ErrorCodeJobNotFound   ErrorCode = "JOB_NOT_FOUND"
	ErrorCodeNoComicsFound ErrorCode = "NO_COMICS_FOUND"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError maps err to a status code and error code and writes the response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	h.WriteErrorResponse(w, HTTPStatus(err), Code(err), err.Error(), r.Header.Get("X-Request-ID"))
}

// HTTPStatus converts an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoComicsFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code converts an error to an application error code.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorCodeUnknown
	case errors.Is(err, service.ErrInvalidRequest):
		return ErrorCodeInvalidRequest
	case errors.Is(err, service.ErrNoComicsFound):
		return ErrorCodeNoComicsFound
	case errors.Is(err, store.ErrNotFound):
		return ErrorCodeComicNotFound
	case errors.Is(err, gateway.ErrTimeout):
		return ErrorCodeTimeout
	default:
		return ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	log := h.logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteNotFound writes a not found response with the given code.
func (h *Handler) WriteNotFound(w http.ResponseWriter, code ErrorCode, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusNotFound, code, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited, "rate limit exceeded", requestID)
}
