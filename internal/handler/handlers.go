// Package handler provides the HTTP handlers of the visibility API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Pbasnal/comic-visibility/internal/broker"
	"github.com/Pbasnal/comic-visibility/internal/converter"
	apierrors "github.com/Pbasnal/comic-visibility/internal/errors"
	"github.com/Pbasnal/comic-visibility/internal/gateway"
	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/Pbasnal/comic-visibility/internal/service"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	gateway      *gateway.Gateway
	errorHandler *apierrors.Handler
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(gw *gateway.Gateway, errorHandler *apierrors.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		gateway:      gw,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// ComputeVisibilities handles GET /v1/comics/compute-visibilities requests.
// The request is queued and the handler waits for its result.
func (h *Handlers) ComputeVisibilities(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := converter.ComputationRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	resp, err := gateway.Submit[*model.VisibilityComputationResponse](r.Context(), h.gateway, broker.KindVisibilityComputation, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if resp.Err != nil && (errors.Is(resp.Err, service.ErrNoComicsFound) || errors.Is(resp.Err, service.ErrInvalidRequest)) {
		h.errorHandler.HandleError(w, r, resp.Err)
		return
	}

	// infrastructure failures still carry a full body with Error and Failed set
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateJob handles POST /v1/comics/visibility-jobs requests. The request is
// queued and its id returned for polling.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := converter.ComputationRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	id, err := gateway.Enqueue(h.gateway, broker.KindVisibilityComputation, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.Debug("Visibility job accepted",
		zap.Int64("job_id", id),
		zap.Int64("start_id", req.StartID),
		zap.Int("limit", req.Limit),
		zap.String("request_id", requestID))

	h.writeJSONResponse(w, http.StatusAccepted, converter.JobAccepted(id))
}

// GetJob handles GET /v1/comics/visibility-jobs/{request_id} requests. A
// finished result is returned once and then removed.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	id, err := converter.JobID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	resp, ok := gateway.TryGet[*model.VisibilityComputationResponse](h.gateway, id)
	if !ok {
		h.errorHandler.WriteNotFound(w, apierrors.ErrorCodeJobNotFound, "job result not available", requestID)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetComicVisibilities handles GET /v1/comics/{comic_id}/visibilities requests.
func (h *Handlers) GetComicVisibilities(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := converter.LookupRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	resp, err := gateway.Submit[*model.VisibilityLookupResponse](r.Context(), h.gateway, broker.KindVisibilityLookup, req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if resp.Err != nil {
		h.errorHandler.HandleError(w, r, resp.Err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, converter.ComicVisibilities(resp))
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
