package model

import "time"

// VisibilityComputationRequest asks for the visibilities of up to Limit comics
// starting at comic id StartID
type VisibilityComputationRequest struct {
	ID      int64 `json:"id"`
	StartID int64 `json:"start_id"`
	Limit   int   `json:"limit"`
}

// RequestID returns the correlation id of the request
func (r *VisibilityComputationRequest) RequestID() int64 { return r.ID }

// AssignID sets the correlation id of the request
func (r *VisibilityComputationRequest) AssignID(id int64) { r.ID = id }

// VisibilityComputationResponse is the outcome of a VisibilityComputationRequest
type VisibilityComputationResponse struct {
	ID                    int64                   `json:"id"`
	StartID               int64                   `json:"start_id"`
	Limit                 int                     `json:"limit"`
	ProcessedSuccessfully int                     `json:"processed_successfully"`
	Failed                int                     `json:"failed"`
	DurationInSeconds     float64                 `json:"duration_in_seconds"`
	NextStartID           int64                   `json:"next_start_id"`
	Error                 string                  `json:"error,omitempty"`
	Results               []ComicVisibilityResult `json:"results"`

	// Err is the request-level failure, if any
	Err error `json:"-"`
}

// CorrelationID returns the id of the originating request
func (r *VisibilityComputationResponse) CorrelationID() int64 { return r.ID }

// Fail marks the whole request as failed
func (r *VisibilityComputationResponse) Fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// ComicVisibilityResult is the per-comic entry of a VisibilityComputationResponse
type ComicVisibilityResult struct {
	ComicID              int64                `json:"comic_id"`
	Success              bool                 `json:"success"`
	ErrorMessage         string               `json:"error_message,omitempty"`
	ComputationTime      time.Time            `json:"computation_time"`
	ComputedVisibilities []ComputedVisibility `json:"computed_visibilities"`
}

// VisibilityLookupRequest asks for the last computed visibilities of one comic
type VisibilityLookupRequest struct {
	ID      int64 `json:"id"`
	ComicID int64 `json:"comic_id"`
}

// RequestID returns the correlation id of the request
func (r *VisibilityLookupRequest) RequestID() int64 { return r.ID }

// AssignID sets the correlation id of the request
func (r *VisibilityLookupRequest) AssignID(id int64) { r.ID = id }

// VisibilityLookupResponse is the outcome of a VisibilityLookupRequest
type VisibilityLookupResponse struct {
	ID           int64                `json:"id"`
	ComicID      int64                `json:"comic_id"`
	Source       string               `json:"source,omitempty"`
	Visibilities []ComputedVisibility `json:"visibilities"`
	Error        string               `json:"error,omitempty"`

	Err error `json:"-"`
}

// CorrelationID returns the id of the originating request
func (r *VisibilityLookupResponse) CorrelationID() int64 { return r.ID }

// Fail marks the lookup as failed
func (r *VisibilityLookupResponse) Fail(err error) {
	r.Err = err
	r.Error = err.Error()
}
