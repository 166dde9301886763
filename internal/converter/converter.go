// Package converter turns HTTP requests into queue requests and queue
// responses into HTTP bodies.
package converter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/Pbasnal/comic-visibility/internal/service"
	"github.com/gorilla/mux"
)

// ComputationRequest builds a computation request from the startId and limit
// query parameters.
func ComputationRequest(r *http.Request) (*model.VisibilityComputationRequest, error) {
	query := r.URL.Query()

	startID, err := intParam(query.Get("startId"), "startId")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(query.Get("limit"), "limit")
	if err != nil {
		return nil, err
	}

	if err := service.ValidateRange(startID, int(limit)); err != nil {
		return nil, err
	}

	return &model.VisibilityComputationRequest{StartID: startID, Limit: int(limit)}, nil
}

// LookupRequest builds a lookup request from the comic_id path variable.
func LookupRequest(r *http.Request) (*model.VisibilityLookupRequest, error) {
	comicID, err := intParam(mux.Vars(r)["comic_id"], "comic_id")
	if err != nil {
		return nil, err
	}
	if comicID < 1 {
		return nil, fmt.Errorf("%w: comic_id must be >= 1, got %d", service.ErrInvalidRequest, comicID)
	}
	return &model.VisibilityLookupRequest{ComicID: comicID}, nil
}

// JobID returns the request_id path variable.
func JobID(r *http.Request) (int64, error) {
	id, err := intParam(mux.Vars(r)["request_id"], "request_id")
	if err != nil {
		return 0, err
	}
	if id < 1 {
		return 0, fmt.Errorf("%w: request_id must be >= 1, got %d", service.ErrInvalidRequest, id)
	}
	return id, nil
}

func intParam(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", service.ErrInvalidRequest, name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", service.ErrInvalidRequest, name, raw)
	}
	return v, nil
}

// JobAcceptedResponse is returned when a computation job is enqueued.
type JobAcceptedResponse struct {
	RequestID int64  `json:"request_id"`
	Status    string `json:"status"`
	PollURL   string `json:"poll_url"`
}

// JobAccepted builds the body of an accepted job.
func JobAccepted(id int64) JobAcceptedResponse {
	return JobAcceptedResponse{
		RequestID: id,
		Status:    "accepted",
		PollURL:   fmt.Sprintf("/v1/comics/visibility-jobs/%d", id),
	}
}

// ComicVisibilitiesResponse is the body of a visibility lookup.
type ComicVisibilitiesResponse struct {
	ComicID      int64                      `json:"comic_id"`
	Source       string                     `json:"source"`
	Count        int                        `json:"count"`
	Visibilities []model.ComputedVisibility `json:"visibilities"`
}

// ComicVisibilities converts a lookup response into its HTTP body.
func ComicVisibilities(resp *model.VisibilityLookupResponse) ComicVisibilitiesResponse {
	rows := resp.Visibilities
	if rows == nil {
		rows = []model.ComputedVisibility{}
	}
	return ComicVisibilitiesResponse{
		ComicID:      resp.ComicID,
		Source:       resp.Source,
		Count:        len(rows),
		Visibilities: rows,
	}
}
