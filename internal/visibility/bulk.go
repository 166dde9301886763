package visibility

import (
	"fmt"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
)

// ProcessingError records why one comic failed
type ProcessingError struct {
	ComicID      int64  `json:"comic_id"`
	ErrorMessage string `json:"error_message"`
}

// ProcessingStats summarises a ProcessBatch run
type ProcessingStats struct {
	SuccessCount                int
	FailedCount                 int
	EmptyResultCount            int
	TotalVisibilities           int
	AverageVisibilitiesPerComic float64
	ProcessingDuration          time.Duration
	Errors                      []ProcessingError
}

// BulkResult is the outcome of ProcessBatch
type BulkResult struct {
	// ComicIDs keeps the input order
	ComicIDs            []int64
	VisibilitiesByComic map[int64][]model.ComputedVisibility
	FailuresByComic     map[int64]error
	Stats               ProcessingStats
}

// Err returns the failure recorded for comicID, if any
func (r *BulkResult) Err(comicID int64) error {
	return r.FailuresByComic[comicID]
}

// ProcessBatch computes the visibilities of every comic in batch at asOf.
// A failing comic is recorded as a *ComputationError and does not stop the
// rest of the batch.
func ProcessBatch(batch []*model.ComicBatchData, asOf time.Time) *BulkResult {
	start := time.Now()

	result := &BulkResult{
		ComicIDs:            make([]int64, 0, len(batch)),
		VisibilitiesByComic: make(map[int64][]model.ComputedVisibility, len(batch)),
		FailuresByComic:     make(map[int64]error),
	}

	for _, data := range batch {
		if data == nil {
			continue
		}
		result.ComicIDs = append(result.ComicIDs, data.ComicID)

		visibilities, err := computeIsolated(data, asOf)
		if err != nil {
			result.Stats.FailedCount++
			result.Stats.Errors = append(result.Stats.Errors, ProcessingError{
				ComicID:      data.ComicID,
				ErrorMessage: err.Error(),
			})
			result.FailuresByComic[data.ComicID] = err
			result.VisibilitiesByComic[data.ComicID] = []model.ComputedVisibility{}
			continue
		}

		result.VisibilitiesByComic[data.ComicID] = visibilities
		result.Stats.SuccessCount++
		result.Stats.TotalVisibilities += len(visibilities)
		if len(visibilities) == 0 {
			result.Stats.EmptyResultCount++
		}
	}

	result.Stats.ProcessingDuration = time.Since(start)
	if len(result.ComicIDs) > 0 {
		result.Stats.AverageVisibilitiesPerComic = float64(result.Stats.TotalVisibilities) / float64(len(result.ComicIDs))
	}

	return result
}

// compute is replaced in tests
var compute = ComputeVisibilities

func computeIsolated(data *model.ComicBatchData, asOf time.Time) (visibilities []model.ComputedVisibility, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ComputationError{ComicID: data.ComicID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	visibilities, err = compute(data, asOf)
	if err != nil {
		return nil, &ComputationError{ComicID: data.ComicID, Err: err}
	}
	return visibilities, nil
}

// FlattenVisibilities concatenates the rows of every comic in input order
func FlattenVisibilities(result *BulkResult) []model.ComputedVisibility {
	all := make([]model.ComputedVisibility, 0, result.Stats.TotalVisibilities)
	for _, id := range result.ComicIDs {
		all = append(all, result.VisibilitiesByComic[id]...)
	}
	return all
}
