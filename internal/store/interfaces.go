package store

import (
	"context"
	"errors"

	"github.com/Pbasnal/comic-visibility/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ComicRepository loads the records visibility computation reads and
// persists the rows it produces
type ComicRepository interface {
	// GetComicIDs returns up to limit comic ids >= startID in ascending order
	GetComicIDs(ctx context.Context, startID int64, limit int) ([]int64, error)

	// GetComicBatchData returns one snapshot per existing comic, in the order
	// of comicIDs. Unknown ids are skipped.
	GetComicBatchData(ctx context.Context, comicIDs []int64) ([]*model.ComicBatchData, error)

	// SaveComputedVisibilities replaces the stored rows of every comic in
	// comicIDs. A comic without rows in visibilities is left with none.
	SaveComputedVisibilities(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error

	// GetComputedVisibilities returns the most recent rows saved for a comic
	GetComputedVisibilities(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error)

	Ping(ctx context.Context) error
	Close()
}

// VisibilityCache holds the latest computed visibilities per comic
type VisibilityCache interface {
	// Publish replaces the cached rows of every comic in comicIDs, caching an
	// empty set for comics without rows
	Publish(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error
	Get(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error)
	Ping(ctx context.Context) error
	Close() error
}

// groupByComic splits rows per comic, keeping row order. Every id in
// comicIDs gets an entry even when it has no rows.
func groupByComic(comicIDs []int64, visibilities []model.ComputedVisibility) map[int64][]model.ComputedVisibility {
	grouped := make(map[int64][]model.ComputedVisibility, len(comicIDs))
	for _, id := range comicIDs {
		grouped[id] = []model.ComputedVisibility{}
	}
	for _, v := range visibilities {
		grouped[v.ComicID] = append(grouped[v.ComicID], v)
	}
	return grouped
}
