package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/correlation"
	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/Pbasnal/comic-visibility/internal/store"
	"github.com/Pbasnal/comic-visibility/internal/visibility"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxLimit is the largest number of comics one request may cover
	MaxLimit = 20

	noVisibilitiesMessage = "no visibilities computed - missing or invalid geographic/segment rules"
)

var (
	// ErrInvalidRequest is returned for a request outside the accepted range
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoComicsFound is returned when no comic exists in the requested range
	ErrNoComicsFound = errors.New("no comics found")
)

// ValidateRange checks startID >= 1 and 1 <= limit <= MaxLimit
func ValidateRange(startID int64, limit int) error {
	if startID < 1 {
		return fmt.Errorf("%w: startId must be >= 1, got %d", ErrInvalidRequest, startID)
	}
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidRequest, MaxLimit, limit)
	}
	return nil
}

// VisibilityService computes comic visibilities for drained request batches
// and publishes every response to the correlation store
type VisibilityService struct {
	repo        store.ComicRepository
	cache       store.VisibilityCache
	results     *correlation.Store
	concurrency int
	clock       func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewVisibilityService creates a visibility service. cache may be nil.
func NewVisibilityService(
	repo store.ComicRepository,
	cache store.VisibilityCache,
	results *correlation.Store,
	concurrency int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *VisibilityService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &VisibilityService{
		repo:        repo,
		cache:       cache,
		results:     results,
		concurrency: concurrency,
		clock:       time.Now,
		metrics:     m,
		logger:      logger,
	}
}

// ProcessBatch handles one drained batch of computation requests. Requests
// are ordered by StartID and processed concurrently; every request gets a
// response, including failed ones.
func (s *VisibilityService) ProcessBatch(ctx context.Context, batchSize int, batch []*model.VisibilityComputationRequest) error {
	start := time.Now()

	reqs := slices.DeleteFunc(slices.Clone(batch), func(r *model.VisibilityComputationRequest) bool {
		return r == nil
	})
	slices.SortStableFunc(reqs, func(a, b *model.VisibilityComputationRequest) int {
		switch {
		case a.StartID < b.StartID:
			return -1
		case a.StartID > b.StartID:
			return 1
		default:
			return 0
		}
	})

	s.metrics.SetRequestsInBatch(len(reqs))
	s.logger.Debug("processing visibility batch",
		zap.Int("batch_size", batchSize),
		zap.Int("requests", len(reqs)),
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			s.results.Add(s.ComputeVisibilities(ctx, req))
			return nil
		})
	}
	err := g.Wait()

	s.metrics.RecordComputation("batch_process", time.Since(start), err)
	return err
}

// ComputeVisibilities computes, saves and publishes the visibilities of the
// comics covered by req
func (s *VisibilityService) ComputeVisibilities(ctx context.Context, req *model.VisibilityComputationRequest) (resp *model.VisibilityComputationResponse) {
	start := time.Now()
	resp = &model.VisibilityComputationResponse{
		ID:          req.ID,
		StartID:     req.StartID,
		Limit:       req.Limit,
		NextStartID: req.StartID,
		Results:     []model.ComicVisibilityResult{},
	}

	defer func() {
		if r := recover(); r != nil {
			resp.Fail(fmt.Errorf("panic while computing visibilities: %v", r))
		}
		resp.DurationInSeconds = time.Since(start).Seconds()
		s.metrics.RecordComputation("visibility_computation", time.Since(start), resp.Err)
	}()

	if err := ValidateRange(req.StartID, req.Limit); err != nil {
		resp.Fail(err)
		return resp
	}

	ids, err := s.repo.GetComicIDs(ctx, req.StartID, req.Limit)
	if err != nil {
		s.fail(resp, "fetch_comics", fmt.Errorf("failed to get comic ids: %w", err))
		return resp
	}
	if len(ids) == 0 {
		resp.Fail(fmt.Errorf("%w: startId=%d limit=%d", ErrNoComicsFound, req.StartID, req.Limit))
		s.logger.Info("no comics found",
			zap.Int64("start_id", req.StartID),
			zap.Int("limit", req.Limit),
		)
		return resp
	}

	fetchStart := time.Now()
	data, err := s.repo.GetComicBatchData(ctx, ids)
	s.metrics.RecordComputation("fetch_all_comics_data", time.Since(fetchStart), err)
	if err != nil {
		s.fail(resp, "fetch_all_comics_data", fmt.Errorf("failed to get comic batch data: %w", err))
		return resp
	}

	asOf := s.clock().UTC()
	computeStart := time.Now()
	bulk := visibility.ProcessBatch(data, asOf)
	s.metrics.RecordComputation("compute_visibility", time.Since(computeStart), nil)

	// every comic in range is replaced, so one that lost all its rows stops
	// serving the rows of an earlier computation
	all := visibility.FlattenVisibilities(bulk)
	saveStart := time.Now()
	err = s.repo.SaveComputedVisibilities(ctx, ids, all)
	s.metrics.RecordComputation("save_visibility", time.Since(saveStart), err)
	if err != nil {
		s.fail(resp, "save_visibility", fmt.Errorf("failed to save computed visibilities: %w", err))
		return resp
	}

	if s.cache != nil {
		if err := s.cache.Publish(ctx, ids, all); err != nil {
			s.logger.Warn("failed to publish visibilities to cache", zap.Error(err))
		}
	}

	for _, id := range ids {
		result := model.ComicVisibilityResult{
			ComicID:              id,
			ComputationTime:      asOf,
			ComputedVisibilities: []model.ComputedVisibility{},
		}

		rows, loaded := bulk.VisibilitiesByComic[id]
		switch {
		case !loaded:
			result.ErrorMessage = fmt.Sprintf("comic %d: %v", id, store.ErrNotFound)
		case bulk.Err(id) != nil:
			result.ErrorMessage = bulk.Err(id).Error()
		case len(rows) == 0:
			result.ErrorMessage = noVisibilitiesMessage
			s.logger.Warn("comic has no computed visibilities", zap.Int64("comic_id", id))
		default:
			result.Success = true
			result.ComputedVisibilities = rows
		}

		if result.Success {
			resp.ProcessedSuccessfully++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}

	resp.NextStartID = req.StartID + int64(req.Limit)

	s.logger.Info("computed visibilities",
		zap.Int64("request_id", req.ID),
		zap.Int64("start_id", req.StartID),
		zap.Int("comics", len(ids)),
		zap.Int("succeeded", resp.ProcessedSuccessfully),
		zap.Int("failed", resp.Failed),
		zap.Int("visibilities", bulk.Stats.TotalVisibilities),
		zap.Duration("compute_duration", bulk.Stats.ProcessingDuration),
	)

	return resp
}

// fail records an infrastructure failure as a single failed entry so the
// waiting caller is released
func (s *VisibilityService) fail(resp *model.VisibilityComputationResponse, stage string, err error) {
	s.logger.Error("visibility computation failed",
		zap.Int64("request_id", resp.ID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	resp.Fail(err)
	resp.Failed = 1
	resp.Results = []model.ComicVisibilityResult{{
		ComicID:              resp.StartID,
		ErrorMessage:         err.Error(),
		ComputationTime:      s.clock().UTC(),
		ComputedVisibilities: []model.ComputedVisibility{},
	}}
}

// ProcessLookups handles one drained batch of lookup requests
func (s *VisibilityService) ProcessLookups(ctx context.Context, batchSize int, batch []*model.VisibilityLookupRequest) error {
	for _, req := range batch {
		if req == nil {
			continue
		}
		s.results.Add(s.Lookup(ctx, req))
	}
	return nil
}

// Lookup returns the latest visibilities of a comic from the cache, falling
// back to the repository and refilling the cache
func (s *VisibilityService) Lookup(ctx context.Context, req *model.VisibilityLookupRequest) *model.VisibilityLookupResponse {
	resp := &model.VisibilityLookupResponse{
		ID:           req.ID,
		ComicID:      req.ComicID,
		Visibilities: []model.ComputedVisibility{},
	}

	if s.cache != nil {
		rows, err := s.cache.Get(ctx, req.ComicID)
		switch {
		case err == nil:
			s.metrics.RecordCacheLookup("visibility", true)
			resp.Source = "cache"
			resp.Visibilities = rows
			return resp
		case errors.Is(err, store.ErrNotFound):
			s.metrics.RecordCacheLookup("visibility", false)
		default:
			s.logger.Warn("visibility cache lookup failed",
				zap.Int64("comic_id", req.ComicID),
				zap.Error(err),
			)
		}
	}

	rows, err := s.repo.GetComputedVisibilities(ctx, req.ComicID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load computed visibilities",
				zap.Int64("comic_id", req.ComicID),
				zap.Error(err),
			)
		}
		resp.Fail(fmt.Errorf("visibilities of comic %d: %w", req.ComicID, err))
		return resp
	}

	if s.cache != nil {
		if err := s.cache.Publish(ctx, []int64{req.ComicID}, rows); err != nil {
			s.logger.Warn("failed to refill visibility cache", zap.Error(err))
		}
	}

	resp.Source = "store"
	resp.Visibilities = rows
	return resp
}
