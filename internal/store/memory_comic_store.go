package store

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML seed document read by MemoryComicStore
type Fixture struct {
	Comics          []model.ComicBookData           `yaml:"comics"`
	Chapters        []model.ChapterData             `yaml:"chapters"`
	Tags            []model.TagData                 `yaml:"tags"`
	ContentRatings  []model.ContentRatingData       `yaml:"content_ratings"`
	Pricing         []model.PricingData             `yaml:"pricing"`
	GeographicRules []model.GeographicRuleData      `yaml:"geographic_rules"`
	SegmentRules    []model.CustomerSegmentRuleData `yaml:"segment_rules"`
	Segments        []model.CustomerSegmentData     `yaml:"segments"`
}

// LoadFixture reads and parses a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture parses a YAML fixture document
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// MemoryComicStore implements ComicRepository over an in-memory fixture
type MemoryComicStore struct {
	mu       sync.RWMutex
	fixture  *Fixture
	computed map[int64][]model.ComputedVisibility
	logger   *zap.Logger
}

// NewMemoryComicStore creates a store serving fixture
func NewMemoryComicStore(fixture *Fixture, logger *zap.Logger) *MemoryComicStore {
	if fixture == nil {
		fixture = &Fixture{}
	}
	return &MemoryComicStore{
		fixture:  fixture,
		computed: make(map[int64][]model.ComputedVisibility),
		logger:   logger,
	}
}

// GetComicIDs returns up to limit comic ids >= startID in ascending order
func (s *MemoryComicStore) GetComicIDs(ctx context.Context, startID int64, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	for _, c := range s.fixture.Comics {
		if c.ID >= startID {
			ids = append(ids, c.ID)
		}
	}
	slices.Sort(ids)

	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetComicBatchData returns one snapshot per existing comic, in the order of comicIDs
func (s *MemoryComicStore) GetComicBatchData(ctx context.Context, comicIDs []int64) ([]*model.ComicBatchData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := s.fixture
	result := make([]*model.ComicBatchData, 0, len(comicIDs))

	for _, id := range comicIDs {
		idx := slices.IndexFunc(f.Comics, func(c model.ComicBookData) bool { return c.ID == id })
		if idx < 0 {
			continue
		}

		data := &model.ComicBatchData{ComicID: id, Comic: f.Comics[idx]}

		for _, ch := range f.Chapters {
			if ch.ComicID == id {
				data.Chapters = append(data.Chapters, ch)
			}
		}
		for _, tag := range f.Tags {
			if tag.ComicID == id {
				data.Tags = append(data.Tags, tag)
			}
		}
		for i := range f.ContentRatings {
			if f.ContentRatings[i].ComicID == id {
				rating := f.ContentRatings[i]
				data.ContentRating = &rating
				break
			}
		}
		for _, p := range f.Pricing {
			if p.ComicID == id {
				data.RegionalPricing = append(data.RegionalPricing, p)
			}
		}
		for _, g := range f.GeographicRules {
			if g.ComicID == id {
				g.CountryCodes = slices.Clone(g.CountryCodes)
				data.GeographicRules = append(data.GeographicRules, g)
			}
		}
		for _, r := range f.SegmentRules {
			if r.ComicID != id {
				continue
			}
			data.SegmentRules = append(data.SegmentRules, r)
			if _, seen := data.Segment(r.SegmentID); seen {
				continue
			}
			for _, seg := range f.Segments {
				if seg.ID == r.SegmentID {
					data.Segments = append(data.Segments, seg)
					break
				}
			}
		}

		result = append(result, data)
	}

	return result, nil
}

// SaveComputedVisibilities replaces the stored rows of every comic in comicIDs
func (s *MemoryComicStore) SaveComputedVisibilities(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for comicID, rows := range groupByComic(comicIDs, visibilities) {
		s.computed[comicID] = rows
	}
	return nil
}

// GetComputedVisibilities returns the most recent rows saved for a comic
func (s *MemoryComicStore) GetComputedVisibilities(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.computed[comicID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rows), nil
}

// Ping always succeeds
func (s *MemoryComicStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryComicStore) Close() {}
