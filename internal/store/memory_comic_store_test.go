package store

import (
	"context"
	"testing"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loadTestStore(t *testing.T) *MemoryComicStore {
	t.Helper()
	fixture, err := LoadFixture("testdata/comics.yaml")
	require.NoError(t, err)
	return NewMemoryComicStore(fixture, zap.NewNop())
}

func TestLoadFixture(t *testing.T) {
	fixture, err := LoadFixture("testdata/comics.yaml")
	require.NoError(t, err)

	assert.Len(t, fixture.Comics, 3)
	assert.Len(t, fixture.Chapters, 5)

	require.Len(t, fixture.ContentRatings, 1)
	assert.Equal(t, model.AgeRatingTeen, fixture.ContentRatings[0].AgeRating)
	assert.Equal(t, model.ContentFlagViolence, fixture.ContentRatings[0].ContentFlags)

	us := fixture.Pricing[0]
	assert.Equal(t, "4.99", us.BasePrice.StringFixed(2))
	require.NotNil(t, us.DiscountStartDate)
	require.NotNil(t, us.DiscountEndDate)
	require.True(t, us.DiscountPercentage.Valid)
	assert.Equal(t, "20", us.DiscountPercentage.Decimal.String())

	uk := fixture.Pricing[1]
	assert.Nil(t, uk.DiscountStartDate)
	assert.False(t, uk.DiscountPercentage.Valid)

	assert.Equal(t, model.LicenseTypePreviewOnly, fixture.GeographicRules[1].LicenseType)
	assert.Equal(t, []string{"US", "CA"}, fixture.GeographicRules[0].CountryCodes)
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := LoadFixture("testdata/missing.yaml")
	assert.Error(t, err)

	_, err = ParseFixture([]byte("geographic_rules:\n  - license_type: Sometimes\n"))
	assert.Error(t, err)
}

func TestMemoryComicStore_GetComicIDs(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	ids, err := s.GetComicIDs(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, ids)

	ids, err = s.GetComicIDs(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	ids, err = s.GetComicIDs(ctx, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)

	ids, err = s.GetComicIDs(ctx, 50, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryComicStore_GetComicBatchData(t *testing.T) {
	s := loadTestStore(t)

	batch, err := s.GetComicBatchData(context.Background(), []int64{2, 99, 1})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, int64(2), batch[0].ComicID)
	assert.Equal(t, int64(1), batch[1].ComicID)

	night := batch[1]
	assert.Equal(t, "Night Watch", night.Comic.Title)
	assert.Len(t, night.Chapters, 3)
	assert.Len(t, night.Tags, 2)
	require.NotNil(t, night.ContentRating)
	assert.Len(t, night.RegionalPricing, 2)
	assert.Len(t, night.GeographicRules, 2)
	assert.Len(t, night.SegmentRules, 2)
	assert.Len(t, night.Segments, 2)

	garden := batch[0]
	assert.Nil(t, garden.ContentRating)
	assert.Len(t, garden.Segments, 1)
}

func TestMemoryComicStore_SaveAndGetComputedVisibilities(t *testing.T) {
	s := loadTestStore(t)
	ctx := context.Background()

	_, err := s.GetComputedVisibilities(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	rows := []model.ComputedVisibility{
		{ComicID: 1, CountryCode: "US", CustomerSegmentID: 100, ComputedAt: now},
		{ComicID: 1, CountryCode: "US", CustomerSegmentID: 101, ComputedAt: now},
		{ComicID: 2, CountryCode: "US", CustomerSegmentID: 100, ComputedAt: now},
	}
	require.NoError(t, s.SaveComputedVisibilities(ctx, []int64{1, 2}, rows))

	got, err := s.GetComputedVisibilities(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// a newer computation replaces the previous one
	require.NoError(t, s.SaveComputedVisibilities(ctx, []int64{1}, rows[:1]))
	got, err = s.GetComputedVisibilities(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.GetComputedVisibilities(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// a computation without rows clears the comic
	require.NoError(t, s.SaveComputedVisibilities(ctx, []int64{2}, nil))
	got, err = s.GetComputedVisibilities(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, s.Ping(ctx))
}
