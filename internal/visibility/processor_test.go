package visibility

import (
	"testing"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func days(n int) time.Time {
	return asOf.AddDate(0, 0, n)
}

func ptr[T any](v T) *T { return &v }

func chapters(free, paid int) []model.ChapterData {
	out := make([]model.ChapterData, 0, free+paid)
	for i := 0; i < free+paid; i++ {
		out = append(out, model.ChapterData{
			ID:            int64(i + 1),
			ComicID:       1,
			ChapterNumber: i + 1,
			ReleaseTime:   days(-30 + i),
			IsFree:        i < free,
		})
	}
	return out
}

func geoRule(id int64, codes ...string) model.GeographicRuleData {
	return model.GeographicRuleData{
		ID:               id,
		ComicID:          1,
		CountryCodes:     codes,
		LicenseStartDate: days(-10),
		LicenseEndDate:   days(10),
		LicenseType:      model.LicenseTypeFull,
		IsVisible:        true,
	}
}

func segmentRule(id, segmentID int64) model.CustomerSegmentRuleData {
	return model.CustomerSegmentRuleData{ID: id, ComicID: 1, SegmentID: segmentID, IsVisible: true}
}

func segment(id int64, active bool) model.CustomerSegmentData {
	return model.CustomerSegmentData{ID: id, Name: "segment", IsActive: active}
}

func price(id int64, region string, base string) model.PricingData {
	return model.PricingData{ID: id, ComicID: 1, RegionCode: region, BasePrice: decimal.RequireFromString(base)}
}

func newBatch() *model.ComicBatchData {
	return &model.ComicBatchData{
		ComicID: 1,
		Comic: model.ComicBookData{
			ID:            1,
			Title:         "Night Watch",
			PublisherID:   3,
			GenreID:       4,
			AverageRating: 4.5,
		},
		Chapters:        chapters(2, 3),
		Tags:            []model.TagData{{ComicID: 1, Name: "action"}, {ComicID: 1, Name: "noir"}},
		RegionalPricing: []model.PricingData{price(1, "US", "4.99")},
		GeographicRules: []model.GeographicRuleData{geoRule(1, "US")},
		SegmentRules:    []model.CustomerSegmentRuleData{segmentRule(1, 10)},
		Segments:        []model.CustomerSegmentData{segment(10, true)},
	}
}

func TestEvaluateGeographicVisibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.GeographicRuleData)
		want   bool
	}{
		{"eligible", func(r *model.GeographicRuleData) {}, true},
		{"not visible", func(r *model.GeographicRuleData) { r.IsVisible = false }, false},
		{"expired", func(r *model.GeographicRuleData) { r.LicenseEndDate = days(-1) }, false},
		{"not started", func(r *model.GeographicRuleData) { r.LicenseStartDate = days(1) }, false},
		{"no access", func(r *model.GeographicRuleData) { r.LicenseType = model.LicenseTypeNoAccess }, false},
		{"preview only", func(r *model.GeographicRuleData) { r.LicenseType = model.LicenseTypePreviewOnly }, true},
		{"starts now", func(r *model.GeographicRuleData) { r.LicenseStartDate = asOf }, true},
		{"ends now", func(r *model.GeographicRuleData) { r.LicenseEndDate = asOf }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := geoRule(1, "US")
			tt.mutate(&rule)
			assert.Equal(t, tt.want, EvaluateGeographicVisibility(&rule, asOf))
		})
	}
}

func TestEvaluateSegmentVisibility(t *testing.T) {
	rule := segmentRule(1, 10)
	active := segment(10, true)
	inactive := segment(10, false)

	assert.True(t, EvaluateSegmentVisibility(&rule, &active))
	assert.False(t, EvaluateSegmentVisibility(&rule, &inactive))

	rule.IsVisible = false
	assert.False(t, EvaluateSegmentVisibility(&rule, &active))
}

func TestResolvePricing_FollowsPricingOrder(t *testing.T) {
	pricing := []model.PricingData{price(1, "US", "5.00"), price(2, "UK", "4.00")}

	got := ResolvePricing(pricing, []string{"UK", "US"})
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "US", got.RegionCode)

	assert.Nil(t, ResolvePricing(pricing, []string{"FR"}))
	assert.Nil(t, ResolvePricing(nil, []string{"US"}))
}

func TestCalculateCurrentPrice(t *testing.T) {
	t.Run("base price", func(t *testing.T) {
		p := price(1, "US", "10.00")
		assert.True(t, decimal.RequireFromString("10").Equal(CalculateCurrentPrice(&p, asOf)))
	})

	t.Run("free content", func(t *testing.T) {
		p := price(1, "US", "10.00")
		p.IsFreeContent = true
		assert.True(t, CalculateCurrentPrice(&p, asOf).IsZero())
	})

	t.Run("active discount", func(t *testing.T) {
		p := price(1, "US", "10.00")
		p.DiscountStartDate = ptr(days(-1))
		p.DiscountEndDate = ptr(days(1))
		p.DiscountPercentage = decimal.NewNullDecimal(decimal.NewFromInt(25))
		assert.Equal(t, "7.5", CalculateCurrentPrice(&p, asOf).String())
	})

	t.Run("expired discount", func(t *testing.T) {
		p := price(1, "US", "10.00")
		p.DiscountStartDate = ptr(days(-5))
		p.DiscountEndDate = ptr(days(-1))
		p.DiscountPercentage = decimal.NewNullDecimal(decimal.NewFromInt(25))
		assert.Equal(t, "10", CalculateCurrentPrice(&p, asOf).String())
	})

	t.Run("discount without percentage", func(t *testing.T) {
		p := price(1, "US", "10.00")
		p.DiscountStartDate = ptr(days(-1))
		p.DiscountEndDate = ptr(days(1))
		assert.Equal(t, "10", CalculateCurrentPrice(&p, asOf).String())
	})

	t.Run("discount without end date", func(t *testing.T) {
		p := price(1, "US", "10.00")
		p.DiscountStartDate = ptr(days(-1))
		p.DiscountPercentage = decimal.NewNullDecimal(decimal.NewFromInt(50))
		assert.Equal(t, "10", CalculateCurrentPrice(&p, asOf).String())
	})
}

func TestDetermineContentFlags(t *testing.T) {
	zero := price(1, "US", "0")
	paid := price(1, "US", "2.99")

	t.Run("mixed chapters with zero price are freemium", func(t *testing.T) {
		flags := DetermineContentFlags(model.ContentFlagNone, chapters(3, 2), &zero)
		assert.True(t, flags.Has(model.ContentFlagFreemium))
		assert.False(t, flags.Has(model.ContentFlagFree))
		assert.False(t, flags.Has(model.ContentFlagPremium))
	})

	t.Run("all free with zero price", func(t *testing.T) {
		flags := DetermineContentFlags(model.ContentFlagNone, chapters(4, 0), &zero)
		assert.Equal(t, model.ContentFlagFree, flags)
	})

	t.Run("all free with positive price", func(t *testing.T) {
		flags := DetermineContentFlags(model.ContentFlagNone, chapters(4, 0), &paid)
		assert.Equal(t, model.ContentFlagFree|model.ContentFlagFreemium, flags)
	})

	t.Run("all paid", func(t *testing.T) {
		flags := DetermineContentFlags(model.ContentFlagNone, chapters(0, 3), nil)
		assert.Equal(t, model.ContentFlagPremium, flags)
	})

	t.Run("all paid with positive price", func(t *testing.T) {
		flags := DetermineContentFlags(model.ContentFlagNone, chapters(0, 3), &paid)
		assert.Equal(t, model.ContentFlagPremium|model.ContentFlagFreemium, flags)
	})

	t.Run("keeps rating flags", func(t *testing.T) {
		base := model.ContentFlagViolence | model.ContentFlagGore
		flags := DetermineContentFlags(base, chapters(1, 0), nil)
		assert.Equal(t, base|model.ContentFlagFree, flags)
	})
}

func TestComputeVisibilities_SingleRow(t *testing.T) {
	data := newBatch()
	data.ContentRating = &model.ContentRatingData{
		AgeRating:      model.AgeRatingTeen,
		ContentFlags:   model.ContentFlagViolence,
		ContentWarning: "mild violence",
	}

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, int64(1), row.ComicID)
	assert.Equal(t, "US", row.CountryCode)
	assert.Equal(t, int64(10), row.CustomerSegmentID)
	assert.Equal(t, 2, row.FreeChaptersCount)
	assert.Equal(t, days(-26), row.LastChapterReleaseTime)
	assert.Equal(t, int64(4), row.GenreID)
	assert.Equal(t, int64(3), row.PublisherID)
	assert.Equal(t, 4.5, row.AverageRating)
	assert.Equal(t, "action,noir", row.SearchTags)
	assert.True(t, row.IsVisible)
	assert.Equal(t, asOf, row.ComputedAt)
	assert.Equal(t, model.LicenseTypeFull, row.LicenseType)
	assert.Equal(t, "4.99", row.CurrentPrice.StringFixed(2))
	assert.Equal(t, model.AgeRatingTeen, row.AgeRating)
	assert.Equal(t, model.ContentFlagViolence|model.ContentFlagFreemium, row.ContentFlags)
	assert.Equal(t, "mild violence", row.ContentWarning)
}

func TestComputeVisibilities_DefaultsWithoutRating(t *testing.T) {
	rows, err := ComputeVisibilities(newBatch(), asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, model.AgeRatingAllAges, rows[0].AgeRating)
	assert.Equal(t, "", rows[0].ContentWarning)
}

func TestComputeVisibilities_ExpiredGeoRuleYieldsNothing(t *testing.T) {
	data := newBatch()
	data.GeographicRules[0].LicenseEndDate = days(-1)
	data.SegmentRules = append(data.SegmentRules, segmentRule(2, 11))
	data.Segments = append(data.Segments, segment(11, true))

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestComputeVisibilities_InactiveSegmentYieldsNothingForThatSegment(t *testing.T) {
	data := newBatch()
	data.GeographicRules = append(data.GeographicRules, geoRule(2, "UK"))
	data.SegmentRules = append(data.SegmentRules, segmentRule(2, 11))
	data.Segments = append(data.Segments, segment(11, false))

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, int64(10), row.CustomerSegmentID)
	}
}

func TestComputeVisibilities_UnresolvedSegmentIsSkipped(t *testing.T) {
	data := newBatch()
	data.SegmentRules = append(data.SegmentRules, segmentRule(2, 404))

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].CustomerSegmentID)
}

func TestComputeVisibilities_OrderIsGeoMajorSegmentMinor(t *testing.T) {
	data := newBatch()
	data.GeographicRules = []model.GeographicRuleData{geoRule(1, "US"), geoRule(2, "UK"), geoRule(3, "JP")}
	data.SegmentRules = []model.CustomerSegmentRuleData{segmentRule(1, 10), segmentRule(2, 11)}
	data.Segments = []model.CustomerSegmentData{segment(11, true), segment(10, true)}

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	type pair struct {
		country string
		segment int64
	}
	got := make([]pair, len(rows))
	for i, row := range rows {
		got[i] = pair{row.CountryCode, row.CustomerSegmentID}
	}
	assert.Equal(t, []pair{
		{"US", 10}, {"US", 11},
		{"UK", 10}, {"UK", 11},
		{"JP", 10}, {"JP", 11},
	}, got)
}

func TestComputeVisibilities_PriceTieBreakUsesPricingOrder(t *testing.T) {
	data := newBatch()
	data.RegionalPricing = []model.PricingData{price(1, "US", "5.00"), price(2, "UK", "4.00")}
	data.GeographicRules = []model.GeographicRuleData{geoRule(1, "UK", "US")}

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// country code comes from the rule, price from the first matching pricing record
	assert.Equal(t, "UK", rows[0].CountryCode)
	assert.Equal(t, "5.00", rows[0].CurrentPrice.StringFixed(2))
}

func TestComputeVisibilities_NoMatchingPrice(t *testing.T) {
	data := newBatch()
	data.RegionalPricing = []model.PricingData{price(1, "FR", "5.00")}
	data.RegionalPricing[0].IsPremiumContent = true
	data.Chapters = chapters(3, 2)

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.True(t, rows[0].CurrentPrice.IsZero())
	assert.False(t, rows[0].IsFreeContent)
	assert.False(t, rows[0].IsPremiumContent)
	assert.True(t, rows[0].ContentFlags.Has(model.ContentFlagFreemium))
}

func TestComputeVisibilities_FreeComic(t *testing.T) {
	data := newBatch()
	data.Chapters = chapters(5, 0)
	data.RegionalPricing = []model.PricingData{price(1, "US", "0")}
	data.RegionalPricing[0].IsFreeContent = true

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.True(t, rows[0].IsFreeContent)
	assert.True(t, rows[0].CurrentPrice.IsZero())
	assert.True(t, rows[0].ContentFlags.Has(model.ContentFlagFree))
	assert.False(t, rows[0].ContentFlags.Has(model.ContentFlagPremium))
	assert.False(t, rows[0].ContentFlags.Has(model.ContentFlagFreemium))
}

func TestComputeVisibilities_EmptyCountryCodes(t *testing.T) {
	data := newBatch()
	data.GeographicRules = []model.GeographicRuleData{geoRule(1)}

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].CountryCode)
	assert.True(t, rows[0].CurrentPrice.IsZero())
}

func TestComputeVisibilities_NoRules(t *testing.T) {
	data := newBatch()
	data.GeographicRules = nil

	rows, err := ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	assert.Empty(t, rows)

	data = newBatch()
	data.SegmentRules = nil

	rows, err = ComputeVisibilities(data, asOf)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestComputeVisibilities_NoChapters(t *testing.T) {
	data := newBatch()
	data.Chapters = nil

	rows, err := ComputeVisibilities(data, asOf)
	assert.ErrorIs(t, err, ErrEmptySubject)
	assert.Nil(t, rows)
}
