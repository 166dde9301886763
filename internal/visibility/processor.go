// Package visibility evaluates the geographic, segment, pricing and content
// rules of a comic and produces one visibility row per eligible
// (geographic rule, segment rule) pair. Every function here is pure.
package visibility

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/shopspring/decimal"
)

// ErrEmptySubject is returned for a comic that has no chapters
var ErrEmptySubject = errors.New("comic has no chapters")

var hundred = decimal.NewFromInt(100)

// ComputationError is a failure to compute the visibilities of one comic
type ComputationError struct {
	ComicID int64
	Err     error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("comic %d: %v", e.ComicID, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// EvaluateGeographicVisibility reports whether rule grants visibility at asOf.
// The license window is inclusive on both ends.
func EvaluateGeographicVisibility(rule *model.GeographicRuleData, asOf time.Time) bool {
	return rule.IsVisible &&
		!asOf.Before(rule.LicenseStartDate) &&
		!asOf.After(rule.LicenseEndDate) &&
		rule.LicenseType != model.LicenseTypeNoAccess
}

// EvaluateSegmentVisibility reports whether rule grants visibility to segment
func EvaluateSegmentVisibility(rule *model.CustomerSegmentRuleData, segment *model.CustomerSegmentData) bool {
	return rule.IsVisible && segment.IsActive
}

// ResolvePricing returns the first pricing record, in pricing order, whose
// region is one of countryCodes. It returns nil when nothing matches.
//
// The first record wins even when several regions of the rule are priced.
func ResolvePricing(pricing []model.PricingData, countryCodes []string) *model.PricingData {
	for i := range pricing {
		if slices.Contains(countryCodes, pricing[i].RegionCode) {
			return &pricing[i]
		}
	}
	return nil
}

// CalculateCurrentPrice returns the price of pricing at asOf, applying the
// discount when its window is open and a percentage is set
func CalculateCurrentPrice(pricing *model.PricingData, asOf time.Time) decimal.Decimal {
	if pricing.IsFreeContent {
		return decimal.Zero
	}

	if pricing.DiscountStartDate != nil &&
		pricing.DiscountEndDate != nil &&
		!asOf.Before(*pricing.DiscountStartDate) &&
		!asOf.After(*pricing.DiscountEndDate) &&
		pricing.DiscountPercentage.Valid {
		factor := decimal.NewFromInt(1).Sub(pricing.DiscountPercentage.Decimal.Div(hundred))
		return pricing.BasePrice.Mul(factor)
	}

	return pricing.BasePrice
}

// DetermineContentFlags adds the Free, Premium and Freemium flags derived
// from the chapters and the resolved pricing to base. Freemium is set when
// chapters are mixed or when the base price is positive.
func DetermineContentFlags(base model.ContentFlag, chapters []model.ChapterData, pricing *model.PricingData) model.ContentFlag {
	flags := base
	if len(chapters) == 0 {
		return flags
	}

	free := countFreeChapters(chapters)
	paid := len(chapters) - free

	if free == len(chapters) {
		flags |= model.ContentFlagFree
	}
	if free == 0 {
		flags |= model.ContentFlagPremium
	}
	if (free > 0 && paid > 0) || (pricing != nil && pricing.BasePrice.IsPositive()) {
		flags |= model.ContentFlagFreemium
	}

	return flags
}

// aggregates are computed once per comic and shared by every row
type aggregates struct {
	freeChapters   int
	lastReleasedAt time.Time
	searchTags     string
}

func computeAggregates(data *model.ComicBatchData) aggregates {
	last := data.Chapters[0].ReleaseTime
	for _, ch := range data.Chapters[1:] {
		if ch.ReleaseTime.After(last) {
			last = ch.ReleaseTime
		}
	}

	names := make([]string, len(data.Tags))
	for i, tag := range data.Tags {
		names[i] = tag.Name
	}

	return aggregates{
		freeChapters:   countFreeChapters(data.Chapters),
		lastReleasedAt: last,
		searchTags:     strings.Join(names, ","),
	}
}

func countFreeChapters(chapters []model.ChapterData) int {
	n := 0
	for _, ch := range chapters {
		if ch.IsFree {
			n++
		}
	}
	return n
}

// ComputeVisibilities returns the visibility rows of one comic at asOf, in
// geographic-rule-major, segment-rule-minor order. A comic without
// geographic or segment rules yields no rows and no error.
func ComputeVisibilities(data *model.ComicBatchData, asOf time.Time) ([]model.ComputedVisibility, error) {
	if len(data.Chapters) == 0 {
		return nil, ErrEmptySubject
	}

	agg := computeAggregates(data)

	baseFlags := model.ContentFlagNone
	ageRating := model.AgeRatingAllAges
	contentWarning := ""
	if rating := data.ContentRating; rating != nil {
		baseFlags = rating.ContentFlags
		ageRating = rating.AgeRating
		contentWarning = rating.ContentWarning
	}

	results := make([]model.ComputedVisibility, 0)
	for gi := range data.GeographicRules {
		geo := &data.GeographicRules[gi]
		if !EvaluateGeographicVisibility(geo, asOf) {
			continue
		}

		countryCode := ""
		if len(geo.CountryCodes) > 0 {
			countryCode = geo.CountryCodes[0]
		}

		for si := range data.SegmentRules {
			rule := &data.SegmentRules[si]

			segment, ok := data.Segment(rule.SegmentID)
			if !ok || !EvaluateSegmentVisibility(rule, &segment) {
				continue
			}

			pricing := ResolvePricing(data.RegionalPricing, geo.CountryCodes)

			price := decimal.Zero
			isFree, isPremium := false, false
			if pricing != nil {
				price = CalculateCurrentPrice(pricing, asOf)
				isFree = pricing.IsFreeContent
				isPremium = pricing.IsPremiumContent
			}

			results = append(results, model.ComputedVisibility{
				ComicID:                data.ComicID,
				CountryCode:            countryCode,
				CustomerSegmentID:      rule.SegmentID,
				FreeChaptersCount:      agg.freeChapters,
				LastChapterReleaseTime: agg.lastReleasedAt,
				GenreID:                data.Comic.GenreID,
				PublisherID:            data.Comic.PublisherID,
				AverageRating:          data.Comic.AverageRating,
				SearchTags:             agg.searchTags,
				IsVisible:              true,
				ComputedAt:             asOf,
				LicenseType:            geo.LicenseType,
				CurrentPrice:           price,
				IsFreeContent:          isFree,
				IsPremiumContent:       isPremium,
				AgeRating:              ageRating,
				ContentFlags:           DetermineContentFlags(baseFlags, data.Chapters, pricing),
				ContentWarning:         contentWarning,
			})
		}
	}

	return results, nil
}
