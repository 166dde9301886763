package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComicBookData is the header record of a comic
type ComicBookData struct {
	ID             int64     `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	PublisherID    int64     `json:"publisher_id" yaml:"publisher_id"`
	GenreID        int64     `json:"genre_id" yaml:"genre_id"`
	ThemeID        int64     `json:"theme_id" yaml:"theme_id"`
	TotalChapters  int       `json:"total_chapters" yaml:"total_chapters"`
	LastUpdateTime time.Time `json:"last_update_time" yaml:"last_update_time"`
	AverageRating  float64   `json:"average_rating" yaml:"average_rating"`
}

// ChapterData is a single released chapter of a comic
type ChapterData struct {
	ID            int64     `json:"id" yaml:"id"`
	ComicID       int64     `json:"comic_id" yaml:"comic_id"`
	ChapterNumber int       `json:"chapter_number" yaml:"chapter_number"`
	ReleaseTime   time.Time `json:"release_time" yaml:"release_time"`
	IsFree        bool      `json:"is_free" yaml:"is_free"`
}

// TagData is a search tag attached to a comic
type TagData struct {
	ComicID int64  `json:"comic_id" yaml:"comic_id"`
	Name    string `json:"name" yaml:"name"`
}

// ContentRatingData holds the age rating and content flags of a comic
type ContentRatingData struct {
	ID                       int64       `json:"id" yaml:"id"`
	ComicID                  int64       `json:"comic_id" yaml:"comic_id"`
	AgeRating                AgeRating   `json:"age_rating" yaml:"age_rating"`
	ContentFlags             ContentFlag `json:"content_flags" yaml:"content_flags"`
	ContentWarning           string      `json:"content_warning" yaml:"content_warning"`
	RequiresParentalGuidance bool        `json:"requires_parental_guidance" yaml:"requires_parental_guidance"`
}

// PricingData is the price of a comic in one region
type PricingData struct {
	ID                 int64               `json:"id" yaml:"id"`
	ComicID            int64               `json:"comic_id" yaml:"comic_id"`
	RegionCode         string              `json:"region_code" yaml:"region_code"`
	BasePrice          decimal.Decimal     `json:"base_price" yaml:"base_price"`
	IsFreeContent      bool                `json:"is_free_content" yaml:"is_free_content"`
	IsPremiumContent   bool                `json:"is_premium_content" yaml:"is_premium_content"`
	DiscountStartDate  *time.Time          `json:"discount_start_date,omitempty" yaml:"discount_start_date"`
	DiscountEndDate    *time.Time          `json:"discount_end_date,omitempty" yaml:"discount_end_date"`
	DiscountPercentage decimal.NullDecimal `json:"discount_percentage" yaml:"discount_percentage"`
}

// GeographicRuleData controls whether a comic is offered in a set of countries
type GeographicRuleData struct {
	ID               int64       `json:"id" yaml:"id"`
	ComicID          int64       `json:"comic_id" yaml:"comic_id"`
	CountryCodes     []string    `json:"country_codes" yaml:"country_codes"`
	LicenseStartDate time.Time   `json:"license_start_date" yaml:"license_start_date"`
	LicenseEndDate   time.Time   `json:"license_end_date" yaml:"license_end_date"`
	LicenseType      LicenseType `json:"license_type" yaml:"license_type"`
	IsVisible        bool        `json:"is_visible" yaml:"is_visible"`
	LastUpdated      time.Time   `json:"last_updated" yaml:"last_updated"`
}

// CustomerSegmentRuleData scopes a comic to an audience segment
type CustomerSegmentRuleData struct {
	ID          int64     `json:"id" yaml:"id"`
	ComicID     int64     `json:"comic_id" yaml:"comic_id"`
	SegmentID   int64     `json:"segment_id" yaml:"segment_id"`
	IsVisible   bool      `json:"is_visible" yaml:"is_visible"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// CustomerSegmentData is the resolved metadata of an audience segment
type CustomerSegmentData struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	IsPremium bool   `json:"is_premium" yaml:"is_premium"`
	IsActive  bool   `json:"is_active" yaml:"is_active"`
}

// ComicBatchData is a read-only snapshot of everything needed to compute
// the visibilities of one comic. Every slice is keyed by ComicID.
type ComicBatchData struct {
	ComicID         int64
	Comic           ComicBookData
	Chapters        []ChapterData
	Tags            []TagData
	ContentRating   *ContentRatingData
	RegionalPricing []PricingData
	GeographicRules []GeographicRuleData
	SegmentRules    []CustomerSegmentRuleData
	Segments        []CustomerSegmentData
}

// Segment returns the resolved segment with the given id
func (b *ComicBatchData) Segment(id int64) (CustomerSegmentData, bool) {
	for _, s := range b.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return CustomerSegmentData{}, false
}

// ComputedVisibility is one (country, segment) visibility row of a comic
type ComputedVisibility struct {
	ComicID                int64           `json:"comic_id"`
	CountryCode            string          `json:"country_code"`
	CustomerSegmentID      int64           `json:"customer_segment_id"`
	FreeChaptersCount      int             `json:"free_chapters_count"`
	LastChapterReleaseTime time.Time       `json:"last_chapter_release_time"`
	GenreID                int64           `json:"genre_id"`
	PublisherID            int64           `json:"publisher_id"`
	AverageRating          float64         `json:"average_rating"`
	SearchTags             string          `json:"search_tags"`
	IsVisible              bool            `json:"is_visible"`
	ComputedAt             time.Time       `json:"computed_at"`
	LicenseType            LicenseType     `json:"license_type"`
	CurrentPrice           decimal.Decimal `json:"current_price"`
	IsFreeContent          bool            `json:"is_free_content"`
	IsPremiumContent       bool            `json:"is_premium_content"`
	AgeRating              AgeRating       `json:"age_rating"`
	ContentFlags           ContentFlag     `json:"content_flags"`
	ContentWarning         string          `json:"content_warning"`
}
