package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// PostgresConfig holds the connection settings of PostgresComicStore
type PostgresConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	MaxConnections int
	MinConnections int
}

// PostgresComicStore implements ComicRepository for PostgreSQL
type PostgresComicStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresComicStore connects to PostgreSQL and verifies the connection
func NewPostgresComicStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresComicStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConnections, cfg.MinConnections,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresComicStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Migrate creates the tables if they do not exist
func (s *PostgresComicStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("database schema applied")
	return nil
}

// GetComicIDs returns up to limit comic ids >= startID in ascending order
func (s *PostgresComicStore) GetComicIDs(ctx context.Context, startID int64, limit int) ([]int64, error) {
	query := `
		SELECT id
		FROM comics
		WHERE id >= $1
		ORDER BY id
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, startID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get comic ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan comic ids: %w", err)
	}
	return ids, nil
}

const (
	comicsQuery = `
		SELECT id, title, publisher_id, genre_id, theme_id, total_chapters,
		       last_update_time, average_rating
		FROM comics
		WHERE id = ANY($1)
	`
	chaptersQuery = `
		SELECT id, comic_id, chapter_number, release_time, is_free
		FROM chapters
		WHERE comic_id = ANY($1)
		ORDER BY comic_id, chapter_number
	`
	tagsQuery = `
		SELECT ct.comics_id, t.name
		FROM comic_tags ct
		JOIN tags t ON t.id = ct.tags_id
		WHERE ct.comics_id = ANY($1)
		ORDER BY ct.comics_id, t.id
	`
	contentRatingsQuery = `
		SELECT id, comic_id, age_rating, content_flags, content_warning,
		       requires_parental_guidance
		FROM content_ratings
		WHERE comic_id = ANY($1)
	`
	pricingQuery = `
		SELECT id, comic_id, region_code, base_price::text, is_free_content,
		       is_premium_content, discount_start_date, discount_end_date,
		       discount_percentage::text
		FROM comic_pricings
		WHERE comic_id = ANY($1)
		ORDER BY comic_id, id
	`
	geographicRulesQuery = `
		SELECT id, comic_id, country_codes, license_start_date, license_end_date,
		       license_type, is_visible, last_updated
		FROM geographic_rules
		WHERE comic_id = ANY($1)
		ORDER BY comic_id, id
	`
	segmentRulesQuery = `
		SELECT csr.id, csr.comic_id, csr.segment_id, csr.is_visible, csr.last_updated,
		       cs.id, cs.name, cs.is_premium, cs.is_active
		FROM customer_segment_rules csr
		LEFT JOIN customer_segments cs ON cs.id = csr.segment_id
		WHERE csr.comic_id = ANY($1)
		ORDER BY csr.comic_id, csr.id
	`
)

// GetComicBatchData loads every record of the given comics in one round trip
func (s *PostgresComicStore) GetComicBatchData(ctx context.Context, comicIDs []int64) ([]*model.ComicBatchData, error) {
	if len(comicIDs) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, query := range []string{
		comicsQuery, chaptersQuery, tagsQuery, contentRatingsQuery,
		pricingQuery, geographicRulesQuery, segmentRulesQuery,
	} {
		batch.Queue(query, comicIDs)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	byID := make(map[int64]*model.ComicBatchData, len(comicIDs))

	if err := eachRow(br, "comics", func(row pgx.Rows) error {
		var c model.ComicBookData
		if err := row.Scan(&c.ID, &c.Title, &c.PublisherID, &c.GenreID, &c.ThemeID,
			&c.TotalChapters, &c.LastUpdateTime, &c.AverageRating); err != nil {
			return err
		}
		byID[c.ID] = &model.ComicBatchData{ComicID: c.ID, Comic: c}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "chapters", func(row pgx.Rows) error {
		var ch model.ChapterData
		if err := row.Scan(&ch.ID, &ch.ComicID, &ch.ChapterNumber, &ch.ReleaseTime, &ch.IsFree); err != nil {
			return err
		}
		if data, ok := byID[ch.ComicID]; ok {
			data.Chapters = append(data.Chapters, ch)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "tags", func(row pgx.Rows) error {
		var tag model.TagData
		if err := row.Scan(&tag.ComicID, &tag.Name); err != nil {
			return err
		}
		if data, ok := byID[tag.ComicID]; ok {
			data.Tags = append(data.Tags, tag)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "content ratings", func(row pgx.Rows) error {
		var (
			cr        model.ContentRatingData
			ageRating int32
			flags     int64
		)
		if err := row.Scan(&cr.ID, &cr.ComicID, &ageRating, &flags, &cr.ContentWarning,
			&cr.RequiresParentalGuidance); err != nil {
			return err
		}
		cr.AgeRating = model.AgeRating(ageRating)
		cr.ContentFlags = model.ContentFlag(flags)
		if data, ok := byID[cr.ComicID]; ok {
			data.ContentRating = &cr
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "pricing", func(row pgx.Rows) error {
		var (
			p        model.PricingData
			base     string
			discount *string
		)
		if err := row.Scan(&p.ID, &p.ComicID, &p.RegionCode, &base, &p.IsFreeContent,
			&p.IsPremiumContent, &p.DiscountStartDate, &p.DiscountEndDate, &discount); err != nil {
			return err
		}
		var err error
		if p.BasePrice, err = decimal.NewFromString(base); err != nil {
			return fmt.Errorf("invalid base price %q: %w", base, err)
		}
		if discount != nil {
			pct, err := decimal.NewFromString(*discount)
			if err != nil {
				return fmt.Errorf("invalid discount percentage %q: %w", *discount, err)
			}
			p.DiscountPercentage = decimal.NewNullDecimal(pct)
		}
		if data, ok := byID[p.ComicID]; ok {
			data.RegionalPricing = append(data.RegionalPricing, p)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "geographic rules", func(row pgx.Rows) error {
		var (
			g           model.GeographicRuleData
			licenseType int32
		)
		if err := row.Scan(&g.ID, &g.ComicID, &g.CountryCodes, &g.LicenseStartDate, &g.LicenseEndDate,
			&licenseType, &g.IsVisible, &g.LastUpdated); err != nil {
			return err
		}
		g.LicenseType = model.LicenseType(licenseType)
		if data, ok := byID[g.ComicID]; ok {
			data.GeographicRules = append(data.GeographicRules, g)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(br, "segment rules", func(row pgx.Rows) error {
		var (
			r         model.CustomerSegmentRuleData
			segID     *int64
			segName   *string
			isPremium *bool
			isActive  *bool
		)
		if err := row.Scan(&r.ID, &r.ComicID, &r.SegmentID, &r.IsVisible, &r.LastUpdated,
			&segID, &segName, &isPremium, &isActive); err != nil {
			return err
		}
		data, ok := byID[r.ComicID]
		if !ok {
			return nil
		}
		data.SegmentRules = append(data.SegmentRules, r)
		if segID != nil {
			if _, seen := data.Segment(*segID); !seen {
				data.Segments = append(data.Segments, model.CustomerSegmentData{
					ID:        *segID,
					Name:      deref(segName),
					IsPremium: deref(isPremium),
					IsActive:  deref(isActive),
				})
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	result := make([]*model.ComicBatchData, 0, len(byID))
	for _, id := range comicIDs {
		if data, ok := byID[id]; ok {
			result = append(result, data)
		}
	}

	s.logger.Debug("loaded comic batch data",
		zap.Int("requested", len(comicIDs)),
		zap.Int("found", len(result)),
	)

	return result, nil
}

func eachRow(br pgx.BatchResults, name string, fn func(pgx.Rows) error) error {
	rows, err := br.Query()
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("failed to scan %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	return nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// SaveComputedVisibilities replaces the rows of every comic in comicIDs in a
// single transaction
func (s *PostgresComicStore) SaveComputedVisibilities(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	grouped := groupByComic(comicIDs, visibilities)
	if len(grouped) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}

	query := `
		INSERT INTO computed_visibilities (
			comic_id, country_code, customer_segment_id, free_chapters_count,
			last_chapter_release_time, genre_id, publisher_id, average_rating,
			search_tags, is_visible, computed_at, license_type, current_price,
			is_free_content, is_premium_content, age_rating, content_flags,
			content_warning
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::numeric, $14, $15, $16, $17, $18)
	`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM computed_visibilities WHERE comic_id = ANY($1)`, ids)
		for _, v := range visibilities {
			batch.Queue(query,
				v.ComicID,
				v.CountryCode,
				v.CustomerSegmentID,
				v.FreeChaptersCount,
				v.LastChapterReleaseTime,
				v.GenreID,
				v.PublisherID,
				v.AverageRating,
				v.SearchTags,
				v.IsVisible,
				v.ComputedAt,
				int32(v.LicenseType),
				v.CurrentPrice.String(),
				v.IsFreeContent,
				v.IsPremiumContent,
				int32(v.AgeRating),
				int64(v.ContentFlags),
				v.ContentWarning,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save computed visibilities: %w", err)
	}

	s.logger.Debug("saved computed visibilities",
		zap.Int("comics", len(ids)),
		zap.Int("rows", len(visibilities)),
	)
	return nil
}

// GetComputedVisibilities returns the rows of the latest computation of a comic
func (s *PostgresComicStore) GetComputedVisibilities(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	query := `
		SELECT comic_id, country_code, customer_segment_id, free_chapters_count,
		       last_chapter_release_time, genre_id, publisher_id, average_rating,
		       search_tags, is_visible, computed_at, license_type, current_price::text,
		       is_free_content, is_premium_content, age_rating, content_flags,
		       content_warning
		FROM computed_visibilities
		WHERE comic_id = $1
		  AND computed_at = (SELECT max(computed_at) FROM computed_visibilities WHERE comic_id = $1)
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, comicID)
	if err != nil {
		return nil, fmt.Errorf("failed to get computed visibilities: %w", err)
	}
	defer rows.Close()

	result := make([]model.ComputedVisibility, 0)
	for rows.Next() {
		var (
			v           model.ComputedVisibility
			licenseType int32
			ageRating   int32
			flags       int64
			price       string
		)
		if err := rows.Scan(&v.ComicID, &v.CountryCode, &v.CustomerSegmentID, &v.FreeChaptersCount,
			&v.LastChapterReleaseTime, &v.GenreID, &v.PublisherID, &v.AverageRating,
			&v.SearchTags, &v.IsVisible, &v.ComputedAt, &licenseType, &price,
			&v.IsFreeContent, &v.IsPremiumContent, &ageRating, &flags,
			&v.ContentWarning); err != nil {
			return nil, fmt.Errorf("failed to scan computed visibility: %w", err)
		}
		if v.CurrentPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid current price %q: %w", price, err)
		}
		v.LicenseType = model.LicenseType(licenseType)
		v.AgeRating = model.AgeRating(ageRating)
		v.ContentFlags = model.ContentFlag(flags)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read computed visibilities: %w", err)
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Ping checks the database connection
func (s *PostgresComicStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresComicStore) Close() {
	s.pool.Close()
}
