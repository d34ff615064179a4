package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// SourceRepository handles database operations for crawl sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

const sourceColumns = `id, name, base_url, parser_config, enabled, crawl_interval,
	robots_allowed, crawl_delay, sitemap_url, sitemap_checked_at,
	success_count, failure_count, discovery_method, last_crawled_at,
	created_at, updated_at`

// Create inserts a new crawl source.
func (r *SourceRepository) Create(ctx context.Context, source *domain.CrawlSource) error {
	query := `
		INSERT INTO crawl_sources (id, name, base_url, parser_config, enabled,
			crawl_interval, discovery_method, sitemap_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		source.ID,
		source.Name,
		source.BaseURL,
		source.ParserConfig,
		source.Enabled,
		source.CrawlInterval,
		source.DiscoveryMethod,
		source.SitemapURL,
	).Scan(&source.CreatedAt, &source.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	return nil
}

// GetByID retrieves a crawl source by its ID.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.CrawlSource, error) {
	var source domain.CrawlSource
	query := `SELECT ` + sourceColumns + ` FROM crawl_sources WHERE id = $1`

	err := r.db.GetContext(ctx, &source, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get source: %w", err)
	}

	return &source, nil
}

// List retrieves crawl sources, optionally restricted to enabled ones.
func (r *SourceRepository) List(ctx context.Context, enabledOnly bool) ([]*domain.CrawlSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM crawl_sources`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY name ASC`

	var sources []*domain.CrawlSource
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	if sources == nil {
		sources = []*domain.CrawlSource{}
	}

	return sources, nil
}

// UpdateCrawlStats bumps the cumulative success/failure counters and
// records the crawl time.
func (r *SourceRepository) UpdateCrawlStats(ctx context.Context, id string, succeeded, failed int) error {
	query := `
		UPDATE crawl_sources
		SET success_count = success_count + $1,
		    failure_count = failure_count + $2,
		    last_crawled_at = now(),
		    updated_at = now()
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, succeeded, failed, id); err != nil {
		return fmt.Errorf("update source crawl stats: %w", err)
	}

	return nil
}

// UpdateRobots records the result of a robots.txt probe.
func (r *SourceRepository) UpdateRobots(ctx context.Context, id string, allowed bool, crawlDelay int) error {
	query := `
		UPDATE crawl_sources
		SET robots_allowed = $1, crawl_delay = $2, updated_at = now()
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, allowed, crawlDelay, id); err != nil {
		return fmt.Errorf("update source robots: %w", err)
	}

	return nil
}

// UpdateSitemapChecked records a completed sitemap probe.
func (r *SourceRepository) UpdateSitemapChecked(ctx context.Context, id string) error {
	query := `
		UPDATE crawl_sources
		SET sitemap_checked_at = now(), updated_at = now()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("update source sitemap checked: %w", err)
	}

	return nil
}
