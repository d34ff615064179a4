package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// ArticleRepository handles database operations for fetched articles.
type ArticleRepository struct {
	db *sqlx.DB
}

// NewArticleRepository creates a new article repository.
func NewArticleRepository(db *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

const articleColumns = `id, source_id, url, url_hash, content_hash, title, content,
	publish_time, status, fetch_status, retry_count, last_retry_at,
	created_at, updated_at`

// Create inserts a fetched article. A url_hash collision maps to
// ErrDuplicate so callers can treat the URL as already crawled.
func (r *ArticleRepository) Create(ctx context.Context, article *domain.Article) error {
	query := `
		INSERT INTO articles (id, source_id, url, url_hash, content_hash, title,
			content, publish_time, status, fetch_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		article.ID,
		article.SourceID,
		article.URL,
		article.URLHash,
		article.ContentHash,
		article.Title,
		article.Content,
		article.PublishTime,
		article.Status,
		article.FetchStatus,
	).Scan(&article.CreatedAt, &article.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("article url_hash %s: %w", article.URLHash, ErrDuplicate)
		}
		return fmt.Errorf("create article: %w", err)
	}

	return nil
}

// GetByURLHash retrieves an article by its URL hash.
func (r *ArticleRepository) GetByURLHash(ctx context.Context, urlHash string) (*domain.Article, error) {
	var article domain.Article
	query := `SELECT ` + articleColumns + ` FROM articles WHERE url_hash = $1`

	err := r.db.GetContext(ctx, &article, query, urlHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("article %s: %w", urlHash, ErrNotFound)
		}
		return nil, fmt.Errorf("get article: %w", err)
	}

	return &article, nil
}

// ListByTimeRange returns articles published inside [start, end],
// optionally restricted to those matching any of the given keywords in
// title or content.
func (r *ArticleRepository) ListByTimeRange(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles
		WHERE publish_time >= $1 AND publish_time <= $2
	`
	args := []any{start, end}

	if len(keywords) > 0 {
		patterns := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			patterns = append(patterns, "%"+kw+"%")
		}
		args = append(args, pq.Array(patterns))
		query += fmt.Sprintf(" AND (title ILIKE ANY($%d) OR content ILIKE ANY($%d))", len(args), len(args))
	}

	query += ` ORDER BY publish_time ASC`

	var articles []*domain.Article
	if err := r.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("list articles by time range: %w", err)
	}

	if articles == nil {
		articles = []*domain.Article{}
	}

	return articles, nil
}

// RecordFetchFailure bumps retry_count and marks the fetch status of an
// existing article after a failed re-fetch.
func (r *ArticleRepository) RecordFetchFailure(ctx context.Context, urlHash string) error {
	query := `
		UPDATE articles
		SET fetch_status = $1, retry_count = retry_count + 1,
		    last_retry_at = now(), updated_at = now()
		WHERE url_hash = $2
	`

	if _, err := r.db.ExecContext(ctx, query, domain.FetchStatusRetry, urlHash); err != nil {
		return fmt.Errorf("record fetch failure: %w", err)
	}

	return nil
}
