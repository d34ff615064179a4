package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// PendingRepository handles database operations for the crawl queue.
type PendingRepository struct {
	db *sqlx.DB
}

// NewPendingRepository creates a new pending article repository.
func NewPendingRepository(db *sqlx.DB) *PendingRepository {
	return &PendingRepository{db: db}
}

// Insert adds a discovered URL to the queue. Duplicate (source_id,
// url_hash) rows are ignored; returns true when a new row was inserted.
func (r *PendingRepository) Insert(ctx context.Context, pending *domain.PendingArticle) (bool, error) {
	query := `
		INSERT INTO pending_articles (id, source_id, sitemap_id, url, url_hash, title, publish_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (source_id, url_hash) DO NOTHING
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		pending.ID,
		pending.SourceID,
		pending.SitemapID,
		pending.URL,
		pending.URLHash,
		pending.Title,
		pending.PublishTime,
	)
	if err != nil {
		return false, fmt.Errorf("insert pending article: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListByStatus returns queue rows for a source in the given status,
// oldest first.
func (r *PendingRepository) ListByStatus(ctx context.Context, sourceID string, status domain.PendingStatus, limit int) ([]*domain.PendingArticle, error) {
	query := `
		SELECT id, source_id, sitemap_id, url, url_hash, title, publish_time,
		       status, retry_count, created_at, updated_at
		FROM pending_articles
		WHERE source_id = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	var rows []*domain.PendingArticle
	if err := r.db.SelectContext(ctx, &rows, query, sourceID, status, limit); err != nil {
		return nil, fmt.Errorf("list pending articles: %w", err)
	}

	if rows == nil {
		rows = []*domain.PendingArticle{}
	}

	return rows, nil
}

// Claim transitions a queue row between statuses only if it is still in
// the expected status. The transition itself is the lock: two concurrent
// batch runs cannot double-claim a row.
func (r *PendingRepository) Claim(ctx context.Context, id string, from, to domain.PendingStatus) (bool, error) {
	query := `
		UPDATE pending_articles
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("claim pending article: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim pending rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkStatus sets the status and retry count of a queue row.
func (r *PendingRepository) MarkStatus(ctx context.Context, id string, status domain.PendingStatus, retryCount int) error {
	query := `
		UPDATE pending_articles
		SET status = $1, retry_count = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, retryCount, id)
	if err != nil {
		return fmt.Errorf("mark pending article: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark pending rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pending article %s: %w", id, ErrNotFound)
	}

	return nil
}
