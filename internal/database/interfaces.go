package database

import (
	"context"
	"time"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// TaskRepositoryInterface defines task persistence operations.
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, status, taskType string, limit, offset int) ([]*domain.Task, error)
	Count(ctx context.Context, status, taskType string) (int, error)
	CountsByStatus(ctx context.Context) (*domain.TaskStatusCounts, error)
	Update(ctx context.Context, task *domain.Task) error
	// ClaimStatus transitions a task from one status to another only if it
	// is still in the expected status. Returns false when another caller
	// transitioned it first.
	ClaimStatus(ctx context.Context, id string, from, to domain.TaskStatus) (bool, error)
}

// TaskEventRepositoryInterface defines append-only event log operations.
type TaskEventRepositoryInterface interface {
	// Append inserts an event and fills its ID and CreatedAt.
	Append(ctx context.Context, event *domain.TaskEvent) error
	// ListByTask returns events for a task with id > afterID, insertion
	// order, up to limit (0 means no limit).
	ListByTask(ctx context.Context, taskID string, afterID int64, limit int) ([]*domain.TaskEvent, error)
}

// SourceRepositoryInterface defines crawl source persistence operations.
type SourceRepositoryInterface interface {
	Create(ctx context.Context, source *domain.CrawlSource) error
	GetByID(ctx context.Context, id string) (*domain.CrawlSource, error)
	List(ctx context.Context, enabledOnly bool) ([]*domain.CrawlSource, error)
	UpdateCrawlStats(ctx context.Context, id string, succeeded, failed int) error
	UpdateRobots(ctx context.Context, id string, allowed bool, crawlDelay int) error
	UpdateSitemapChecked(ctx context.Context, id string) error
}

// PendingRepositoryInterface defines crawl queue persistence operations.
type PendingRepositoryInterface interface {
	// Insert adds a discovered URL, ignoring (source_id, url_hash)
	// duplicates. Returns true when a new row was inserted.
	Insert(ctx context.Context, pending *domain.PendingArticle) (bool, error)
	// ListByStatus returns rows for a source in the given status,
	// oldest first.
	ListByStatus(ctx context.Context, sourceID string, status domain.PendingStatus, limit int) ([]*domain.PendingArticle, error)
	// Claim transitions a row between statuses only if it is still in the
	// expected status; the transition is the lock.
	Claim(ctx context.Context, id string, from, to domain.PendingStatus) (bool, error)
	// MarkStatus sets the terminal-or-retry status and retry count of a row.
	MarkStatus(ctx context.Context, id string, status domain.PendingStatus, retryCount int) error
}

// ArticleRepositoryInterface defines article persistence operations.
type ArticleRepositoryInterface interface {
	Create(ctx context.Context, article *domain.Article) error
	GetByURLHash(ctx context.Context, urlHash string) (*domain.Article, error)
	ListByTimeRange(ctx context.Context, start, end time.Time, keywords []string) ([]*domain.Article, error)
	// RecordFetchFailure bumps retry_count and fetch_status on an
	// existing article after a failed re-fetch.
	RecordFetchFailure(ctx context.Context, urlHash string) error
}

// ReportRepositoryInterface defines report persistence operations.
type ReportRepositoryInterface interface {
	Create(ctx context.Context, report *domain.Report) error
	GetByID(ctx context.Context, id string) (*domain.Report, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Report, error)
	Delete(ctx context.Context, id string) error
	// UpdateStage advances the persisted pipeline stage.
	UpdateStage(ctx context.Context, id string, stage domain.ReportStage, progress int, message string) error
	SetKeywords(ctx context.Context, id string, keywords []string) error
	SetArticleStats(ctx context.Context, id string, total, clustered int) error
	SetEvents(ctx context.Context, id string, events domain.ReportEvents) error
	// AppendSection appends one completed section; sections only grow.
	AppendSection(ctx context.Context, id string, section domain.ReportSection) error
	// CompleteMerge finalizes the report from its persisted sections.
	CompleteMerge(ctx context.Context, id, content string) error
	Fail(ctx context.Context, id, errorMessage string) error
	GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error)
	DefaultTemplate(ctx context.Context) (*domain.ReportTemplate, error)
}
