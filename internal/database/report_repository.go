package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// ReportRepository handles database operations for reports and templates.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new report repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, title, time_range_start, time_range_end, template_id,
	custom_prompt, keywords, language, max_events, total_articles,
	clustered_articles, event_count, events, sections, content, status,
	agent_stage, agent_progress, agent_message, error_message,
	created_at, updated_at, completed_at`

// Create inserts a new report row.
func (r *ReportRepository) Create(ctx context.Context, report *domain.Report) error {
	query := `
		INSERT INTO reports (id, title, time_range_start, time_range_end, template_id,
			custom_prompt, language, max_events, status, agent_stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		report.ID,
		report.Title,
		report.TimeRangeStart,
		report.TimeRangeEnd,
		report.TemplateID,
		report.CustomPrompt,
		report.Language,
		report.MaxEvents,
		report.Status,
		report.AgentStage,
	).Scan(&report.CreatedAt, &report.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	return nil
}

// GetByID retrieves a report by its ID, including mid-generation state.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*domain.Report, error) {
	var report domain.Report
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	err := r.db.GetContext(ctx, &report, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}

	return &report, nil
}

// List retrieves reports newest first.
func (r *ReportRepository) List(ctx context.Context, limit, offset int) ([]*domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	var reports []*domain.Report
	if err := r.db.SelectContext(ctx, &reports, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	if reports == nil {
		reports = []*domain.Report{}
	}

	return reports, nil
}

// Delete removes a report.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete report rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("report %s: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateStage advances the persisted pipeline stage.
func (r *ReportRepository) UpdateStage(ctx context.Context, id string, stage domain.ReportStage, progress int, message string) error {
	query := `
		UPDATE reports
		SET agent_stage = $1, agent_progress = $2, agent_message = $3,
		    status = 'generating', updated_at = now()
		WHERE id = $4
	`

	if _, err := r.db.ExecContext(ctx, query, stage, progress, message, id); err != nil {
		return fmt.Errorf("update report stage: %w", err)
	}

	return nil
}

// SetKeywords persists derived keywords; visible to clients before later
// stages finish.
func (r *ReportRepository) SetKeywords(ctx context.Context, id string, keywords []string) error {
	query := `UPDATE reports SET keywords = $1, updated_at = now() WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, domain.StringList(keywords), id); err != nil {
		return fmt.Errorf("set report keywords: %w", err)
	}

	return nil
}

// SetArticleStats records filtering/clustering counts.
func (r *ReportRepository) SetArticleStats(ctx context.Context, id string, total, clustered int) error {
	query := `
		UPDATE reports
		SET total_articles = $1, clustered_articles = $2, updated_at = now()
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, total, clustered, id); err != nil {
		return fmt.Errorf("set report article stats: %w", err)
	}

	return nil
}

// SetEvents records the ranked extracted events.
func (r *ReportRepository) SetEvents(ctx context.Context, id string, events domain.ReportEvents) error {
	query := `
		UPDATE reports
		SET events = $1, event_count = $2, updated_at = now()
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, events, len(events), id); err != nil {
		return fmt.Errorf("set report events: %w", err)
	}

	return nil
}

// AppendSection appends one completed section. The SQL-level append
// keeps section growth monotonic regardless of caller state.
func (r *ReportRepository) AppendSection(ctx context.Context, id string, section domain.ReportSection) error {
	query := `
		UPDATE reports
		SET sections = sections || $1::jsonb, updated_at = now()
		WHERE id = $2
	`

	payload, err := domain.ReportSections{section}.Value()
	if err != nil {
		return fmt.Errorf("encode report section: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, payload, id); err != nil {
		return fmt.Errorf("append report section: %w", err)
	}

	return nil
}

// CompleteMerge finalizes the report from its persisted sections.
func (r *ReportRepository) CompleteMerge(ctx context.Context, id, content string) error {
	query := `
		UPDATE reports
		SET content = $1, status = 'completed', agent_stage = 'completed',
		    agent_progress = 100, agent_message = '', completed_at = now(),
		    updated_at = now()
		WHERE id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, content, id); err != nil {
		return fmt.Errorf("complete report merge: %w", err)
	}

	return nil
}

// Fail marks generation as failed, preserving everything persisted so far.
func (r *ReportRepository) Fail(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE reports
		SET status = 'failed', error_message = $1, updated_at = now()
		WHERE id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, errorMessage, id); err != nil {
		return fmt.Errorf("fail report: %w", err)
	}

	return nil
}

// GetTemplate retrieves a report template by ID.
func (r *ReportRepository) GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error) {
	var tmpl domain.ReportTemplate
	query := `SELECT id, name, sections, created_at FROM report_templates WHERE id = $1`

	err := r.db.GetContext(ctx, &tmpl, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	return &tmpl, nil
}

// DefaultTemplate retrieves the seeded default template.
func (r *ReportRepository) DefaultTemplate(ctx context.Context) (*domain.ReportTemplate, error) {
	var tmpl domain.ReportTemplate
	query := `SELECT id, name, sections, created_at FROM report_templates WHERE name = 'default' LIMIT 1`

	err := r.db.GetContext(ctx, &tmpl, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("default template: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get default template: %w", err)
	}

	return &tmpl, nil
}
