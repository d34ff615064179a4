package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ReportStatus is the lifecycle status of a generated report.
type ReportStatus string

const (
	ReportStatusDraft      ReportStatus = "draft"
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// ReportStage is one step of the fixed report generation pipeline.
type ReportStage string

const (
	StageInitializing       ReportStage = "initializing"
	StageFilteringArticles  ReportStage = "filtering_articles"
	StageGeneratingKeywords ReportStage = "generating_keywords"
	StageClusteringArticles ReportStage = "clustering_articles"
	StageExtractingEvents   ReportStage = "extracting_events"
	StageGeneratingSections ReportStage = "generating_sections"
	StageMergingReport      ReportStage = "merging_report"
	StageCompleted          ReportStage = "completed"
)

// ReportSection is one completed section of a report. Sections
// accumulate monotonically until the report is completed or failed.
type ReportSection struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	EventCount  int    `json:"event_count"`
}

// ReportSections is a JSONB-persisted ordered list of sections.
type ReportSections []ReportSection

// Scan implements the sql.Scanner interface.
func (s *ReportSections) Scan(value any) error { return scanJSONB(value, s) }

// Value implements the driver.Valuer interface.
func (s ReportSections) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// ReportEvent is one ranked event extracted from clustered articles.
type ReportEvent struct {
	Title        string  `json:"title"`
	Summary      string  `json:"summary"`
	Importance   float64 `json:"importance"`
	ArticleCount int     `json:"article_count"`
}

// ReportEvents is a JSONB-persisted ranked list of extracted events.
type ReportEvents []ReportEvent

// Scan implements the sql.Scanner interface.
func (e *ReportEvents) Scan(value any) error { return scanJSONB(value, e) }

// Value implements the driver.Valuer interface.
func (e ReportEvents) Value() (driver.Value, error) {
	if len(e) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Report is an AI-synthesized situational report. Pipeline state is
// persisted on the row itself so generation survives independently of
// any particular engine instance.
type Report struct {
	ID                string         `db:"id"                 json:"id"`
	Title             string         `db:"title"              json:"title"`
	TimeRangeStart    time.Time      `db:"time_range_start"   json:"time_range_start"`
	TimeRangeEnd      time.Time      `db:"time_range_end"     json:"time_range_end"`
	TemplateID        *string        `db:"template_id"        json:"template_id,omitempty"`
	CustomPrompt      *string        `db:"custom_prompt"      json:"custom_prompt,omitempty"`
	Keywords          StringList     `db:"keywords"           json:"keywords,omitempty"`
	Language          string         `db:"language"           json:"language"`
	MaxEvents         int            `db:"max_events"         json:"max_events"`
	TotalArticles     int            `db:"total_articles"     json:"total_articles"`
	ClusteredArticles int            `db:"clustered_articles" json:"clustered_articles"`
	EventCount        int            `db:"event_count"        json:"event_count"`
	Events            ReportEvents   `db:"events"             json:"events,omitempty"`
	Sections          ReportSections `db:"sections"           json:"sections"`
	Content           string         `db:"content"            json:"content"`
	Status            ReportStatus   `db:"status"             json:"status"`
	AgentStage        ReportStage    `db:"agent_stage"        json:"agent_stage"`
	AgentProgress     int            `db:"agent_progress"     json:"agent_progress"`
	AgentMessage      string         `db:"agent_message"      json:"agent_message"`
	ErrorMessage      *string        `db:"error_message"      json:"error_message,omitempty"`
	CreatedAt         time.Time      `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"         json:"updated_at"`
	CompletedAt       *time.Time     `db:"completed_at"       json:"completed_at,omitempty"`
}

// StringList persists a []string as a JSONB array.
type StringList []string

// Scan implements the sql.Scanner interface.
func (p *StringList) Scan(value any) error { return scanJSONB(value, p) }

// Value implements the driver.Valuer interface.
func (p StringList) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// TemplateSection is one configured section of a report template.
type TemplateSection struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TemplateSections is a JSONB-persisted ordered list of template sections.
type TemplateSections []TemplateSection

// Scan implements the sql.Scanner interface.
func (s *TemplateSections) Scan(value any) error { return scanJSONB(value, s) }

// Value implements the driver.Valuer interface.
func (s TemplateSections) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// ReportTemplate defines the section layout used by report generation.
type ReportTemplate struct {
	ID        string           `db:"id"         json:"id"`
	Name      string           `db:"name"       json:"name"`
	Sections  TemplateSections `db:"sections"   json:"sections"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
