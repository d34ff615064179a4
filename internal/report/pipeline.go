package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// ErrPipelineActive is returned when generation is already running for a
// report in this process.
var ErrPipelineActive = errors.New("report generation already in progress")

// defaultMaxEvents caps extracted events when the report sets no limit.
const defaultMaxEvents = 10

// maxPromptArticles bounds how many article titles feed a single prompt.
const maxPromptArticles = 50

// Per-stage progress checkpoints. Section generation interpolates
// between sectionsStart and mergeProgress.
const (
	initProgress     = 5
	filterProgress   = 15
	keywordsProgress = 30
	clusterProgress  = 45
	eventsProgress   = 60
	sectionsStart    = 60
	mergeProgress    = 95
)

// progressSink is the slice of the task reporter the pipeline needs.
type progressSink interface {
	Cancelled() bool
	Progress(ctx context.Context, current, total int, data map[string]any) error
	Info(ctx context.Context, message string, data map[string]any) error
}

type nopSink struct{}

func (nopSink) Cancelled() bool                                          { return false }
func (nopSink) Progress(context.Context, int, int, map[string]any) error { return nil }
func (nopSink) Info(context.Context, string, map[string]any) error       { return nil }

// Pipeline runs report generation through its fixed stages, persisting
// every intermediate result on the report row. It is also the
// report_generate task handler.
type Pipeline struct {
	reports   database.ReportRepositoryInterface
	articles  database.ArticleRepositoryInterface
	generator Generator
	logger    logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPipeline creates a report pipeline.
func NewPipeline(
	reports database.ReportRepositoryInterface,
	articles database.ArticleRepositoryInterface,
	generator Generator,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		reports:   reports,
		articles:  articles,
		generator: generator,
		logger:    log,
		active:    make(map[string]struct{}),
	}
}

// Validate checks report_generate params.
func (p *Pipeline) Validate(params domain.JSONBMap) error {
	var rp domain.ReportGenerateParams
	if err := domain.DecodeParams(params, &rp); err != nil {
		return err
	}
	if rp.ReportID == "" {
		return fmt.Errorf("report_id is required")
	}
	return nil
}

// Run executes the pipeline as a task handler.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, reporter *taskengine.Reporter) (any, error) {
	var rp domain.ReportGenerateParams
	if err := domain.DecodeParams(task.Params, &rp); err != nil {
		return nil, err
	}

	if err := p.Generate(ctx, rp.ReportID, reporter); err != nil {
		return nil, err
	}
	return map[string]any{"report_id": rp.ReportID}, nil
}

// Generate runs the full pipeline for a report. Completed reports return
// immediately; a report mid-generation resumes past its persisted
// sections rather than regenerating them. On failure the report is
// marked failed with everything persisted so far intact.
func (p *Pipeline) Generate(ctx context.Context, reportID string, sink progressSink) error {
	if sink == nil {
		sink = nopSink{}
	}

	if !p.claim(reportID) {
		return fmt.Errorf("report %s: %w", reportID, ErrPipelineActive)
	}
	defer p.release(reportID)

	report, err := p.reports.GetByID(ctx, reportID)
	if err != nil {
		return err
	}
	if report.Status == domain.ReportStatusCompleted {
		return nil // idempotent
	}

	if err := p.run(ctx, report, sink); err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancellation is not a generation failure; the report stays
			// resumable with its persisted sections.
			return err
		}
		if failErr := p.reports.Fail(context.WithoutCancel(ctx), reportID, err.Error()); failErr != nil {
			p.logger.Error("mark report failed", logger.Error(failErr), logger.String("report_id", reportID))
		}
		return err
	}

	return nil
}

// Complete finalizes a report from its persisted sections without
// regenerating anything. Completing an already-completed report is a
// no-op.
func (p *Pipeline) Complete(ctx context.Context, reportID string) (*domain.Report, error) {
	report, err := p.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.Status == domain.ReportStatusCompleted {
		return report, nil
	}

	content := mergeContent(report.Title, report.Sections)
	if err := p.reports.CompleteMerge(ctx, reportID, content); err != nil {
		return nil, err
	}

	return p.reports.GetByID(ctx, reportID)
}

func (p *Pipeline) claim(reportID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[reportID]; ok {
		return false
	}
	p.active[reportID] = struct{}{}
	return true
}

func (p *Pipeline) release(reportID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, reportID)
}

// run executes the pipeline stages in order.
func (p *Pipeline) run(ctx context.Context, report *domain.Report, sink progressSink) error {
	if err := p.stage(ctx, report, sink, domain.StageInitializing, initProgress, "loading template"); err != nil {
		return err
	}
	template, err := p.loadTemplate(ctx, report)
	if err != nil {
		return err
	}

	if err := p.stage(ctx, report, sink, domain.StageFilteringArticles, filterProgress, "filtering articles by time range"); err != nil {
		return err
	}
	articles, err := p.articles.ListByTimeRange(ctx, report.TimeRangeStart, report.TimeRangeEnd, report.Keywords)
	if err != nil {
		return err
	}
	if err := p.reports.SetArticleStats(ctx, report.ID, len(articles), 0); err != nil {
		return err
	}
	if len(articles) == 0 {
		return fmt.Errorf("no articles in time range %s to %s",
			report.TimeRangeStart.Format("2006-01-02"), report.TimeRangeEnd.Format("2006-01-02"))
	}

	if err := p.stage(ctx, report, sink, domain.StageGeneratingKeywords, keywordsProgress, "deriving keywords"); err != nil {
		return err
	}
	keywords := report.Keywords
	if len(keywords) == 0 {
		keywords = p.deriveKeywords(ctx, report, articles)
		if len(keywords) > 0 {
			if err := p.reports.SetKeywords(ctx, report.ID, keywords); err != nil {
				return err
			}
			report.Keywords = keywords
		}
	}

	if err := p.stage(ctx, report, sink, domain.StageClusteringArticles, clusterProgress, "clustering articles"); err != nil {
		return err
	}
	clusters := ClusterArticles(articles)
	if err := p.reports.SetArticleStats(ctx, report.ID, len(articles), len(clusters)); err != nil {
		return err
	}

	if err := p.stage(ctx, report, sink, domain.StageExtractingEvents, eventsProgress, "extracting events"); err != nil {
		return err
	}
	events, err := p.extractEvents(ctx, report, clusters)
	if err != nil {
		return err
	}
	if err := p.reports.SetEvents(ctx, report.ID, events); err != nil {
		return err
	}
	report.Events = events

	if err := p.generateSections(ctx, report, template, events, sink); err != nil {
		return err
	}

	if err := p.stage(ctx, report, sink, domain.StageMergingReport, mergeProgress, "merging report"); err != nil {
		return err
	}
	fresh, err := p.reports.GetByID(ctx, report.ID)
	if err != nil {
		return err
	}
	if err := p.reports.CompleteMerge(ctx, report.ID, mergeContent(report.Title, fresh.Sections)); err != nil {
		return err
	}

	_ = sink.Info(ctx, "report completed", map[string]any{
		"report_id": report.ID,
		"stage":     string(domain.StageCompleted),
	})
	p.logger.Info("report generated",
		logger.String("report_id", report.ID),
		logger.Int("articles", len(articles)),
		logger.Int("events", len(events)),
		logger.Int("sections", len(fresh.Sections)),
	)
	return nil
}

// stage advances the persisted pipeline stage and emits a stage event.
// It is also the pipeline's cancellation checkpoint.
func (p *Pipeline) stage(ctx context.Context, report *domain.Report, sink progressSink, stage domain.ReportStage, progress int, message string) error {
	if sink.Cancelled() {
		return context.Canceled
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := p.reports.UpdateStage(ctx, report.ID, stage, progress, message); err != nil {
		return err
	}
	report.AgentStage = stage
	report.AgentProgress = progress

	_ = sink.Info(ctx, "stage", map[string]any{
		"report_id": report.ID,
		"stage":     string(stage),
		"progress":  progress,
		"message":   message,
	})
	return nil
}

func (p *Pipeline) loadTemplate(ctx context.Context, report *domain.Report) (*domain.ReportTemplate, error) {
	if report.TemplateID != nil && *report.TemplateID != "" {
		return p.reports.GetTemplate(ctx, *report.TemplateID)
	}
	return p.reports.DefaultTemplate(ctx)
}

// deriveKeywords asks the model for topical keywords from article
// titles. Keyword derivation failing is not fatal to the pipeline.
func (p *Pipeline) deriveKeywords(ctx context.Context, report *domain.Report, articles []*domain.Article) []string {
	titles := articleTitles(articles, maxPromptArticles)

	prompt := fmt.Sprintf(
		"Given these news article titles, extract up to 10 topical keywords as a JSON array of strings. Respond with only the JSON array.\n\n%s",
		strings.Join(titles, "\n"),
	)

	out, err := p.generator.Generate(ctx, systemPrompt(report), prompt)
	if err != nil {
		p.logger.Warn("derive keywords", logger.Error(err), logger.String("report_id", report.ID))
		return nil
	}

	var keywords []string
	if err := json.Unmarshal(extractJSONArray(out), &keywords); err != nil {
		p.logger.Warn("parse keywords", logger.Error(err), logger.String("report_id", report.ID))
		return nil
	}
	return keywords
}

// extractEvents asks the model to rank the clustered stories as discrete
// events. On unparseable output it degrades to one event per cluster.
func (p *Pipeline) extractEvents(ctx context.Context, report *domain.Report, clusters []*Cluster) (domain.ReportEvents, error) {
	maxEvents := report.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	var sb strings.Builder
	for i, cluster := range clusters {
		if i >= maxPromptArticles {
			break
		}
		fmt.Fprintf(&sb, "- %s (%d articles)\n", cluster.Lead().Title, len(cluster.Articles))
	}

	prompt := fmt.Sprintf(
		"These are clustered news stories from %s to %s. Identify the %d most important events. Respond with only a JSON array of objects with fields: title, summary, importance (0-1).\n\n%s",
		report.TimeRangeStart.Format("2006-01-02"),
		report.TimeRangeEnd.Format("2006-01-02"),
		maxEvents,
		sb.String(),
	)

	out, err := p.generator.Generate(ctx, systemPrompt(report), prompt)
	if err != nil {
		return nil, fmt.Errorf("extract events: %w", err)
	}

	var events domain.ReportEvents
	if err := json.Unmarshal(extractJSONArray(out), &events); err != nil {
		p.logger.Warn("parse events, falling back to clusters", logger.Error(err), logger.String("report_id", report.ID))
		events = fallbackEvents(clusters)
	}

	if len(events) > maxEvents {
		events = events[:maxEvents]
	}
	for i := range events {
		if events[i].ArticleCount == 0 && i < len(clusters) {
			events[i].ArticleCount = len(clusters[i].Articles)
		}
	}
	return events, nil
}

// generateSections streams each template section, skipping sections the
// report already holds so a resumed generation never redoes work.
func (p *Pipeline) generateSections(ctx context.Context, report *domain.Report, template *domain.ReportTemplate, events domain.ReportEvents, sink progressSink) error {
	done := make(map[string]struct{}, len(report.Sections))
	for _, s := range report.Sections {
		done[s.Title] = struct{}{}
	}

	total := len(template.Sections)
	for i, ts := range template.Sections {
		progress := sectionsStart + (mergeProgress-sectionsStart)*i/max(total, 1)
		if err := p.stage(ctx, report, sink, domain.StageGeneratingSections, progress, fmt.Sprintf("generating section %q", ts.Title)); err != nil {
			return err
		}

		if _, ok := done[ts.Title]; ok {
			continue // already persisted by an earlier run
		}

		content, err := p.streamSection(ctx, report, ts, events, sink)
		if err != nil {
			return fmt.Errorf("generate section %q: %w", ts.Title, err)
		}

		section := domain.ReportSection{
			Title:       ts.Title,
			Content:     content,
			Description: ts.Description,
			EventCount:  len(events),
		}
		if err := p.reports.AppendSection(ctx, report.ID, section); err != nil {
			return err
		}
	}

	return nil
}

// streamSection streams one section's content, forwarding every chunk as
// a section_stream event.
func (p *Pipeline) streamSection(ctx context.Context, report *domain.Report, ts domain.TemplateSection, events domain.ReportEvents, sink progressSink) (string, error) {
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "- %s: %s\n", ev.Title, ev.Summary)
	}

	instructions := ts.Description
	if instructions == "" {
		instructions = "Write this section of the situational report."
	}

	prompt := fmt.Sprintf(
		"Write the %q section of a news report covering %s to %s. %s Base it on these events:\n\n%s",
		ts.Title,
		report.TimeRangeStart.Format("2006-01-02"),
		report.TimeRangeEnd.Format("2006-01-02"),
		instructions,
		sb.String(),
	)

	accumulated := ""
	content, err := p.generator.Stream(ctx, systemPrompt(report), prompt, func(chunk string) error {
		if sink.Cancelled() {
			return context.Canceled
		}
		accumulated += chunk
		return sink.Info(ctx, "section_stream", map[string]any{
			"report_id":           report.ID,
			"section_title":       ts.Title,
			"chunk":               chunk,
			"accumulated_content": accumulated,
		})
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// systemPrompt builds the model system prompt from report settings.
func systemPrompt(report *domain.Report) string {
	var sb strings.Builder
	sb.WriteString("You are a news analyst writing concise, factual situational reports.")
	if report.Language != "" {
		fmt.Fprintf(&sb, " Respond in %s.", report.Language)
	}
	if report.CustomPrompt != nil && *report.CustomPrompt != "" {
		sb.WriteString(" ")
		sb.WriteString(*report.CustomPrompt)
	}
	return sb.String()
}

// mergeContent assembles the final report markdown from its sections.
func mergeContent(title string, sections domain.ReportSections) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", title)
	for _, s := range sections {
		fmt.Fprintf(&sb, "\n## %s\n\n%s\n", s.Title, s.Content)
	}
	return sb.String()
}

// fallbackEvents builds one event per cluster when the model response
// cannot be parsed.
func fallbackEvents(clusters []*Cluster) domain.ReportEvents {
	events := make(domain.ReportEvents, 0, len(clusters))
	for _, c := range clusters {
		events = append(events, domain.ReportEvent{
			Title:        c.Lead().Title,
			Summary:      firstLine(c.Lead().Content),
			Importance:   0.5,
			ArticleCount: len(c.Articles),
		})
	}
	return events
}

// extractJSONArray pulls the outermost JSON array out of a model
// response that may be wrapped in prose or code fences.
func extractJSONArray(s string) []byte {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}

func articleTitles(articles []*domain.Article, limit int) []string {
	titles := make([]string, 0, min(len(articles), limit))
	for i, a := range articles {
		if i >= limit {
			break
		}
		titles = append(titles, a.Title)
	}
	return titles
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		s = s[:idx]
	}
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimSpace(s)
}
