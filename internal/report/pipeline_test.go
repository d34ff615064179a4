package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
)

// fakeReportRepo is an in-memory ReportRepositoryInterface.
type fakeReportRepo struct {
	mu       sync.Mutex
	reports  map[string]domain.Report
	template domain.ReportTemplate
}

func newFakeReportRepo(template domain.ReportTemplate, reports ...*domain.Report) *fakeReportRepo {
	repo := &fakeReportRepo{
		reports:  make(map[string]domain.Report),
		template: template,
	}
	for _, r := range reports {
		repo.reports[r.ID] = *r
	}
	return repo
}

func (r *fakeReportRepo) Create(_ context.Context, report *domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = *report
	return nil
}

func (r *fakeReportRepo) GetByID(_ context.Context, id string) (*domain.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, database.ErrNotFound)
	}
	copied := report
	return &copied, nil
}

func (r *fakeReportRepo) List(context.Context, int, int) ([]*domain.Report, error) {
	return nil, nil
}

func (r *fakeReportRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reports, id)
	return nil
}

func (r *fakeReportRepo) UpdateStage(_ context.Context, id string, stage domain.ReportStage, progress int, message string) error {
	return r.update(id, func(report *domain.Report) {
		report.AgentStage = stage
		report.AgentProgress = progress
		report.AgentMessage = message
		report.Status = domain.ReportStatusGenerating
	})
}

func (r *fakeReportRepo) SetKeywords(_ context.Context, id string, keywords []string) error {
	return r.update(id, func(report *domain.Report) {
		report.Keywords = keywords
	})
}

func (r *fakeReportRepo) SetArticleStats(_ context.Context, id string, total, clustered int) error {
	return r.update(id, func(report *domain.Report) {
		report.TotalArticles = total
		report.ClusteredArticles = clustered
	})
}

func (r *fakeReportRepo) SetEvents(_ context.Context, id string, events domain.ReportEvents) error {
	return r.update(id, func(report *domain.Report) {
		report.Events = events
		report.EventCount = len(events)
	})
}

func (r *fakeReportRepo) AppendSection(_ context.Context, id string, section domain.ReportSection) error {
	return r.update(id, func(report *domain.Report) {
		report.Sections = append(report.Sections, section)
	})
}

func (r *fakeReportRepo) CompleteMerge(_ context.Context, id, content string) error {
	return r.update(id, func(report *domain.Report) {
		now := time.Now().UTC()
		report.Content = content
		report.Status = domain.ReportStatusCompleted
		report.AgentStage = domain.StageCompleted
		report.AgentProgress = 100
		report.CompletedAt = &now
	})
}

func (r *fakeReportRepo) Fail(_ context.Context, id, errorMessage string) error {
	return r.update(id, func(report *domain.Report) {
		report.Status = domain.ReportStatusFailed
		report.ErrorMessage = &errorMessage
	})
}

func (r *fakeReportRepo) GetTemplate(_ context.Context, id string) (*domain.ReportTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.template.ID != id {
		return nil, fmt.Errorf("template %s: %w", id, database.ErrNotFound)
	}
	copied := r.template
	return &copied, nil
}

func (r *fakeReportRepo) DefaultTemplate(context.Context) (*domain.ReportTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := r.template
	return &copied, nil
}

func (r *fakeReportRepo) update(id string, fn func(*domain.Report)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, database.ErrNotFound)
	}
	fn(&report)
	r.reports[id] = report
	return nil
}

func (r *fakeReportRepo) get(id string) domain.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[id]
}

// fakeArticleSource serves a fixed article set for any time range.
type fakeArticleSource struct {
	articles []*domain.Article
}

func (r *fakeArticleSource) Create(context.Context, *domain.Article) error { return nil }
func (r *fakeArticleSource) GetByURLHash(context.Context, string) (*domain.Article, error) {
	return nil, database.ErrNotFound
}
func (r *fakeArticleSource) ListByTimeRange(context.Context, time.Time, time.Time, []string) ([]*domain.Article, error) {
	return r.articles, nil
}
func (r *fakeArticleSource) RecordFetchFailure(context.Context, string) error { return nil }

// fakeGenerator answers prompts with canned JSON and streams section
// text word by word.
type fakeGenerator struct {
	mu          sync.Mutex
	generates   int
	streams     int
	sectionText string
	failStream  int // fail the nth Stream call (1-based); 0 disables
}

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.mu.Lock()
	g.generates++
	g.mu.Unlock()

	if strings.Contains(prompt, "keywords") {
		return `["storm", "budget"]`, nil
	}
	return `[{"title": "Coastal storm", "summary": "A storm hit the coast.", "importance": 0.9}]`, nil
}

func (g *fakeGenerator) Stream(_ context.Context, _, _ string, onChunk func(string) error) (string, error) {
	g.mu.Lock()
	g.streams++
	n := g.streams
	g.mu.Unlock()

	if g.failStream > 0 && n == g.failStream {
		return "", fmt.Errorf("model unavailable")
	}

	text := g.sectionText
	if text == "" {
		text = "Section body text."
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := onChunk(word); err != nil {
			return "", err
		}
	}
	return text, nil
}

// recordingSink captures pipeline events.
type recordingSink struct {
	mu        sync.Mutex
	cancelled bool
	events    []map[string]any
}

func (s *recordingSink) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *recordingSink) Progress(context.Context, int, int, map[string]any) error { return nil }

func (s *recordingSink) Info(_ context.Context, message string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := map[string]any{}
	for k, v := range data {
		event[k] = v
	}
	event["message"] = message
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byMessage(message string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, event := range s.events {
		if event["message"] == message {
			out = append(out, event)
		}
	}
	return out
}

func testTemplate() domain.ReportTemplate {
	return domain.ReportTemplate{
		ID:   "tmpl-1",
		Name: "default",
		Sections: domain.TemplateSections{
			{Title: "Overview", Description: "Summarize the period."},
			{Title: "Outlook", Description: "What to watch next."},
		},
	}
}

func testReport(id string) *domain.Report {
	return &domain.Report{
		ID:             id,
		Title:          "Weekly Brief",
		TimeRangeStart: time.Now().Add(-7 * 24 * time.Hour),
		TimeRangeEnd:   time.Now(),
		Language:       "English",
		Status:         domain.ReportStatusDraft,
		AgentStage:     domain.StageInitializing,
	}
}

func testArticles() []*domain.Article {
	now := time.Now()
	return []*domain.Article{
		article("a", "Storm hits northern coast", "Storm body.", now.Add(-2*time.Hour)),
		article("b", "Storm hits northern coast again", "More storm body.", now.Add(-time.Hour)),
		article("c", "Parliament passes budget", "Budget body.", now),
	}
}

func TestPipelineGenerateHappyPath(t *testing.T) {
	repo := newFakeReportRepo(testTemplate(), testReport("rep-1"))
	generator := &fakeGenerator{}
	pipeline := NewPipeline(repo, &fakeArticleSource{articles: testArticles()}, generator, logger.Nop())
	sink := &recordingSink{}

	require.NoError(t, pipeline.Generate(context.Background(), "rep-1", sink))

	final := repo.get("rep-1")
	assert.Equal(t, domain.ReportStatusCompleted, final.Status)
	assert.Equal(t, domain.StageCompleted, final.AgentStage)
	assert.Equal(t, 100, final.AgentProgress)
	assert.Equal(t, 3, final.TotalArticles)
	assert.Equal(t, 2, final.ClusteredArticles)
	assert.Equal(t, []string{"storm", "budget"}, []string(final.Keywords))
	require.Len(t, final.Events, 1)
	assert.Equal(t, "Coastal storm", final.Events[0].Title)

	require.Len(t, final.Sections, 2)
	assert.Equal(t, "Overview", final.Sections[0].Title)
	assert.Equal(t, "Outlook", final.Sections[1].Title)

	assert.Contains(t, final.Content, "# Weekly Brief")
	assert.Contains(t, final.Content, "## Overview")
	assert.Contains(t, final.Content, "## Outlook")
	require.NotNil(t, final.CompletedAt)

	// Section chunks streamed through the sink with accumulation.
	chunks := sink.byMessage("section_stream")
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, "Outlook", last["section_title"])
	assert.Equal(t, "Section body text.", last["accumulated_content"])

	// Stages were announced in pipeline order.
	stages := sink.byMessage("stage")
	var seen []string
	for _, s := range stages {
		seen = append(seen, s["stage"].(string))
	}
	assert.Equal(t, string(domain.StageInitializing), seen[0])
	assert.Equal(t, string(domain.StageMergingReport), seen[len(seen)-1])
}

func TestPipelineGenerateCompletedIsNoOp(t *testing.T) {
	done := testReport("rep-1")
	done.Status = domain.ReportStatusCompleted
	repo := newFakeReportRepo(testTemplate(), done)
	generator := &fakeGenerator{}
	pipeline := NewPipeline(repo, &fakeArticleSource{}, generator, logger.Nop())

	require.NoError(t, pipeline.Generate(context.Background(), "rep-1", nil))
	assert.Zero(t, generator.generates)
	assert.Zero(t, generator.streams)
}

func TestPipelineFailurePreservesSections(t *testing.T) {
	repo := newFakeReportRepo(testTemplate(), testReport("rep-1"))
	generator := &fakeGenerator{failStream: 2}
	pipeline := NewPipeline(repo, &fakeArticleSource{articles: testArticles()}, generator, logger.Nop())

	err := pipeline.Generate(context.Background(), "rep-1", nil)
	require.Error(t, err)

	final := repo.get("rep-1")
	assert.Equal(t, domain.ReportStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)

	// The section completed before the failure is preserved.
	require.Len(t, final.Sections, 1)
	assert.Equal(t, "Overview", final.Sections[0].Title)
}

func TestPipelineResumeSkipsPersistedSections(t *testing.T) {
	partial := testReport("rep-1")
	partial.Status = domain.ReportStatusFailed
	partial.Sections = domain.ReportSections{
		{Title: "Overview", Content: "Already written."},
	}
	repo := newFakeReportRepo(testTemplate(), partial)
	generator := &fakeGenerator{}
	pipeline := NewPipeline(repo, &fakeArticleSource{articles: testArticles()}, generator, logger.Nop())

	require.NoError(t, pipeline.Generate(context.Background(), "rep-1", nil))

	// Only the missing section was streamed.
	assert.Equal(t, 1, generator.streams)

	final := repo.get("rep-1")
	assert.Equal(t, domain.ReportStatusCompleted, final.Status)
	require.Len(t, final.Sections, 2)
	assert.Equal(t, "Already written.", final.Sections[0].Content)
	assert.Equal(t, "Outlook", final.Sections[1].Title)
}

func TestPipelineCompleteIsIdempotent(t *testing.T) {
	partial := testReport("rep-1")
	partial.Sections = domain.ReportSections{
		{Title: "Overview", Content: "Body."},
	}
	repo := newFakeReportRepo(testTemplate(), partial)
	generator := &fakeGenerator{}
	pipeline := NewPipeline(repo, &fakeArticleSource{}, generator, logger.Nop())

	first, err := pipeline.Complete(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusCompleted, first.Status)
	assert.Contains(t, first.Content, "## Overview")

	// Completing again changes nothing and calls no model.
	second, err := pipeline.Complete(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.Zero(t, generator.generates)
	assert.Zero(t, generator.streams)
}

func TestPipelineRejectsConcurrentGeneration(t *testing.T) {
	repo := newFakeReportRepo(testTemplate(), testReport("rep-1"))
	pipeline := NewPipeline(repo, &fakeArticleSource{articles: testArticles()}, &fakeGenerator{}, logger.Nop())

	require.True(t, pipeline.claim("rep-1"))
	defer pipeline.release("rep-1")

	err := pipeline.Generate(context.Background(), "rep-1", nil)
	assert.ErrorIs(t, err, ErrPipelineActive)
}

func TestPipelineNoArticlesFails(t *testing.T) {
	repo := newFakeReportRepo(testTemplate(), testReport("rep-1"))
	pipeline := NewPipeline(repo, &fakeArticleSource{}, &fakeGenerator{}, logger.Nop())

	err := pipeline.Generate(context.Background(), "rep-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no articles")

	final := repo.get("rep-1")
	assert.Equal(t, domain.ReportStatusFailed, final.Status)
}

func TestPipelineCancellationDoesNotFailReport(t *testing.T) {
	repo := newFakeReportRepo(testTemplate(), testReport("rep-1"))
	pipeline := NewPipeline(repo, &fakeArticleSource{articles: testArticles()}, &fakeGenerator{}, logger.Nop())

	err := pipeline.Generate(context.Background(), "rep-1", &recordingSink{cancelled: true})
	assert.ErrorIs(t, err, context.Canceled)

	final := repo.get("rep-1")
	assert.NotEqual(t, domain.ReportStatusFailed, final.Status)
}
