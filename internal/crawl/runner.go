package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// Config tunes the crawl batch runner.
type Config struct {
	// RetryCeiling is the number of failed attempts after which a pending
	// URL is abandoned.
	RetryCeiling int `mapstructure:"retry_ceiling" yaml:"retry_ceiling"`
	// DefaultDelay is the per-source politeness delay in seconds used when
	// robots.txt advertises none.
	DefaultDelay int `mapstructure:"default_delay" yaml:"default_delay"`
	// DefaultLimit caps URLs per batch when the task params give no limit.
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"`
	// UserAgent is sent on all crawl requests.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// DefaultConfig returns the crawl runner defaults.
func DefaultConfig() Config {
	return Config{
		RetryCeiling: 3,
		DefaultDelay: 1,
		DefaultLimit: 100,
		UserAgent:    "newsbrief/1.0",
	}
}

// progressReporter is the slice of the task reporter the runner needs.
// The synchronous crawl path runs with the nop implementation.
type progressReporter interface {
	Cancelled() bool
	Progress(ctx context.Context, current, total int, data map[string]any) error
	Info(ctx context.Context, message string, data map[string]any) error
}

type nopReporter struct{}

func (nopReporter) Cancelled() bool                                          { return false }
func (nopReporter) Progress(context.Context, int, int, map[string]any) error { return nil }
func (nopReporter) Info(context.Context, string, map[string]any) error       { return nil }

// Runner drains pending articles for eligible sources: claim a row,
// fetch and extract, persist the article or record the failure, honoring
// per-source politeness delays and the retry ceiling.
type Runner struct {
	sources  database.SourceRepositoryInterface
	pending  database.PendingRepositoryInterface
	articles database.ArticleRepositoryInterface
	fetcher  Fetcher
	robots   *RobotsProbe
	importer *SitemapImporter
	logger   logger.Logger
	config   Config

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a crawl runner. robots and importer may be nil, which
// disables robots probing and sitemap import respectively.
func NewRunner(
	sources database.SourceRepositoryInterface,
	pending database.PendingRepositoryInterface,
	articles database.ArticleRepositoryInterface,
	fetcher Fetcher,
	robots *RobotsProbe,
	importer *SitemapImporter,
	log logger.Logger,
	cfg Config,
) *Runner {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultConfig().RetryCeiling
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	return &Runner{
		sources:  sources,
		pending:  pending,
		articles: articles,
		fetcher:  fetcher,
		robots:   robots,
		importer: importer,
		logger:   log,
		config:   cfg,
		sleep:    sleepCtx,
	}
}

// sourceBatch is one source's slice of the batch.
type sourceBatch struct {
	source *domain.CrawlSource
	rows   []*domain.PendingArticle
}

// CrawlSource drains up to limit queue rows in fromStatus for a single
// source, synchronously. Used by the direct crawl endpoint.
func (r *Runner) CrawlSource(ctx context.Context, sourceID string, limit int, fromStatus domain.PendingStatus) (*domain.CrawlResult, error) {
	source, err := r.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}

	rows, err := r.pending.ListByStatus(ctx, source.ID, fromStatus, limit)
	if err != nil {
		return nil, err
	}

	result := &domain.CrawlResult{}
	if err := r.drainSource(ctx, &sourceBatch{source: source, rows: rows}, fromStatus, nopReporter{}, result, new(int), len(rows)); err != nil {
		return result, err
	}
	return result, nil
}

// RunBatch drains queue rows in fromStatus across the selected sources,
// reporting per-URL outcomes and aggregate progress through the task
// reporter. A zero sourceID selects every eligible source.
func (r *Runner) RunBatch(
	ctx context.Context,
	sourceID string,
	limitPerSource int,
	fromStatus domain.PendingStatus,
	reporter progressReporter,
) (*domain.CrawlResult, error) {
	if limitPerSource <= 0 {
		limitPerSource = r.config.DefaultLimit
	}

	batches, err := r.collect(ctx, sourceID, limitPerSource, fromStatus)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, b := range batches {
		total += len(b.rows)
	}

	result := &domain.CrawlResult{}
	processed := new(int)

	if err := reporter.Progress(ctx, 0, total, nil); err != nil {
		return result, err
	}

	for _, batch := range batches {
		if reporter.Cancelled() {
			return result, context.Canceled
		}
		if err := r.drainSource(ctx, batch, fromStatus, reporter, result, processed, total); err != nil {
			return result, err
		}
	}

	return result, nil
}

// collect resolves the sources to crawl and lists each one's queue rows.
// For the all-sources case only enabled sources due for a crawl are
// selected; sitemap import runs first so freshly discovered URLs join
// the batch.
func (r *Runner) collect(ctx context.Context, sourceID string, limit int, fromStatus domain.PendingStatus) ([]*sourceBatch, error) {
	var sources []*domain.CrawlSource

	if sourceID != "" {
		source, err := r.sources.GetByID(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		sources = []*domain.CrawlSource{source}
	} else {
		all, err := r.sources.List(ctx, true)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, s := range all {
			if fromStatus != domain.PendingStatusPending || s.DueForCrawl(now) {
				sources = append(sources, s)
			}
		}
	}

	batches := make([]*sourceBatch, 0, len(sources))
	for _, source := range sources {
		if r.importer != nil && fromStatus == domain.PendingStatusPending && source.DiscoveryMethod != domain.DiscoveryList {
			if _, err := r.importer.Import(ctx, source); err != nil {
				r.logger.Warn("sitemap import",
					logger.Error(err),
					logger.String("source_id", source.ID),
				)
			}
		}

		rows, err := r.pending.ListByStatus(ctx, source.ID, fromStatus, limit)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		batches = append(batches, &sourceBatch{source: source, rows: rows})
	}

	return batches, nil
}

// drainSource processes one source's rows sequentially with the source's
// politeness delay between fetches.
func (r *Runner) drainSource(
	ctx context.Context,
	batch *sourceBatch,
	fromStatus domain.PendingStatus,
	reporter progressReporter,
	result *domain.CrawlResult,
	processed *int,
	total int,
) error {
	source := batch.source

	delay := r.probeSource(ctx, source)
	if !source.RobotsAllowed {
		r.logger.Info("source blocked by robots.txt", logger.String("source_id", source.ID))
		return nil
	}

	succeeded, failed := 0, 0
	defer func() {
		if succeeded > 0 || failed > 0 {
			if err := r.sources.UpdateCrawlStats(ctx, source.ID, succeeded, failed); err != nil {
				r.logger.Warn("update crawl stats", logger.Error(err), logger.String("source_id", source.ID))
			}
		}
	}()

	isRetry := fromStatus == domain.PendingStatusFailed

	for i, row := range batch.rows {
		if reporter.Cancelled() {
			return context.Canceled
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := r.pending.Claim(ctx, row.ID, fromStatus, domain.PendingStatusCrawling)
		if err != nil {
			return err
		}
		if !claimed {
			continue // another runner took it
		}

		outcome := r.crawlOne(ctx, source, row, isRetry)
		switch outcome {
		case "success":
			result.Success++
			succeeded++
		case "skipped":
			result.Skipped++
		default:
			result.Failed++
			failed++
		}

		*processed++
		_ = reporter.Info(ctx, "url crawled", map[string]any{
			"source_id": source.ID,
			"url":       row.URL,
			"outcome":   outcome,
		})
		if err := reporter.Progress(ctx, *processed, total, nil); err != nil {
			return err
		}

		if i < len(batch.rows)-1 && delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return nil
}

// crawlOne fetches one claimed row and settles its queue status. Returns
// the outcome label: success, skipped, failed, or abandoned.
func (r *Runner) crawlOne(ctx context.Context, source *domain.CrawlSource, row *domain.PendingArticle, isRetry bool) string {
	extracted, err := r.fetcher.Fetch(ctx, row.URL, source.ParserConfig)
	if err != nil {
		return r.settleFailure(ctx, row, err, isRetry)
	}

	article := &domain.Article{
		ID:          uuid.New().String(),
		SourceID:    source.ID,
		URL:         row.URL,
		URLHash:     row.URLHash,
		ContentHash: domain.HashContent(extracted.Content),
		Title:       extracted.Title,
		Content:     extracted.Content,
		PublishTime: row.PublishTime,
		Status:      domain.ArticleStatusRaw,
		FetchStatus: domain.FetchStatusSuccess,
	}
	if article.Title == "" && row.Title != nil {
		article.Title = *row.Title
	}

	if err := r.articles.Create(ctx, article); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// Already fetched under another queue row; nothing to redo.
			r.markRow(ctx, row, domain.PendingStatusCompleted, row.RetryCount)
			return "skipped"
		}
		r.logger.Error("persist article", logger.Error(err), logger.String("url", row.URL))
		return r.settleFailure(ctx, row, err, isRetry)
	}

	r.markRow(ctx, row, domain.PendingStatusCompleted, row.RetryCount)
	return "success"
}

// settleFailure records a fetch failure: the retry count is bumped and
// the row stays failed until the ceiling abandons it. 404/410 take the
// same path as any other failure. On the retry sweep the matching
// article row, if one exists, gets its failure recorded too.
func (r *Runner) settleFailure(ctx context.Context, row *domain.PendingArticle, cause error, isRetry bool) string {
	retries := row.RetryCount + 1
	status := domain.PendingStatusFailed
	outcome := "failed"
	if retries >= r.config.RetryCeiling {
		status = domain.PendingStatusAbandoned
		outcome = "abandoned"
	}

	r.markRow(ctx, row, status, retries)

	if isRetry {
		if err := r.articles.RecordFetchFailure(ctx, row.URLHash); err != nil {
			r.logger.Warn("record article fetch failure",
				logger.Error(err),
				logger.String("url", row.URL),
			)
		}
	}

	r.logger.Warn("crawl failed",
		logger.Error(cause),
		logger.String("url", row.URL),
		logger.Int("retry_count", retries),
	)
	return outcome
}

// markRow settles a queue row, logging rather than propagating: the
// crawl outcome is already decided and the batch keeps moving.
func (r *Runner) markRow(ctx context.Context, row *domain.PendingArticle, status domain.PendingStatus, retryCount int) {
	row.Status = status
	row.RetryCount = retryCount
	if err := r.pending.MarkStatus(ctx, row.ID, status, retryCount); err != nil {
		r.logger.Error("mark pending article", logger.Error(err), logger.String("pending_id", row.ID))
	}
}

// probeSource refreshes the source's robots policy and returns the
// politeness delay to use between fetches.
func (r *Runner) probeSource(ctx context.Context, source *domain.CrawlSource) time.Duration {
	if r.robots != nil {
		allowed, crawlDelay, err := r.robots.Probe(ctx, source.BaseURL)
		if err != nil {
			r.logger.Warn("robots probe", logger.Error(err), logger.String("source_id", source.ID))
		} else {
			source.RobotsAllowed = allowed
			if crawlDelay > 0 {
				source.CrawlDelay = crawlDelay
			}
			if err := r.sources.UpdateRobots(ctx, source.ID, allowed, source.CrawlDelay); err != nil {
				r.logger.Warn("update robots policy", logger.Error(err), logger.String("source_id", source.ID))
			}
		}
	}

	delaySeconds := source.CrawlDelay
	if delaySeconds <= 0 {
		delaySeconds = r.config.DefaultDelay
	}
	return time.Duration(delaySeconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PendingHandler is the task handler that drains pending queue rows
// across eligible sources.
type PendingHandler struct {
	runner *Runner
}

// NewPendingHandler creates the crawl_pending task handler.
func NewPendingHandler(runner *Runner) *PendingHandler {
	return &PendingHandler{runner: runner}
}

// Validate checks crawl_pending params.
func (h *PendingHandler) Validate(params domain.JSONBMap) error {
	var p domain.CrawlPendingParams
	if err := domain.DecodeParams(params, &p); err != nil {
		return err
	}
	if p.Limit < 0 || p.LimitPerSource < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	return nil
}

// Run drains the pending queue and returns the aggregate crawl result.
func (h *PendingHandler) Run(ctx context.Context, task *domain.Task, reporter *taskengine.Reporter) (any, error) {
	var p domain.CrawlPendingParams
	if err := domain.DecodeParams(task.Params, &p); err != nil {
		return nil, err
	}

	limit := p.LimitPerSource
	if limit <= 0 {
		limit = p.Limit
	}

	return h.runner.RunBatch(ctx, p.SourceID, limit, domain.PendingStatusPending, reporter)
}

// RetryHandler is the task handler that re-attempts failed queue rows.
type RetryHandler struct {
	runner *Runner
}

// NewRetryHandler creates the retry_failed task handler.
func NewRetryHandler(runner *Runner) *RetryHandler {
	return &RetryHandler{runner: runner}
}

// Validate checks retry_failed params.
func (h *RetryHandler) Validate(params domain.JSONBMap) error {
	var p domain.RetryFailedParams
	if err := domain.DecodeParams(params, &p); err != nil {
		return err
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	return nil
}

// Run re-crawls failed queue rows and returns the aggregate crawl result.
func (h *RetryHandler) Run(ctx context.Context, task *domain.Task, reporter *taskengine.Reporter) (any, error) {
	var p domain.RetryFailedParams
	if err := domain.DecodeParams(task.Params, &p); err != nil {
		return nil, err
	}

	return h.runner.RunBatch(ctx, p.SourceID, p.Limit, domain.PendingStatusFailed, reporter)
}
