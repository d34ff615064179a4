package crawl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
)

// fakeSourceRepo is an in-memory SourceRepositoryInterface.
type fakeSourceRepo struct {
	mu      sync.Mutex
	sources map[string]domain.CrawlSource
	stats   map[string][2]int
}

func newFakeSourceRepo(sources ...*domain.CrawlSource) *fakeSourceRepo {
	repo := &fakeSourceRepo{
		sources: make(map[string]domain.CrawlSource),
		stats:   make(map[string][2]int),
	}
	for _, s := range sources {
		repo.sources[s.ID] = *s
	}
	return repo
}

func (r *fakeSourceRepo) Create(_ context.Context, source *domain.CrawlSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.ID] = *source
	return nil
}

func (r *fakeSourceRepo) GetByID(_ context.Context, id string) (*domain.CrawlSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	source, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, database.ErrNotFound)
	}
	copied := source
	return &copied, nil
}

func (r *fakeSourceRepo) List(_ context.Context, enabledOnly bool) ([]*domain.CrawlSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CrawlSource
	for id := range r.sources {
		source := r.sources[id]
		if enabledOnly && !source.Enabled {
			continue
		}
		copied := source
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeSourceRepo) UpdateCrawlStats(_ context.Context, id string, succeeded, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.stats[id]
	r.stats[id] = [2]int{prev[0] + succeeded, prev[1] + failed}
	return nil
}

func (r *fakeSourceRepo) UpdateRobots(_ context.Context, id string, allowed bool, crawlDelay int) error {
	return nil
}

func (r *fakeSourceRepo) UpdateSitemapChecked(_ context.Context, id string) error { return nil }

// fakePendingRepo is an in-memory PendingRepositoryInterface.
type fakePendingRepo struct {
	mu   sync.Mutex
	rows map[string]domain.PendingArticle
}

func newFakePendingRepo(rows ...*domain.PendingArticle) *fakePendingRepo {
	repo := &fakePendingRepo{rows: make(map[string]domain.PendingArticle)}
	for _, row := range rows {
		repo.rows[row.ID] = *row
	}
	return repo
}

func (r *fakePendingRepo) Insert(_ context.Context, pending *domain.PendingArticle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SourceID == pending.SourceID && row.URLHash == pending.URLHash {
			return false, nil
		}
	}
	r.rows[pending.ID] = *pending
	return true, nil
}

func (r *fakePendingRepo) ListByStatus(_ context.Context, sourceID string, status domain.PendingStatus, limit int) ([]*domain.PendingArticle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PendingArticle
	for id := range r.rows {
		row := r.rows[id]
		if row.SourceID != sourceID || row.Status != status {
			continue
		}
		copied := row
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakePendingRepo) Claim(_ context.Context, id string, from, to domain.PendingStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	r.rows[id] = row
	return true, nil
}

func (r *fakePendingRepo) MarkStatus(_ context.Context, id string, status domain.PendingStatus, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("pending %s: %w", id, database.ErrNotFound)
	}
	row.Status = status
	row.RetryCount = retryCount
	r.rows[id] = row
	return nil
}

func (r *fakePendingRepo) get(id string) domain.PendingArticle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

// fakeArticleRepo is an in-memory ArticleRepositoryInterface keyed by
// url_hash, mirroring the unique constraint.
type fakeArticleRepo struct {
	mu       sync.Mutex
	articles map[string]domain.Article
	failures []string
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{articles: make(map[string]domain.Article)}
}

func (r *fakeArticleRepo) Create(_ context.Context, article *domain.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.articles[article.URLHash]; ok {
		return fmt.Errorf("article %s: %w", article.URL, database.ErrDuplicate)
	}
	r.articles[article.URLHash] = *article
	return nil
}

func (r *fakeArticleRepo) GetByURLHash(_ context.Context, urlHash string) (*domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	article, ok := r.articles[urlHash]
	if !ok {
		return nil, fmt.Errorf("article %s: %w", urlHash, database.ErrNotFound)
	}
	copied := article
	return &copied, nil
}

func (r *fakeArticleRepo) ListByTimeRange(context.Context, time.Time, time.Time, []string) ([]*domain.Article, error) {
	return nil, nil
}

func (r *fakeArticleRepo) RecordFetchFailure(_ context.Context, urlHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, urlHash)
	if article, ok := r.articles[urlHash]; ok {
		article.FetchStatus = domain.FetchStatusRetry
		article.RetryCount++
		r.articles[urlHash] = article
	}
	return nil
}

func (r *fakeArticleRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.articles)
}

// fakeFetcher returns canned results per URL.
type fakeFetcher struct {
	results map[string]*ExtractedArticle
	errs    map[string]error
	mu      sync.Mutex
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ domain.JSONBMap) (*ExtractedArticle, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if result, ok := f.results[url]; ok {
		return result, nil
	}
	return &ExtractedArticle{Title: "Title", Content: "Body text"}, nil
}

// recordingReporter captures Info and Progress calls.
type recordingReporter struct {
	mu        sync.Mutex
	cancelled bool
	infos     []map[string]any
	current   int
	total     int
}

func (r *recordingReporter) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *recordingReporter) Progress(_ context.Context, current, total int, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current, r.total = current, total
	return nil
}

func (r *recordingReporter) Info(_ context.Context, _ string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, data)
	return nil
}

func testSource(id string) *domain.CrawlSource {
	return &domain.CrawlSource{
		ID:              id,
		Name:            "Test Source",
		BaseURL:         "https://example.com",
		Enabled:         true,
		RobotsAllowed:   true,
		DiscoveryMethod: domain.DiscoveryList,
	}
}

func testPending(sourceID, url string) *domain.PendingArticle {
	return &domain.PendingArticle{
		ID:       uuid.New().String(),
		SourceID: sourceID,
		URL:      url,
		URLHash:  domain.HashURL(url),
		Status:   domain.PendingStatusPending,
	}
}

func newTestRunner(sources *fakeSourceRepo, pending *fakePendingRepo, articles *fakeArticleRepo, fetcher Fetcher) *Runner {
	runner := NewRunner(sources, pending, articles, fetcher, nil, nil, logger.Nop(), Config{
		RetryCeiling: 3,
		DefaultDelay: 0,
		DefaultLimit: 100,
	})
	runner.sleep = func(context.Context, time.Duration) error { return nil }
	return runner
}

func TestRunBatchMixedOutcomes(t *testing.T) {
	source := testSource("src-1")
	ok := testPending(source.ID, "https://example.com/a")
	bad1 := testPending(source.ID, "https://example.com/b")
	bad2 := testPending(source.ID, "https://example.com/c")

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(ok, bad1, bad2)
	articles := newFakeArticleRepo()
	fetcher := &fakeFetcher{
		errs: map[string]error{
			"https://example.com/b": fmt.Errorf("fetch https://example.com/b: %w", ErrNotFound),
			"https://example.com/c": fmt.Errorf("fetch https://example.com/c: %w", ErrNotFound),
		},
	}

	runner := newTestRunner(sources, pending, articles, fetcher)
	reporter := &recordingReporter{}

	result, err := runner.RunBatch(context.Background(), "", 5, domain.PendingStatusPending, reporter)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, articles.count())

	// Successful row is done; failed rows carry one retry and stay
	// eligible for the retry sweep.
	assert.Equal(t, domain.PendingStatusCompleted, pending.get(ok.ID).Status)
	for _, row := range []*domain.PendingArticle{bad1, bad2} {
		got := pending.get(row.ID)
		assert.Equal(t, domain.PendingStatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	}

	// Per-URL outcomes were reported and progress reached the total.
	assert.Len(t, reporter.infos, 3)
	assert.Equal(t, 3, reporter.current)
	assert.Equal(t, 3, reporter.total)

	// Source stats reflect the split.
	assert.Equal(t, [2]int{1, 2}, sources.stats[source.ID])
}

func TestRunBatchIsIdempotent(t *testing.T) {
	source := testSource("src-1")
	row := testPending(source.ID, "https://example.com/a")

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	articles := newFakeArticleRepo()
	runner := newTestRunner(sources, pending, articles, &fakeFetcher{})

	result, err := runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	// A second batch finds nothing to do and creates no duplicates.
	result, err = runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, &domain.CrawlResult{}, result)
	assert.Equal(t, 1, articles.count())
}

func TestDuplicateURLCountsAsSkipped(t *testing.T) {
	source := testSource("src-1")
	url := "https://example.com/a"
	first := testPending(source.ID, url)

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(first)
	articles := newFakeArticleRepo()
	require.NoError(t, articles.Create(context.Background(), &domain.Article{
		ID:      uuid.New().String(),
		URL:     url,
		URLHash: domain.HashURL(url),
	}))

	runner := newTestRunner(sources, pending, articles, &fakeFetcher{})

	result, err := runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, &recordingReporter{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Success)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, domain.PendingStatusCompleted, pending.get(first.ID).Status)
	assert.Equal(t, 1, articles.count())
}

func TestRetryCeilingAbandons(t *testing.T) {
	source := testSource("src-1")
	row := testPending(source.ID, "https://example.com/a")
	row.Status = domain.PendingStatusFailed
	row.RetryCount = 2

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	fetcher := &fakeFetcher{errs: map[string]error{row.URL: fmt.Errorf("timeout")}}
	runner := newTestRunner(sources, pending, newFakeArticleRepo(), fetcher)

	result, err := runner.RunBatch(context.Background(), source.ID, 0, domain.PendingStatusFailed, &recordingReporter{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	got := pending.get(row.ID)
	assert.Equal(t, domain.PendingStatusAbandoned, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestGoneURLRetriesLikeAnyFailure(t *testing.T) {
	source := testSource("src-1")
	row := testPending(source.ID, "https://example.com/gone")

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	fetcher := &fakeFetcher{errs: map[string]error{row.URL: fmt.Errorf("fetch: %w", ErrNotFound)}}
	runner := newTestRunner(sources, pending, newFakeArticleRepo(), fetcher)

	result, err := runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, &recordingReporter{})
	require.NoError(t, err)

	// A 404 counts as one failed attempt, not an immediate abandon; the
	// row stays eligible for the retry sweep until the ceiling.
	assert.Equal(t, 1, result.Failed)
	got := pending.get(row.ID)
	assert.Equal(t, domain.PendingStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRetrySweepRecordsArticleFetchFailure(t *testing.T) {
	source := testSource("src-1")
	url := "https://example.com/a"
	row := testPending(source.ID, url)
	row.Status = domain.PendingStatusFailed
	row.RetryCount = 1

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	articles := newFakeArticleRepo()
	require.NoError(t, articles.Create(context.Background(), &domain.Article{
		ID:          uuid.New().String(),
		URL:         url,
		URLHash:     domain.HashURL(url),
		FetchStatus: domain.FetchStatusSuccess,
	}))
	// The duplicate guard would skip this row if the fetch succeeded;
	// force a fetch error to exercise the failure path.
	fetcher := &fakeFetcher{errs: map[string]error{url: fmt.Errorf("timeout")}}
	runner := newTestRunner(sources, pending, articles, fetcher)

	result, err := runner.RunBatch(context.Background(), source.ID, 0, domain.PendingStatusFailed, &recordingReporter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	// The article row mirrors the failed re-fetch.
	assert.Equal(t, []string{row.URLHash}, articles.failures)
	article, err := articles.GetByURLHash(context.Background(), row.URLHash)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusRetry, article.FetchStatus)
	assert.Equal(t, 1, article.RetryCount)
}

func TestFirstPassFailureSkipsArticleFailureRecord(t *testing.T) {
	source := testSource("src-1")
	row := testPending(source.ID, "https://example.com/a")

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	articles := newFakeArticleRepo()
	fetcher := &fakeFetcher{errs: map[string]error{row.URL: fmt.Errorf("timeout")}}
	runner := newTestRunner(sources, pending, articles, fetcher)

	_, err := runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, &recordingReporter{})
	require.NoError(t, err)

	// No article exists yet on the first pass, so nothing to record.
	assert.Empty(t, articles.failures)
}

func TestRunBatchObservesCancellation(t *testing.T) {
	source := testSource("src-1")
	rows := []*domain.PendingArticle{
		testPending(source.ID, "https://example.com/a"),
		testPending(source.ID, "https://example.com/b"),
	}

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(rows...)
	runner := newTestRunner(sources, pending, newFakeArticleRepo(), &fakeFetcher{})

	reporter := &recordingReporter{cancelled: true}
	_, err := runner.RunBatch(context.Background(), "", 0, domain.PendingStatusPending, reporter)
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing was claimed: cancellation is observed before any fetch.
	for _, row := range rows {
		assert.Equal(t, domain.PendingStatusPending, pending.get(row.ID).Status)
	}
}

func TestCrawlSourceSynchronous(t *testing.T) {
	source := testSource("src-1")
	row := testPending(source.ID, "https://example.com/a")

	sources := newFakeSourceRepo(source)
	pending := newFakePendingRepo(row)
	articles := newFakeArticleRepo()
	runner := newTestRunner(sources, pending, articles, &fakeFetcher{})

	result, err := runner.CrawlSource(context.Background(), source.ID, 10, domain.PendingStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, articles.count())
}
