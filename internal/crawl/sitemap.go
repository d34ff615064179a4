package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
)

// dateOnlyFormat is the date-only layout for sitemap lastmod values.
const dateOnlyFormat = "2006-01-02"

// maxSitemapBodyBytes limits the size of sitemap responses.
const maxSitemapBodyBytes = 20 * 1024 * 1024 // 20 MB

// maxChildSitemaps bounds how many child sitemaps of an index we follow.
const maxChildSitemaps = 10

// SitemapURL is a single URL entry extracted from a sitemap.
type SitemapURL struct {
	Loc     string
	Title   string
	LastMod *time.Time
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
	News    *struct {
		Title string `xml:"title"`
	} `xml:"news"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// ParseSitemap parses standard sitemap XML. When maxAge > 0, URLs whose
// lastmod is older than maxAge are dropped; URLs without lastmod are
// kept.
func ParseSitemap(body []byte, maxAge time.Duration) ([]SitemapURL, error) {
	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	urls := make([]SitemapURL, 0, len(urlset.URLs))
	for _, u := range urlset.URLs {
		entry := SitemapURL{Loc: u.Loc}
		if u.News != nil {
			entry.Title = u.News.Title
		}

		if u.LastMod != "" {
			if t, err := parseLastMod(u.LastMod); err == nil {
				entry.LastMod = &t
			}
		}

		if !cutoff.IsZero() && entry.LastMod != nil && entry.LastMod.Before(cutoff) {
			continue
		}

		urls = append(urls, entry)
	}

	return urls, nil
}

// ParseSitemapIndex extracts child sitemap locations from an index file.
func ParseSitemapIndex(body []byte) ([]string, error) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("parse sitemap index: %w", err)
	}

	locs := make([]string, 0, len(index.Sitemaps))
	for _, s := range index.Sitemaps {
		locs = append(locs, s.Loc)
	}

	return locs, nil
}

// parseLastMod accepts both RFC3339 and date-only lastmod values.
func parseLastMod(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(dateOnlyFormat, value)
}

// SitemapImporter discovers article URLs from a source's sitemap and
// queues them as pending articles, deduplicated on (source_id, url_hash).
type SitemapImporter struct {
	client  *http.Client
	pending database.PendingRepositoryInterface
	sources database.SourceRepositoryInterface
	logger  logger.Logger
	maxAge  time.Duration
}

// NewSitemapImporter creates a sitemap importer.
func NewSitemapImporter(
	timeout time.Duration,
	maxAge time.Duration,
	pending database.PendingRepositoryInterface,
	sources database.SourceRepositoryInterface,
	log logger.Logger,
) *SitemapImporter {
	return &SitemapImporter{
		client:  &http.Client{Timeout: timeout},
		pending: pending,
		sources: sources,
		logger:  log,
		maxAge:  maxAge,
	}
}

// Import fetches the source's sitemap (following one level of sitemap
// index) and inserts new pending articles. Returns the number of newly
// queued URLs.
func (i *SitemapImporter) Import(ctx context.Context, source *domain.CrawlSource) (int, error) {
	if source.SitemapURL == nil || *source.SitemapURL == "" {
		return 0, nil
	}

	body, err := i.fetch(ctx, *source.SitemapURL)
	if err != nil {
		return 0, err
	}

	urls, err := ParseSitemap(body, i.maxAge)
	if err != nil || len(urls) == 0 {
		// Not a urlset; try it as a sitemap index.
		children, idxErr := ParseSitemapIndex(body)
		if idxErr != nil || len(children) == 0 {
			if err != nil {
				return 0, err
			}
		}
		if len(children) > maxChildSitemaps {
			children = children[:maxChildSitemaps]
		}
		for _, child := range children {
			childBody, fetchErr := i.fetch(ctx, child)
			if fetchErr != nil {
				i.logger.Warn("fetch child sitemap",
					logger.Error(fetchErr),
					logger.String("sitemap_url", child),
				)
				continue
			}
			childURLs, parseErr := ParseSitemap(childBody, i.maxAge)
			if parseErr != nil {
				continue
			}
			urls = append(urls, childURLs...)
		}
	}

	queued := 0
	for _, u := range urls {
		pending := &domain.PendingArticle{
			ID:          uuid.New().String(),
			SourceID:    source.ID,
			SitemapID:   source.SitemapURL,
			URL:         u.Loc,
			URLHash:     domain.HashURL(u.Loc),
			PublishTime: u.LastMod,
			Status:      domain.PendingStatusPending,
		}
		if u.Title != "" {
			title := u.Title
			pending.Title = &title
		}

		inserted, err := i.pending.Insert(ctx, pending)
		if err != nil {
			return queued, err
		}
		if inserted {
			queued++
		}
	}

	if err := i.sources.UpdateSitemapChecked(ctx, source.ID); err != nil {
		i.logger.Warn("update sitemap checked", logger.Error(err), logger.String("source_id", source.ID))
	}

	i.logger.Info("sitemap imported",
		logger.String("source_id", source.ID),
		logger.Int("discovered", len(urls)),
		logger.Int("queued", queued),
	)

	return queued, nil
}

func (i *SitemapImporter) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build sitemap request: %w", err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read sitemap %s: %w", url, err)
	}

	return body, nil
}
