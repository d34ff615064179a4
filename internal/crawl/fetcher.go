// Package crawl implements the crawl queue: sitemap import, per-source
// draining of pending articles, and the task handlers that drive both.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// maxResponseBodyBytes limits the size of fetched page responses.
const maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB

// Default extraction selectors when a source has no parser config.
const (
	defaultTitleSelector   = "h1"
	defaultContentSelector = "article"
)

// ErrNotFound is returned when a URL responds 404/410.
var ErrNotFound = errors.New("page not found")

// ExtractedArticle is the result of a fetch-and-extract call.
type ExtractedArticle struct {
	Title   string
	Content string
}

// Fetcher fetches a URL and extracts article title and body.
type Fetcher interface {
	Fetch(ctx context.Context, url string, parserConfig domain.JSONBMap) (*ExtractedArticle, error)
}

// HTTPFetcher fetches pages over HTTP and extracts content with CSS
// selectors from the source's parser config.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with the given timeout and user agent.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch retrieves the page and extracts title and body text.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, parserConfig domain.JSONBMap) (*ExtractedArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetch %s: %w", url, ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	titleSel := selectorFromConfig(parserConfig, "title_selector", defaultTitleSelector)
	contentSel := selectorFromConfig(parserConfig, "content_selector", defaultContentSelector)

	title := strings.TrimSpace(doc.Find(titleSel).First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var content strings.Builder
	doc.Find(contentSel).Each(func(_ int, s *goquery.Selection) {
		content.WriteString(strings.TrimSpace(s.Text()))
		content.WriteString("\n")
	})

	body := strings.TrimSpace(content.String())
	if body == "" {
		return nil, fmt.Errorf("fetch %s: no content matched selector %q", url, contentSel)
	}

	return &ExtractedArticle{Title: title, Content: body}, nil
}

// selectorFromConfig reads a selector from a source's parser config.
func selectorFromConfig(cfg domain.JSONBMap, key, fallback string) string {
	if cfg == nil {
		return fallback
	}
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
