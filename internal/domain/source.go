package domain

import (
	"time"
)

// DiscoveryMethod describes how new article URLs are found for a source.
type DiscoveryMethod string

const (
	DiscoverySitemap DiscoveryMethod = "sitemap"
	DiscoveryList    DiscoveryMethod = "list"
	DiscoveryHybrid  DiscoveryMethod = "hybrid"
)

// CrawlSource is a configured news site. Created by admin action;
// crawl, robots, and sitemap probes update its operational fields.
type CrawlSource struct {
	ID              string          `db:"id"                json:"id"`
	Name            string          `db:"name"              json:"name"`
	BaseURL         string          `db:"base_url"          json:"base_url"`
	ParserConfig    JSONBMap        `db:"parser_config"     json:"parser_config,omitempty"`
	Enabled         bool            `db:"enabled"           json:"enabled"`
	CrawlInterval   int             `db:"crawl_interval"    json:"crawl_interval"` // minutes
	RobotsAllowed   bool            `db:"robots_allowed"    json:"robots_allowed"`
	CrawlDelay      int             `db:"crawl_delay"       json:"crawl_delay"` // seconds
	SitemapURL      *string         `db:"sitemap_url"       json:"sitemap_url,omitempty"`
	SitemapChecked  *time.Time      `db:"sitemap_checked_at" json:"sitemap_checked_at,omitempty"`
	SuccessCount    int             `db:"success_count"     json:"success_count"`
	FailureCount    int             `db:"failure_count"     json:"failure_count"`
	DiscoveryMethod DiscoveryMethod `db:"discovery_method"  json:"discovery_method"`
	LastCrawledAt   *time.Time      `db:"last_crawled_at"   json:"last_crawled_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"        json:"updated_at"`
}

// DueForCrawl reports whether the source's crawl interval has elapsed
// since its last crawl. Sources that have never been crawled are due.
func (s *CrawlSource) DueForCrawl(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastCrawledAt == nil {
		return true
	}
	return now.Sub(*s.LastCrawledAt) >= time.Duration(s.CrawlInterval)*time.Minute
}
