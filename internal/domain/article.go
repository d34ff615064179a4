package domain

import (
	"crypto/md5" //nolint:gosec // dedup key, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PendingStatus represents the crawl-queue lifecycle of a discovered URL.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusCrawling  PendingStatus = "crawling"
	PendingStatusCompleted PendingStatus = "completed"
	PendingStatusFailed    PendingStatus = "failed"
	PendingStatusAbandoned PendingStatus = "abandoned"
)

// PendingArticle is a discovered-but-not-yet-fetched URL in a source's
// crawl queue. Transitions are driven exclusively by the crawl batch
// runner; abandoned is terminal and reachable only after exceeding the
// retry ceiling.
type PendingArticle struct {
	ID          string        `db:"id"           json:"id"`
	SourceID    string        `db:"source_id"    json:"source_id"`
	SitemapID   *string       `db:"sitemap_id"   json:"sitemap_id,omitempty"`
	URL         string        `db:"url"          json:"url"`
	URLHash     string        `db:"url_hash"     json:"url_hash"`
	Title       *string       `db:"title"        json:"title,omitempty"`
	PublishTime *time.Time    `db:"publish_time" json:"publish_time,omitempty"`
	Status      PendingStatus `db:"status"       json:"status"`
	RetryCount  int           `db:"retry_count"  json:"retry_count"`
	CreatedAt   time.Time     `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"   json:"updated_at"`
}

// ArticleStatus is the semantic processing status of a fetched article.
type ArticleStatus string

const (
	ArticleStatusRaw       ArticleStatus = "raw"
	ArticleStatusProcessed ArticleStatus = "processed"
	ArticleStatusSynced    ArticleStatus = "synced"
	ArticleStatusFailed    ArticleStatus = "failed"
)

// FetchStatus is the operational fetch status of an article.
type FetchStatus string

const (
	FetchStatusPending FetchStatus = "pending"
	FetchStatusSuccess FetchStatus = "success"
	FetchStatusRetry   FetchStatus = "retry"
	FetchStatusFailed  FetchStatus = "failed"
)

// Article is a fetched news article. URLHash (MD5 of the URL) is the
// collision-tolerant dedup key; ContentHash (SHA-256 of the body)
// supports change and duplicate detection.
type Article struct {
	ID          string        `db:"id"            json:"id"`
	SourceID    string        `db:"source_id"     json:"source_id"`
	URL         string        `db:"url"           json:"url"`
	URLHash     string        `db:"url_hash"      json:"url_hash"`
	ContentHash string        `db:"content_hash"  json:"content_hash"`
	Title       string        `db:"title"         json:"title"`
	Content     string        `db:"content"       json:"content"`
	PublishTime *time.Time    `db:"publish_time"  json:"publish_time,omitempty"`
	Status      ArticleStatus `db:"status"        json:"status"`
	FetchStatus FetchStatus   `db:"fetch_status"  json:"fetch_status"`
	RetryCount  int           `db:"retry_count"   json:"retry_count"`
	LastRetryAt *time.Time    `db:"last_retry_at" json:"last_retry_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"    json:"updated_at"`
}

// HashURL returns the MD5 hex digest of a URL, used as the dedup key
// for articles and pending queue entries.
func HashURL(url string) string {
	sum := md5.Sum([]byte(url)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// HashContent returns the SHA-256 hex digest of an article body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
