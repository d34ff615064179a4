package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSitemap(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/news/a</loc>
    <lastmod>2026-08-29T10:00:00Z</lastmod>
  </url>
  <url>
    <loc>https://example.com/news/b</loc>
    <lastmod>2026-08-28</lastmod>
  </url>
  <url>
    <loc>https://example.com/news/c</loc>
  </url>
</urlset>`)

	urls, err := ParseSitemap(body, 0)
	require.NoError(t, err)
	require.Len(t, urls, 3)

	assert.Equal(t, "https://example.com/news/a", urls[0].Loc)
	require.NotNil(t, urls[0].LastMod)
	assert.Equal(t, 2026, urls[0].LastMod.Year())

	// Date-only lastmod is accepted.
	require.NotNil(t, urls[1].LastMod)

	// Missing lastmod is kept with a nil timestamp.
	assert.Nil(t, urls[2].LastMod)
}

func TestParseSitemapMaxAgeFilter(t *testing.T) {
	old := time.Now().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	fresh := time.Now().Add(-time.Hour).Format(time.RFC3339)

	body := []byte(`<urlset>
  <url><loc>https://example.com/old</loc><lastmod>` + old + `</lastmod></url>
  <url><loc>https://example.com/fresh</loc><lastmod>` + fresh + `</lastmod></url>
  <url><loc>https://example.com/undated</loc></url>
</urlset>`)

	urls, err := ParseSitemap(body, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "https://example.com/fresh", urls[0].Loc)
	// URLs without lastmod survive the age filter.
	assert.Equal(t, "https://example.com/undated", urls[1].Loc)
}

func TestParseSitemapNewsTitle(t *testing.T) {
	body := []byte(`<urlset>
  <url>
    <loc>https://example.com/news/a</loc>
    <news><title>Breaking Story</title></news>
  </url>
</urlset>`)

	urls, err := ParseSitemap(body, 0)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "Breaking Story", urls[0].Title)
}

func TestParseSitemapIndex(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-1.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-2.xml</loc></sitemap>
</sitemapindex>`)

	locs, err := ParseSitemapIndex(body)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/sitemap-1.xml",
		"https://example.com/sitemap-2.xml",
	}, locs)
}

func TestParseSitemapInvalidXML(t *testing.T) {
	_, err := ParseSitemap([]byte("not xml at all <"), 0)
	assert.Error(t, err)
}
