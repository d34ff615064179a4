package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// maxRobotsBodyBytes limits the size of robots.txt responses.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// RobotsProbe checks a source's robots.txt policy.
type RobotsProbe struct {
	client    *http.Client
	userAgent string
}

// NewRobotsProbe creates a robots.txt prober.
func NewRobotsProbe(timeout time.Duration, userAgent string) *RobotsProbe {
	return &RobotsProbe{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Probe fetches and evaluates robots.txt for a base URL. It returns
// whether crawling is allowed for our user agent and the advertised
// crawl delay in seconds. A missing or unreachable robots.txt allows
// crawling with no delay.
func (p *RobotsProbe) Probe(ctx context.Context, baseURL string) (allowed bool, crawlDelay int, err error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse base url: %w", err)
	}

	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return false, 0, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return true, 0, nil // unreachable robots.txt does not block crawling
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true, 0, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return true, 0, nil
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return true, 0, nil
	}

	group := robots.FindGroup(p.userAgent)
	if group == nil {
		return true, 0, nil
	}

	return group.Test(parsed.Path + "/"), int(group.CrawlDelay / time.Second), nil
}
