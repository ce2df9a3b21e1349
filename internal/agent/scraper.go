package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"
)

// Scraper fetches website pages for knowledge-base construction. Network
// failures, timeouts and upstream 5xx are transient; a page that answers
// with a client error is permanent.
type Scraper struct {
	client       *http.Client
	maxBodyBytes int64
}

func NewScraper(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Scraper{
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: 2 << 20,
	}
}

func (s *Scraper) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", domain.Permanent(fmt.Errorf("build request for %s: %w", pageURL, err))
	}
	req.Header.Set("User-Agent", "mills-agent/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", domain.Transient(fmt.Errorf("fetch %s: %w", pageURL, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.Transient(fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", domain.Permanent(fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return "", domain.Transient(fmt.Errorf("read %s: %w", pageURL, err))
	}

	return string(body), nil
}

var hrefRe = regexp.MustCompile(`href\s*=\s*["']([^"']+)["']`)

// Links extracts up to max same-host links from html, resolved against
// baseURL. Extraction quality is not a goal here; the pipeline only needs a
// bounded set of candidate pages to fan out over.
func (s *Scraper) Links(baseURL, html string, max int) []string {
	base, err := url.Parse(baseURL)
	if err != nil || max <= 0 {
		return nil
	}

	seen := map[string]struct{}{base.String(): {}}
	var links []string

	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host {
			continue
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		resolved.Fragment = ""

		key := resolved.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		links = append(links, key)
		if len(links) >= max {
			break
		}
	}

	return links
}
