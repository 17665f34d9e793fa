package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// scrapeUserAgent masquerades as a desktop browser; the scraped engines serve
// trimmed or empty markup to obvious bot agents.
const scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var tagRe = regexp.MustCompile(`<[^>]+>`)

// fetchHTML downloads a page with browser-like headers and reports the final
// URL after redirects so callers can spot challenge-page bounces.
func fetchHTML(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (body string, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.Request.URL.String(), fmt.Errorf("status %d", resp.StatusCode)
	}
	return string(b), resp.Request.URL.String(), nil
}

// stripTags flattens an HTML fragment to plain text.
func stripTags(fragment string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(fragment, "")))
}

func newScrapeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
