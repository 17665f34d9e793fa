package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var googleResultRe = regexp.MustCompile(`(?s)<a href="(https?://[^"]+)"[^>]*>\s*<h3[^>]*>(.*?)</h3>`)

// GoogleAlternativeTool scrapes Google result pages directly. Used when the
// official API key is absent or its quota is exhausted. On any failure it
// returns a single result carrying the error in the snippet so the caller
// can fall through to another engine.
type GoogleAlternativeTool struct {
	client  *http.Client
	baseURL string
}

func NewGoogleAlternativeTool(timeout time.Duration) *GoogleAlternativeTool {
	return &GoogleAlternativeTool{client: newScrapeClient(timeout), baseURL: "https://www.google.com/search"}
}

func (t *GoogleAlternativeTool) Name() string { return "search_google_alternative" }

func (t *GoogleAlternativeTool) Description() string {
	return "Search Google without an API key (scraped). Fallback when search_google_official fails. Returns results with title, link and snippet."
}

func (t *GoogleAlternativeTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":  map[string]interface{}{"type": "string", "description": "The search query."},
			"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of results. Default 10."},
			"lang":   map[string]interface{}{"type": "string", "description": "Interface language, e.g. \"en\". Optional."},
			"region": map[string]interface{}{"type": "string", "description": "Region code, e.g. \"us\". Optional."},
			"unique": map[string]interface{}{"type": "boolean", "description": "Drop duplicate links. Default true."},
		},
		"required": []string{"query"},
	}
}

func (t *GoogleAlternativeTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return marshalResults([]SearchResult{{Snippet: "error: query is required"}}), nil
	}
	limit := intArg(args, "limit", 10)
	unique := boolArg(args, "unique", true)

	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(limit+2))
	if v := stringArg(args, "lang"); v != "" {
		params.Set("hl", v)
	}
	if v := stringArg(args, "region"); v != "" {
		params.Set("gl", v)
	}

	body, finalURL, err := fetchHTML(ctx, t.client, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return marshalResults([]SearchResult{{Snippet: fmt.Sprintf("error: google scrape failed: %v", err)}}), nil
	}
	if strings.Contains(finalURL, "/sorry/") || strings.Contains(body, "unusual traffic") {
		return marshalResults([]SearchResult{{Snippet: "error: google redirected to a traffic-challenge page; try search_bing or search_baidu"}}), nil
	}

	seen := make(map[string]bool)
	var results []SearchResult
	for _, m := range googleResultRe.FindAllStringSubmatch(body, -1) {
		link, title := m[1], stripTags(m[2])
		if title == "" || strings.Contains(link, "google.com") {
			continue
		}
		if unique && seen[link] {
			continue
		}
		seen[link] = true
		results = append(results, SearchResult{Title: title, Link: link})
		if len(results) >= limit {
			break
		}
	}
	if len(results) == 0 {
		return marshalResults([]SearchResult{{Snippet: "error: no results parsed from google page (layout may have changed)"}}), nil
	}
	return marshalResults(results), nil
}
