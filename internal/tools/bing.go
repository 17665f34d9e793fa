package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	bingBlockRe   = regexp.MustCompile(`(?s)<li class="b_algo".*?</li>`)
	bingTitleRe   = regexp.MustCompile(`(?s)<h2[^>]*><a[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	bingSnippetRe = regexp.MustCompile(`(?s)<p[^>]*>(.*?)</p>`)
)

// BingTool scrapes Bing web search result pages.
type BingTool struct {
	client  *http.Client
	baseURL string
}

func NewBingTool(timeout time.Duration) *BingTool {
	return &BingTool{client: newScrapeClient(timeout), baseURL: "https://www.bing.com/search"}
}

func (t *BingTool) Name() string { return "search_bing" }

func (t *BingTool) Description() string {
	return "Search the web with Bing (scraped). Set ensearch=true to force international (English) results."
}

func (t *BingTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":    map[string]interface{}{"type": "string", "description": "The search query."},
			"limit":    map[string]interface{}{"type": "integer", "description": "Maximum number of results. Default 10."},
			"ensearch": map[string]interface{}{"type": "boolean", "description": "Force international English results. Default false."},
		},
		"required": []string{"query"},
	}
}

func (t *BingTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorJSON("query is required"), nil
	}
	limit := intArg(args, "limit", 10)

	params := url.Values{}
	params.Set("q", query)
	if boolArg(args, "ensearch", false) {
		params.Set("ensearch", "1")
	}

	body, finalURL, err := fetchHTML(ctx, t.client, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("bing scrape failed: %v", err)), nil
	}
	if !strings.Contains(finalURL, "/search") || strings.Contains(finalURL, "login.live.com") {
		return ErrorJSON(fmt.Sprintf("bing redirected away from results to %s (likely a challenge page)", finalURL)), nil
	}

	var results []SearchResult
	for _, block := range bingBlockRe.FindAllString(body, -1) {
		tm := bingTitleRe.FindStringSubmatch(block)
		if tm == nil {
			continue
		}
		r := SearchResult{Link: tm[1], Title: stripTags(tm[2])}
		if sm := bingSnippetRe.FindStringSubmatch(block); sm != nil {
			r.Snippet = stripTags(sm[1])
		}
		results = append(results, r)
		if len(results) >= limit {
			break
		}
	}
	if len(results) == 0 {
		return ErrorJSON("no results parsed from bing page (layout may have changed or a challenge page was served)"), nil
	}
	return marshalResults(results), nil
}
