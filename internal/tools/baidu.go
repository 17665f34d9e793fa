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

var (
	baiduBlockRe = regexp.MustCompile(`(?s)<div class="result[^"]*"[^>]*>.*?</div>\s*</div>`)
	baiduTitleRe = regexp.MustCompile(`(?s)<h3[^>]*>\s*<a[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	baiduAbsRe   = regexp.MustCompile(`(?s)<span class="content-right_[^"]*"[^>]*>(.*?)</span>`)
)

// BaiduTool scrapes Baidu result pages. Most useful for claims circulating in
// Chinese-language media that western engines index poorly.
type BaiduTool struct {
	client  *http.Client
	baseURL string
}

func NewBaiduTool(timeout time.Duration) *BaiduTool {
	return &BaiduTool{client: newScrapeClient(timeout), baseURL: "https://www.baidu.com/s"}
}

func (t *BaiduTool) Name() string { return "search_baidu" }

func (t *BaiduTool) Description() string {
	return "Search the web with Baidu (scraped). Best for Chinese-language queries and sources."
}

func (t *BaiduTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "The search query."},
			"limit": map[string]interface{}{"type": "integer", "description": "Maximum number of results. Default 10."},
			"safe":  map[string]interface{}{"type": "boolean", "description": "Enable safe search. Default false."},
		},
		"required": []string{"query"},
	}
}

func (t *BaiduTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorJSON("query is required"), nil
	}
	limit := intArg(args, "limit", 10)

	params := url.Values{}
	params.Set("wd", query)
	params.Set("rn", strconv.Itoa(limit))
	if boolArg(args, "safe", false) {
		params.Set("safe", "1")
	}

	body, finalURL, err := fetchHTML(ctx, t.client, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("baidu scrape failed: %v", err)), nil
	}
	if strings.Contains(finalURL, "wappass.baidu.com") || strings.Contains(body, "百度安全验证") {
		return ErrorJSON("baidu served a security-verification challenge page; results unavailable"), nil
	}

	var results []SearchResult
	for _, block := range baiduBlockRe.FindAllString(body, -1) {
		tm := baiduTitleRe.FindStringSubmatch(block)
		if tm == nil {
			continue
		}
		// Baidu links are opaque redirectors; keep them as-is, the fetch
		// tool follows redirects anyway.
		r := SearchResult{Link: tm[1], Title: stripTags(tm[2])}
		if sm := baiduAbsRe.FindStringSubmatch(block); sm != nil {
			r.Snippet = stripTags(sm[1])
		}
		results = append(results, r)
		if len(results) >= limit {
			break
		}
	}
	if len(results) == 0 {
		return ErrorJSON("no results parsed from baidu page (layout may have changed or a challenge page was served)"), nil
	}
	return marshalResults(results), nil
}
