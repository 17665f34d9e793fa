package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const customSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleOfficialTool queries the Google Custom Search JSON API.
type GoogleOfficialTool struct {
	apiKey  string
	cx      string
	client  *http.Client
	baseURL string
}

func NewGoogleOfficialTool(apiKey, cx string, timeout time.Duration) *GoogleOfficialTool {
	return &GoogleOfficialTool{
		apiKey:  apiKey,
		cx:      cx,
		client:  &http.Client{Timeout: timeout},
		baseURL: customSearchEndpoint,
	}
}

func (t *GoogleOfficialTool) Name() string { return "search_google_official" }

func (t *GoogleOfficialTool) Description() string {
	return "Search the web with the official Google Custom Search API. Best default search engine. Returns up to 10 results with title, link and snippet."
}

func (t *GoogleOfficialTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "The search query."},
			"num":   map[string]interface{}{"type": "integer", "description": "Number of results, 1-10. Default 10."},
			"date_restrict": map[string]interface{}{
				"type":        "string",
				"description": "Restrict results by recency, e.g. \"d7\" (7 days), \"m3\" (3 months), \"y1\" (1 year). Optional.",
			},
			"site_search": map[string]interface{}{
				"type":        "string",
				"description": "Restrict results to a site, e.g. \"reuters.com\". Optional.",
			},
			"language": map[string]interface{}{
				"type":        "string",
				"description": "Result language code, e.g. \"en\", \"zh-CN\". Optional.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *GoogleOfficialTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorJSON("query is required"), nil
	}
	if t.apiKey == "" || t.cx == "" {
		return ErrorJSON("google custom search is not configured (missing api key or cx)"), nil
	}
	num := intArg(args, "num", 10)
	if num < 1 {
		num = 1
	}
	if num > 10 {
		num = 10
	}

	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("cx", t.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	if v := stringArg(args, "date_restrict"); v != "" {
		params.Set("dateRestrict", v)
	}
	if v := stringArg(args, "site_search"); v != "" {
		params.Set("siteSearch", v)
	}
	if v := stringArg(args, "language"); v != "" {
		params.Set("lr", "lang_"+v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("google search request failed: %v", err)), nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorJSON(fmt.Sprintf("google search returned status %d: %s", resp.StatusCode, truncate(string(body), 300))), nil
	}

	var parsed struct {
		Items []struct {
			Title       string `json:"title"`
			Link        string `json:"link"`
			Snippet     string `json:"snippet"`
			DisplayLink string `json:"displayLink"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorJSON(fmt.Sprintf("decode google response: %v", err)), nil
	}
	results := make([]SearchResult, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		results = append(results, SearchResult{
			Title:       it.Title,
			Link:        it.Link,
			Snippet:     it.Snippet,
			DisplayLink: it.DisplayLink,
		})
	}
	if len(results) == 0 {
		return marshalResults([]SearchResult{{Snippet: "no results found for query: " + query}}), nil
	}
	return marshalResults(results), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
