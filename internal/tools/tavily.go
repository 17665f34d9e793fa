package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyTool queries the Tavily search API. Optional bundle; only registered
// for sessions that select it.
type TavilyTool struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func NewTavilyTool(apiKey string, timeout time.Duration) *TavilyTool {
	return &TavilyTool{apiKey: apiKey, client: &http.Client{Timeout: timeout}, baseURL: tavilyEndpoint}
}

func (t *TavilyTool) Name() string { return "tavily_search" }

func (t *TavilyTool) Description() string {
	return "Search the web with the Tavily research API. Returns result snippets pre-digested for LLM consumption."
}

func (t *TavilyTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "The search query."},
			"limit": map[string]interface{}{"type": "integer", "description": "Maximum number of results. Default 5."},
			"topic": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"general", "news"},
				"description": "Search category. Use \"news\" for recent events. Default general.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *TavilyTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return ErrorJSON("query is required"), nil
	}
	if t.apiKey == "" {
		return ErrorJSON("tavily search is not configured (missing api key)"), nil
	}
	payload := map[string]interface{}{
		"api_key":     t.apiKey,
		"query":       query,
		"max_results": intArg(args, "limit", 5),
	}
	if topic := stringArg(args, "topic"); topic != "" {
		payload["topic"] = topic
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("tavily request failed: %v", err)), nil
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorJSON(fmt.Sprintf("tavily returned status %d: %s", resp.StatusCode, truncate(string(respBody), 300))), nil
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ErrorJSON(fmt.Sprintf("decode tavily response: %v", err)), nil
	}
	results := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, SearchResult{Title: r.Title, Link: r.URL, Snippet: r.Content})
	}
	if len(results) == 0 {
		return ErrorJSON("no tavily results for query: " + query), nil
	}
	return marshalResults(results), nil
}
