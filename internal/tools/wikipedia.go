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

// WikipediaTool talks to the MediaWiki action API. It is the workhorse of the
// knowledge-extraction stage: title search to disambiguate an entity, content
// search to locate it, then a page fetch for the extract.
type WikipediaTool struct {
	client          *http.Client
	defaultLanguage string
	// endpointFor is swappable for tests.
	endpointFor func(lang string) string
}

func NewWikipediaTool(timeout time.Duration, defaultLanguage string) *WikipediaTool {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &WikipediaTool{
		client:          &http.Client{Timeout: timeout},
		defaultLanguage: defaultLanguage,
		endpointFor: func(lang string) string {
			return fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang)
		},
	}
}

func (t *WikipediaTool) Name() string { return "search_wikipedia" }

func (t *WikipediaTool) Description() string {
	return "Query Wikipedia. action=search_by_titles finds pages whose title matches the query; action=search_by_content does full-text search; action=get_page returns the plain-text extract of a page by exact title."
}

func (t *WikipediaTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"search_by_titles", "search_by_content", "get_page"},
				"description": "Which Wikipedia operation to perform.",
			},
			"query":    map[string]interface{}{"type": "string", "description": "Search terms, or the exact page title for get_page."},
			"limit":    map[string]interface{}{"type": "integer", "description": "Maximum results for searches. Default 5."},
			"language": map[string]interface{}{"type": "string", "description": "Wikipedia language edition, e.g. \"en\", \"zh\". Optional."},
		},
		"required": []string{"action", "query"},
	}
}

func (t *WikipediaTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	action := stringArg(args, "action")
	query := stringArg(args, "query")
	if query == "" {
		return ErrorJSON("query is required"), nil
	}
	lang := stringArg(args, "language")
	if lang == "" {
		lang = t.defaultLanguage
	}
	limit := intArg(args, "limit", 5)

	switch action {
	case "search_by_titles":
		return t.search(ctx, lang, query, limit, "nearmatch")
	case "search_by_content":
		return t.search(ctx, lang, query, limit, "text")
	case "get_page":
		return t.getPage(ctx, lang, query)
	default:
		return ErrorJSON(fmt.Sprintf("unknown action %q; expected search_by_titles, search_by_content or get_page", action)), nil
	}
}

func (t *WikipediaTool) search(ctx context.Context, lang, query string, limit int, what string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit))
	params.Set("srwhat", what)

	body, err := t.do(ctx, lang, params)
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	var parsed struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorJSON(fmt.Sprintf("decode wikipedia response: %v", err)), nil
	}
	// A nearmatch search returns nothing unless the title is almost exact;
	// retry as a normal text search so the agent still gets candidates.
	if len(parsed.Query.Search) == 0 && what == "nearmatch" {
		return t.search(ctx, lang, query, limit, "text")
	}
	type hit struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		URL     string `json:"url"`
	}
	hits := make([]hit, 0, len(parsed.Query.Search))
	for _, s := range parsed.Query.Search {
		hits = append(hits, hit{
			Title:   s.Title,
			Snippet: stripTags(s.Snippet),
			URL:     fmt.Sprintf("https://%s.wikipedia.org/wiki/%s", lang, url.PathEscape(s.Title)),
		})
	}
	if len(hits) == 0 {
		return ErrorJSON("no wikipedia pages found for query: " + query), nil
	}
	b, _ := json.Marshal(hits)
	return string(b), nil
}

func (t *WikipediaTool) getPage(ctx context.Context, lang, title string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "extracts")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("titles", title)

	body, err := t.do(ctx, lang, params)
	if err != nil {
		return ErrorJSON(err.Error()), nil
	}
	var parsed struct {
		Query struct {
			Pages map[string]struct {
				Title   string    `json:"title"`
				Extract string    `json:"extract"`
				Missing *struct{} `json:"missing,omitempty"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorJSON(fmt.Sprintf("decode wikipedia response: %v", err)), nil
	}
	for id, p := range parsed.Query.Pages {
		if id == "-1" || p.Extract == "" {
			continue
		}
		out, _ := json.Marshal(map[string]string{"title": p.Title, "content": p.Extract})
		return string(out), nil
	}
	return ErrorJSON(fmt.Sprintf("wikipedia page %q not found; try search_by_titles first", title)), nil
}

func (t *WikipediaTool) do(ctx context.Context, lang string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpointFor(lang)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "veritas-fact-checker/1.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
