package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// PDFRefusalMarker is what read_webpage returns for PDF URLs. The searcher
// prompt tells the LLM to switch to read_pdf when it sees this marker.
const PDFRefusalMarker = "cannot process PDF: this URL points to a PDF document, use the read_pdf tool instead"

// WebpageTool renders a page in a headless browser and reduces it to
// readable text. Rendering first matters because most news sites hydrate
// article bodies client-side.
type WebpageTool struct {
	renderTimeout time.Duration
	maxChars      int
	headClient    *http.Client
	// render is swappable for tests; defaults to chromedp rendering.
	render func(ctx context.Context, url string) (string, error)
}

func NewWebpageTool(renderTimeout time.Duration, maxChars int) *WebpageTool {
	t := &WebpageTool{
		renderTimeout: renderTimeout,
		maxChars:      maxChars,
		headClient:    &http.Client{Timeout: 10 * time.Second},
	}
	t.render = t.renderHTML
	return t
}

func (t *WebpageTool) Name() string { return "read_webpage" }

func (t *WebpageTool) Description() string {
	return "Fetch a web page with a headless browser and return its readable text content. Refuses PDF URLs; use read_pdf for those."
}

func (t *WebpageTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "The URL to read."},
		},
		"required": []string{"url"},
	}
}

func (t *WebpageTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	rawURL := strings.TrimSpace(stringArg(args, "url"))
	if rawURL == "" {
		return ErrorJSON("url is required"), nil
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return ErrorJSON(fmt.Sprintf("invalid url %q: %v", rawURL, err)), nil
	}

	// Cheap PDF checks go first; a browser render of a PDF yields the
	// embedded viewer chrome, not the document.
	if t.looksLikePDF(ctx, rawURL) {
		return ErrorJSON(PDFRefusalMarker), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.renderTimeout)
	defer cancel()

	html, err := t.render(ctx, rawURL)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("render %s: %v", rawURL, err)), nil
	}
	if isPDFViewerPage(html) {
		return ErrorJSON(PDFRefusalMarker), nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return ErrorJSON(fmt.Sprintf("extract readable content from %s: %v", rawURL, err)), nil
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return ErrorJSON(fmt.Sprintf("no readable text extracted from %s", rawURL)), nil
	}
	if t.maxChars > 0 && len(text) > t.maxChars {
		text = text[:t.maxChars] + "\n...[truncated]"
	}

	var b strings.Builder
	if title := strings.TrimSpace(article.Title); title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	if byline := strings.TrimSpace(article.Byline); byline != "" {
		fmt.Fprintf(&b, "_%s_\n\n", byline)
	}
	b.WriteString(text)
	return b.String(), nil
}

// looksLikePDF combines the URL-extension check with a HEAD probe of the
// content type. Either signal alone is enough to refuse.
func (t *WebpageTool) looksLikePDF(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := t.headClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return strings.Contains(resp.Header.Get("Content-Type"), "application/pdf")
}

// isPDFViewerPage catches servers that wrap PDFs in an HTML viewer shell.
func isPDFViewerPage(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, `type="application/pdf"`) ||
		strings.Contains(lower, "pdfjs-viewer") ||
		strings.Contains(lower, `<embed src=`) && strings.Contains(lower, ".pdf")
}

func (t *WebpageTool) renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(scrapeUserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
