package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rsc.io/pdf"
)

const maxPDFBytes = 32 << 20

// PDFTool downloads a PDF and extracts text page by page. The page span is
// capped so a single tool call cannot blow the searcher's token budget on a
// 200-page report.
type PDFTool struct {
	client      *http.Client
	maxPageSpan int
	// fetch is swappable for tests; defaults to an HTTP download.
	fetch func(ctx context.Context, url string) ([]byte, error)
}

func NewPDFTool(timeout time.Duration, maxPageSpan int) *PDFTool {
	if maxPageSpan <= 0 {
		maxPageSpan = 5
	}
	t := &PDFTool{
		client:      &http.Client{Timeout: timeout},
		maxPageSpan: maxPageSpan,
	}
	t.fetch = t.download
	return t
}

func (t *PDFTool) Name() string { return "read_pdf" }

func (t *PDFTool) Description() string {
	return fmt.Sprintf("Download a PDF and extract text from a page range. At most %d consecutive pages per call; call again with a later start_page for more.", t.maxPageSpan)
}

func (t *PDFTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":        map[string]interface{}{"type": "string", "description": "URL of the PDF document."},
			"start_page": map[string]interface{}{"type": "integer", "description": "First page to read (1-based). Default 1."},
			"end_page":   map[string]interface{}{"type": "integer", "description": "Last page to read (inclusive). Defaults to start_page + 4."},
		},
		"required": []string{"url"},
	}
}

type pdfPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

func (t *PDFTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	rawURL := strings.TrimSpace(stringArg(args, "url"))
	if rawURL == "" {
		return ErrorJSON("url is required"), nil
	}
	startPage := intArg(args, "start_page", 1)
	if startPage < 1 {
		startPage = 1
	}
	endPage := intArg(args, "end_page", startPage+t.maxPageSpan-1)
	if endPage < startPage {
		return ErrorJSON(fmt.Sprintf("end_page %d is before start_page %d", endPage, startPage)), nil
	}
	// Span check comes before any network traffic.
	if endPage-startPage > t.maxPageSpan {
		return ErrorJSON(fmt.Sprintf("page span %d-%d exceeds the limit of %d consecutive pages per call; narrow the range", startPage, endPage, t.maxPageSpan)), nil
	}

	data, err := t.fetch(ctx, rawURL)
	if err != nil {
		return ErrorJSON(fmt.Sprintf("download %s: %v", rawURL, err)), nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ErrorJSON(fmt.Sprintf("parse PDF from %s: %v", rawURL, err)), nil
	}

	total := reader.NumPage()
	if startPage > total {
		return ErrorJSON(fmt.Sprintf("start_page %d is past the end of the document (%d pages)", startPage, total)), nil
	}
	if endPage > total {
		endPage = total
	}

	pages := make([]pdfPage, 0, endPage-startPage+1)
	for n := startPage; n <= endPage; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		var b strings.Builder
		for _, item := range page.Content().Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(chunk)
		}
		pages = append(pages, pdfPage{Page: n, Text: b.String()})
	}

	out, _ := json.Marshal(map[string]interface{}{
		"url":         rawURL,
		"total_pages": total,
		"pages":       pages,
	})
	return string(out), nil
}

func (t *PDFTool) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
}
