package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticTool struct {
	name   string
	result string
	err    error
	panics bool
}

func (t *staticTool) Name() string                          { return t.name }
func (t *staticTool) Description() string                   { return "static" }
func (t *staticTool) ArgsSchema() map[string]interface{}    { return map[string]interface{}{"type": "object"} }
func (t *staticTool) Invoke(context.Context, map[string]interface{}) (string, error) {
	if t.panics {
		panic("tool exploded")
	}
	return t.result, t.err
}

func decodeError(t *testing.T, payload string) string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("payload is not an error object: %s", payload)
	}
	return m["error"]
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	out := r.Invoke(context.Background(), "no_such_tool", nil)
	if msg := decodeError(t, out); !strings.Contains(msg, "no_such_tool") {
		t.Fatalf("error does not name the tool: %s", msg)
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&staticTool{name: "boom", panics: true})
	out := r.Invoke(context.Background(), "boom", nil)
	if msg := decodeError(t, out); !strings.Contains(msg, "panicked") {
		t.Fatalf("panic not converted to error payload: %s", out)
	}
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&staticTool{name: "zeta"})
	r.Register(&staticTool{name: "alpha"})
	r.Register(&staticTool{name: "mid"})
	schemas := r.Schemas()
	if len(schemas) != 3 || schemas[0].Name != "alpha" || schemas[1].Name != "mid" || schemas[2].Name != "zeta" {
		t.Fatalf("schemas not sorted: %+v", schemas)
	}
}

func TestClockToolTimezone(t *testing.T) {
	clock := NewClockTool()
	clock.Now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	out, err := clock.Invoke(context.Background(), map[string]interface{}{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "2024-03-15 12:00:00 Friday UTC" {
		t.Fatalf("unexpected clock output: %s", out)
	}
}

func TestClockToolInvalidTimezone(t *testing.T) {
	clock := NewClockTool()
	out, err := clock.Invoke(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if msg := decodeError(t, out); !strings.Contains(msg, "Mars/Olympus") {
		t.Fatalf("error does not name the timezone: %s", out)
	}
}

func TestPDFToolSpanCapBeforeDownload(t *testing.T) {
	pdfTool := NewPDFTool(time.Second, 5)
	fetched := false
	pdfTool.fetch = func(ctx context.Context, url string) ([]byte, error) {
		fetched = true
		return nil, nil
	}
	out, err := pdfTool.Invoke(context.Background(), map[string]interface{}{
		"url":        "https://example.com/report.pdf",
		"start_page": 1,
		"end_page":   30,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if msg := decodeError(t, out); !strings.Contains(msg, "exceeds") {
		t.Fatalf("expected span error, got %s", out)
	}
	if fetched {
		t.Fatalf("PDF was downloaded despite span violation")
	}
}

func TestPDFToolRejectsInvertedRange(t *testing.T) {
	pdfTool := NewPDFTool(time.Second, 5)
	pdfTool.fetch = func(ctx context.Context, url string) ([]byte, error) {
		t.Fatalf("fetch should not run for an inverted range")
		return nil, nil
	}
	out, _ := pdfTool.Invoke(context.Background(), map[string]interface{}{
		"url":        "https://example.com/report.pdf",
		"start_page": 9,
		"end_page":   3,
	})
	if msg := decodeError(t, out); !strings.Contains(msg, "before start_page") {
		t.Fatalf("expected range error, got %s", out)
	}
}

func TestWebpageToolRefusesPDFWithoutRendering(t *testing.T) {
	wp := NewWebpageTool(time.Second, 0)
	wp.render = func(ctx context.Context, url string) (string, error) {
		t.Fatalf("render must not run for a .pdf URL")
		return "", nil
	}
	out, err := wp.Invoke(context.Background(), map[string]interface{}{"url": "https://example.com/paper.PDF"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if msg := decodeError(t, out); msg != PDFRefusalMarker {
		t.Fatalf("expected PDF refusal marker, got %s", out)
	}
}

func TestWebpageToolRefusesPDFViewerShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer srv.Close()

	wp := NewWebpageTool(time.Second, 0)
	wp.render = func(ctx context.Context, url string) (string, error) {
		return `<html><body><embed src="doc.pdf" type="application/pdf"></body></html>`, nil
	}
	out, _ := wp.Invoke(context.Background(), map[string]interface{}{"url": srv.URL + "/doc"})
	if msg := decodeError(t, out); msg != PDFRefusalMarker {
		t.Fatalf("expected viewer-shell refusal, got %s", out)
	}
}

func TestWebpageToolExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer srv.Close()

	page := `<html><head><title>Quarterly Numbers</title></head><body><article>
	<h1>Quarterly Numbers</h1>
	<p>Revenue grew twelve percent year over year according to the published filing,
	driven mostly by the subscription segment which expanded in every region.</p>
	<p>Operating margin held steady while headcount increased modestly over the
	previous quarter, according to the company's own statements.</p>
	</article></body></html>`

	wp := NewWebpageTool(time.Second, 0)
	wp.render = func(ctx context.Context, url string) (string, error) { return page, nil }
	out, err := wp.Invoke(context.Background(), map[string]interface{}{"url": srv.URL + "/article"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, "Revenue grew twelve percent") {
		t.Fatalf("article body missing from output:\n%s", out)
	}
}

func TestWebpageToolTruncatesLongPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	long := strings.Repeat("word word word word word word word word word word. ", 200)
	page := "<html><body><article><p>" + long + "</p></article></body></html>"
	wp := NewWebpageTool(time.Second, 500)
	wp.render = func(ctx context.Context, url string) (string, error) { return page, nil }
	out, err := wp.Invoke(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, "[truncated]") {
		t.Fatalf("long page was not truncated")
	}
}

func TestGoogleAlternativeParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
		<a href="https://news.example.com/story-one"><h3>Story One</h3></a>
		<a href="https://news.example.com/story-one"><h3>Story One Again</h3></a>
		<a href="https://other.example.org/two"><h3><b>Story</b> Two</h3></a>
		</body></html>`))
	}))
	defer srv.Close()

	tool := NewGoogleAlternativeTool(time.Second)
	tool.baseURL = srv.URL
	out, err := tool.Invoke(context.Background(), map[string]interface{}{"query": "example"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var results []SearchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected duplicate link dropped, got %d results: %s", len(results), out)
	}
	if results[1].Title != "Story Two" {
		t.Fatalf("nested markup not stripped from title: %q", results[1].Title)
	}
}

func TestGoogleAlternativeReportsChallengePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Our systems have detected unusual traffic from your network."))
	}))
	defer srv.Close()

	tool := NewGoogleAlternativeTool(time.Second)
	tool.baseURL = srv.URL
	out, _ := tool.Invoke(context.Background(), map[string]interface{}{"query": "example"})
	var results []SearchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Snippet, "challenge") {
		t.Fatalf("challenge page not reported in snippet: %s", out)
	}
}
