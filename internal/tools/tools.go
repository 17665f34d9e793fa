package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
)

// Tool is one invocable capability exposed to the LLM. Implementations
// return ordinary failures as a JSON string with an "error" field; a Go
// error is reserved for programming mistakes.
type Tool interface {
	Name() string
	Description() string
	ArgsSchema() map[string]interface{}
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// SearchEngineNames is the set of search tools recognized by the Searcher's
// loop detector.
var SearchEngineNames = map[string]bool{
	"search_google_official":    true,
	"search_google_alternative": true,
	"search_bing":               true,
	"search_baidu":              true,
	"tavily_search":             true,
}

// Registry holds the tools available to an agent and serializes them into a
// provider-neutral tool-calling schema.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Schemas serializes the registry for tool-calling prompts.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ArgsSchema(),
		})
	}
	return out
}

// Invoke runs a tool and always returns a string the LLM can consume.
// Unknown tools, panics and tool errors come back as JSON error payloads so
// the calling loop can observe and adapt rather than abort.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	argsJSON, _ := json.Marshal(args)
	graph.Emit(ctx, graph.EventToolStart, map[string]interface{}{"tool_name": name, "input_str": string(argsJSON)})

	result := r.invoke(ctx, name, args)

	graph.Emit(ctx, graph.EventToolEnd, map[string]interface{}{"tool_name": name, "output_str": result})
	return result
}

func (r *Registry) invoke(ctx context.Context, name string, args map[string]interface{}) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("tool %s panicked: %v", name, rec)
			out = ErrorJSON(fmt.Sprintf("tool %s panicked: %v", name, rec))
		}
	}()
	t, ok := r.Get(name)
	if !ok {
		return ErrorJSON(fmt.Sprintf("unknown tool %q", name))
	}
	res, err := t.Invoke(ctx, args)
	if err != nil {
		return ErrorJSON(err.Error())
	}
	return res
}

// ErrorJSON wraps a failure message into the uniform tool error payload.
func ErrorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// SearchResult is the shared shape returned by every search engine tool.
type SearchResult struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink,omitempty"`
}

func marshalResults(results []SearchResult) string {
	b, err := json.Marshal(results)
	if err != nil {
		return ErrorJSON(err.Error())
	}
	return string(b)
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func boolArg(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
