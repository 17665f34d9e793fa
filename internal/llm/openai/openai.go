package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
)

// Provider implements llm.Gateway against an OpenAI-compatible chat
// completions API.
type Provider struct {
	cfg    config.LLMProvider
	models map[string]llm.ModelInfo
	client *http.Client

	// OnUsage, when set, observes token usage per completed call.
	OnUsage func(model string, inputTokens, outputTokens int64)
}

// New creates a provider from configuration.
func New(cfg config.LLMProvider) *Provider {
	p := &Provider{
		cfg:    cfg,
		models: make(map[string]llm.ModelInfo, len(cfg.Models)),
		client: &http.Client{Timeout: cfg.Timeout},
	}
	for key, m := range cfg.Models {
		apiName := m.APIName
		if apiName == "" {
			apiName = m.Name
		}
		p.models[key] = llm.ModelInfo{
			Name:            m.Name,
			APIName:         apiName,
			MaxTokens:       m.MaxTokens,
			Temperature:     m.Temperature,
			CostPer1KInput:  m.CostPer1K,
			CostPer1KOutput: m.CostPer1KOutput,
			Reasoning:       m.Reasoning,
		}
	}
	return p
}

func (p *Provider) apiKey() string {
	if p.cfg.APIKey != "" {
		return p.cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (p *Provider) baseURL() string {
	if p.cfg.BaseURL != "" {
		return strings.TrimRight(p.cfg.BaseURL, "/")
	}
	return "https://api.openai.com/v1"
}

// ModelInfo returns configuration for a model key.
func (p *Provider) ModelInfo(model string) (llm.ModelInfo, bool) {
	info, ok := p.models[model]
	return info, ok
}

// CalculateCost converts token counts to a dollar estimate.
func (p *Provider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	info, ok := p.models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000.0*info.CostPer1KInput + float64(outputTokens)/1000.0*info.CostPer1KOutput
}

type chatMessage struct {
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []chatToolCall  `json:"tool_calls,omitempty"`
	RawToolCalls     json.RawMessage `json:"-"`
}

type chatToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke performs a synchronous completion.
func (p *Provider) Invoke(ctx context.Context, model string, msgs []llm.Message) (llm.Message, error) {
	return p.complete(ctx, model, msgs, nil)
}

// InvokeWithTools performs a completion that may return tool-call requests.
func (p *Provider) InvokeWithTools(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	return p.complete(ctx, model, msgs, tools)
}

func (p *Provider) complete(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	info, ok := p.models[model]
	if !ok {
		return llm.Message{}, &llm.Error{Op: "invoke", Err: fmt.Errorf("model %q not configured", model)}
	}

	req := chatRequest{
		Model:       info.APIName,
		Messages:    p.convertMessages(info, msgs),
		Temperature: info.Temperature,
		MaxTokens:   info.MaxTokens,
	}
	for _, t := range tools {
		ct := chatTool{Type: "function"}
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, ct)
	}

	graph.Emit(ctx, graph.EventLLMStart, map[string]interface{}{"model": model})
	var out chatResponse
	if err := p.post(ctx, "/chat/completions", req, &out); err != nil {
		return llm.Message{}, err
	}
	if len(out.Choices) == 0 {
		return llm.Message{}, &llm.Error{Op: "invoke", Err: fmt.Errorf("no choices returned")}
	}
	if p.OnUsage != nil {
		p.OnUsage(model, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	}
	msg := out.Choices[0].Message
	result := llm.Message{
		Role:             llm.RoleAssistant,
		Content:          msg.Content,
		ReasoningContent: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{Name: tc.Function.Name, Args: args})
	}
	graph.Emit(ctx, graph.EventLLMEnd, map[string]interface{}{
		"model":  model,
		"tokens": out.Usage.PromptTokens + out.Usage.CompletionTokens,
	})
	return result, nil
}

// Stream delivers token deltas to fn in arrival order, separating the
// content and reasoning channels.
func (p *Provider) Stream(ctx context.Context, model string, msgs []llm.Message, fn func(llm.Chunk) error) error {
	info, ok := p.models[model]
	if !ok {
		return &llm.Error{Op: "stream", Err: fmt.Errorf("model %q not configured", model)}
	}
	req := chatRequest{
		Model:       info.APIName,
		Messages:    p.convertMessages(info, msgs),
		Temperature: info.Temperature,
		MaxTokens:   info.MaxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return &llm.Error{Op: "stream", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &llm.Error{Op: "stream", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey())

	graph.Emit(ctx, graph.EventLLMStart, map[string]interface{}{"model": model, "stream": true})
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &llm.Error{Op: "stream", Transient: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &llm.Error{Op: "stream", Status: resp.StatusCode, Transient: transientStatus(resp.StatusCode), Err: fmt.Errorf("unexpected status")}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var delta struct {
			Choices []struct {
				Delta struct {
					Content          string `json:"content"`
					ReasoningContent string `json:"reasoning_content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		for _, c := range delta.Choices {
			if c.Delta.Content == "" && c.Delta.ReasoningContent == "" {
				continue
			}
			chunk := llm.Chunk{Content: c.Delta.Content, ReasoningContent: c.Delta.ReasoningContent}
			graph.Emit(ctx, graph.EventLLMToken, map[string]interface{}{"chunk": chunk})
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &llm.Error{Op: "stream", Transient: true, Err: err}
	}
	graph.Emit(ctx, graph.EventLLMEnd, map[string]interface{}{"model": model, "stream": true})
	return nil
}

// convertMessages maps gateway messages to wire format. Reasoning models
// reject a system role, so leading system parts are folded into a user turn.
func (p *Provider) convertMessages(info llm.ModelInfo, msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if info.Reasoning && m.Role == llm.RoleSystem {
			role = string(llm.RoleUser)
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

func (p *Provider) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &llm.Error{Op: "invoke", Err: fmt.Errorf("marshal: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return &llm.Error{Op: "invoke", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey())

	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.Error{Op: "invoke", Transient: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &llm.Error{Op: "invoke", Status: resp.StatusCode, Transient: transientStatus(resp.StatusCode), Err: fmt.Errorf("unexpected status")}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &llm.Error{Op: "invoke", Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
