package llm

import (
	"context"
	"fmt"
)

// Role tags a message part.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one tagged part of a chat exchange. ReasoningContent carries the
// separate chain-of-thought channel for models that expose one.
type Message struct {
	Role             Role       `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation request produced by the model.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolSchema is the provider-neutral description of an invocable tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Chunk is one streaming delta on either the content or reasoning channel.
type Chunk struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ModelInfo describes a configured model.
type ModelInfo struct {
	Name            string
	APIName         string
	MaxTokens       int
	Temperature     float64
	CostPer1KInput  float64
	CostPer1KOutput float64
	Reasoning       bool
}

// Gateway is the provider-neutral chat contract used by all agents.
type Gateway interface {
	// Invoke performs a synchronous completion.
	Invoke(ctx context.Context, model string, msgs []Message) (Message, error)

	// InvokeWithTools performs a completion that may return tool-call requests.
	InvokeWithTools(ctx context.Context, model string, msgs []Message, tools []ToolSchema) (Message, error)

	// Stream delivers token deltas to fn in arrival order.
	Stream(ctx context.Context, model string, msgs []Message, fn func(Chunk) error) error

	// ModelInfo returns configuration for a model key.
	ModelInfo(model string) (ModelInfo, bool)

	// CalculateCost converts token counts to a dollar estimate.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// Error is a gateway failure. Transient failures may succeed on retry;
// retry policy lives in the orchestrator, not here.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// EstimateTokens approximates the token count of a text. Four characters per
// token tracks the common BPE vocabularies closely enough for budgeting.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

// EstimateMessages sums the token estimate over a message sequence.
func EstimateMessages(msgs []Message) int64 {
	var total int64
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
