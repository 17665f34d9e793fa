package graph

import (
	"context"
	"time"
)

// EventKind classifies runtime lifecycle events.
type EventKind string

const (
	EventChainStart EventKind = "on_chain_start"
	EventChainEnd   EventKind = "on_chain_end"
	EventToolStart  EventKind = "on_tool_start"
	EventToolEnd    EventKind = "on_tool_end"
	EventLLMStart   EventKind = "on_llm_start"
	EventLLMToken   EventKind = "on_llm_new_token"
	EventLLMEnd     EventKind = "on_llm_end"
	EventInterrupt  EventKind = "on_interrupt"
)

// Event is one entry on the runtime's event stream. Node names the enclosing
// graph node; inner tool/LLM events inherit it from the context.
type Event struct {
	Kind EventKind              `json:"kind"`
	Node string                 `json:"node"`
	Data map[string]interface{} `json:"data,omitempty"`
	At   time.Time              `json:"at"`
}

// Emitter receives runtime events in production order.
type Emitter func(Event)

type emitterKey struct{}
type nodeKey struct{}

// WithEmitter attaches an emitter to the context so nested LLM/tool calls can
// publish events without holding a reference to the runner.
func WithEmitter(ctx context.Context, em Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, em)
}

// CurrentNode returns the name of the graph node enclosing ctx, if any.
func CurrentNode(ctx context.Context) string {
	n, _ := ctx.Value(nodeKey{}).(string)
	return n
}

func withNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey{}, node)
}

// Emit publishes an event through the context's emitter. It is a no-op when
// no emitter is attached, so library code can emit unconditionally.
func Emit(ctx context.Context, kind EventKind, data map[string]interface{}) {
	em, _ := ctx.Value(emitterKey{}).(Emitter)
	if em == nil {
		return
	}
	em(Event{Kind: kind, Node: CurrentNode(ctx), Data: data, At: time.Now()})
}
