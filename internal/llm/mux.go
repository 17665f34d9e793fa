package llm

import (
	"context"
	"fmt"
)

// Mux routes each call to the provider that configures the requested model
// key. It lets one process mix providers (hosted OpenAI plus a compatible
// local endpoint) behind a single Gateway.
type Mux struct {
	providers []Gateway
}

func NewMux(providers ...Gateway) *Mux {
	return &Mux{providers: providers}
}

func (m *Mux) provider(model string) (Gateway, error) {
	for _, p := range m.providers {
		if _, ok := p.ModelInfo(model); ok {
			return p, nil
		}
	}
	return nil, &Error{Op: "route", Err: fmt.Errorf("no provider configures model %q", model)}
}

func (m *Mux) Invoke(ctx context.Context, model string, msgs []Message) (Message, error) {
	p, err := m.provider(model)
	if err != nil {
		return Message{}, err
	}
	return p.Invoke(ctx, model, msgs)
}

func (m *Mux) InvokeWithTools(ctx context.Context, model string, msgs []Message, tools []ToolSchema) (Message, error) {
	p, err := m.provider(model)
	if err != nil {
		return Message{}, err
	}
	return p.InvokeWithTools(ctx, model, msgs, tools)
}

func (m *Mux) Stream(ctx context.Context, model string, msgs []Message, fn func(Chunk) error) error {
	p, err := m.provider(model)
	if err != nil {
		return err
	}
	return p.Stream(ctx, model, msgs, fn)
}

func (m *Mux) ModelInfo(model string) (ModelInfo, bool) {
	for _, p := range m.providers {
		if info, ok := p.ModelInfo(model); ok {
			return info, true
		}
	}
	return ModelInfo{}, false
}

func (m *Mux) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	for _, p := range m.providers {
		if _, ok := p.ModelInfo(model); ok {
			return p.CalculateCost(inputTokens, outputTokens, model)
		}
	}
	return 0
}
