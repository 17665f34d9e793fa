package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/veritas/internal/event"
)

// Metrics aggregates the process-wide counters. Registered on the default
// registry and served from the API's /metrics endpoint.
type Metrics struct {
	LLMInputTokens  *prometheus.CounterVec
	LLMOutputTokens *prometheus.CounterVec
	LLMCost         *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		LLMInputTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_llm_input_tokens_total",
			Help: "Prompt tokens sent to LLM providers.",
		}, []string{"model"}),
		LLMOutputTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_llm_output_tokens_total",
			Help: "Completion tokens received from LLM providers.",
		}, []string{"model"}),
		LLMCost: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_llm_cost_dollars_total",
			Help: "Estimated LLM spend in dollars.",
		}, []string{"model"}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_tool_invocations_total",
			Help: "Tool calls made by agents.",
		}, []string{"tool"}),
		Sessions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veritas_sessions_total",
			Help: "Fact-check sessions by outcome.",
		}, []string{"outcome"}),
	}
}

// RecordUsage is wired into the LLM provider's usage hook.
func (m *Metrics) RecordUsage(model string, inputTokens, outputTokens int64, cost float64) {
	m.LLMInputTokens.WithLabelValues(model).Add(float64(inputTokens))
	m.LLMOutputTokens.WithLabelValues(model).Add(float64(outputTokens))
	m.LLMCost.WithLabelValues(model).Add(cost)
}

// Attach counts tool calls flowing through the event bus.
func (m *Metrics) Attach(bus *event.Bus) {
	bus.Subscribe(event.TopicToolStart, func(ev event.Event) {
		name := "unknown"
		if p, ok := ev.Payload.(map[string]interface{}); ok {
			if n, ok := p["tool_name"].(string); ok && n != "" {
				name = n
			}
		}
		m.ToolInvocations.WithLabelValues(name).Inc()
	})
}
