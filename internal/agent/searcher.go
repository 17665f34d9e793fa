package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

// loopWindow is how many trailing identical searches trigger forced
// termination.
const loopWindow = 3

// SearchAgent runs the per-claim ReAct loop: evaluate progress, invoke one
// tool, reflect, and terminate on sufficiency, token budget or a detected
// search loop.
type SearchAgent struct {
	gateway         llm.Gateway
	parser          *schema.Parser
	registry        *tools.Registry
	routing         config.LLMRoutingConfig
	bus             *event.Bus
	sessionID       string
	maxSearchTokens int64
	logger          *log.Logger
}

func NewSearchAgent(gateway llm.Gateway, parser *schema.Parser, registry *tools.Registry, routing config.LLMRoutingConfig, bus *event.Bus, sessionID string, maxSearchTokens int64, logger *log.Logger) *SearchAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCHER] ", log.LstdFlags)
	}
	return &SearchAgent{
		gateway:         gateway,
		parser:          parser,
		registry:        registry,
		routing:         routing,
		bus:             bus,
		sessionID:       sessionID,
		maxSearchTokens: maxSearchTokens,
		logger:          logger,
	}
}

// Invoke verifies one retrieval step to completion and returns the final
// state, whose Result is always set.
func (a *SearchAgent) Invoke(ctx context.Context, initial SearchAgentState) (*SearchAgentState, error) {
	a.publish(ctx, event.TopicSearchAgentStart, map[string]interface{}{
		"content":          initial.Content,
		"purpose":          initial.Purpose,
		"expected_sources": initial.ExpectedSources,
	})

	g := graph.NewStateGraph[SearchAgentState]()
	g.AddNode("check_token_usage", a.checkTokenUsage)
	g.AddNode("evaluate_current_status", a.evaluateCurrentStatus)
	g.AddNode("tools", a.invokeTool)
	g.AddNode("generate_answer", a.generateAnswer)
	g.SetEntryPoint("check_token_usage")
	g.AddConditionalEdges("check_token_usage", a.routeAfterCheck, []string{"evaluate_current_status", "generate_answer"})
	g.AddConditionalEdges("evaluate_current_status", a.routeAfterEvaluate, []string{"tools", "generate_answer"})
	g.AddEdge("tools", "check_token_usage")
	g.SetFinishPoint("generate_answer")

	runner, err := g.Compile(graph.NewMemoryCheckpointer())
	if err != nil {
		return nil, fmt.Errorf("compile search graph: %w", err)
	}
	final, err := runner.Invoke(ctx, initial, graph.Config{ThreadID: a.sessionID + ":search:" + initial.RetrievalStepID})
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// checkTokenUsage forces termination once the budget is spent by appending a
// synthetic answer status.
func (a *SearchAgent) checkTokenUsage(ctx context.Context, s SearchAgentState) (SearchAgentState, error) {
	if s.TokenUsage < a.maxSearchTokens {
		return SearchAgentState{}, nil
	}
	a.publish(ctx, event.TopicLLMDecision, map[string]interface{}{
		"decision": fmt.Sprintf("token budget exhausted (%d/%d), forcing answer", s.TokenUsage, a.maxSearchTokens),
	})
	return SearchAgentState{Statuses: []Status{{
		Evaluation: fmt.Sprintf("Token budget exhausted after %d tokens; concluding with the evidence collected so far.", s.TokenUsage),
		Action:     AnswerAction(),
	}}}, nil
}

func (a *SearchAgent) routeAfterCheck(ctx context.Context, s SearchAgentState) (graph.Route, error) {
	if lastActionIsAnswer(s.Statuses) {
		return graph.Goto("generate_answer"), nil
	}
	return graph.Goto("evaluate_current_status"), nil
}

func (a *SearchAgent) evaluateCurrentStatus(ctx context.Context, s SearchAgentState) (SearchAgentState, error) {
	if detectSearchLoop(s.Statuses) {
		a.publish(ctx, event.TopicLLMDecision, map[string]interface{}{
			"decision": "identical search repeated three times, forcing answer",
		})
		return SearchAgentState{Statuses: []Status{{
			Evaluation: "The same search has been issued three cycles in a row without progress; concluding with the evidence collected so far.",
			Action:     AnswerAction(),
		}}}, nil
	}

	a.publish(ctx, event.TopicEvaluateStatusStart, nil)
	model := a.routing.ModelFor("search")
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: evaluateStatusSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(evaluateStatusUserPrompt,
			s.Content,
			s.Purpose,
			joinOr(s.ExpectedSources, "any reliable source"),
			mustJSON(s.BasicMetadata),
			mustJSON(a.registry.Schemas()),
			mustJSON(s.Statuses),
			orText(s.LatestToolResult, "(no tool has run yet)"),
			mustJSON(s.Evidences),
			statusDef.FormatInstructions())},
	}
	var status Status
	raw, err := a.parser.InvokeStructured(ctx, a.gateway, model, msgs, statusDef, &status)
	if err != nil {
		return SearchAgentState{}, fmt.Errorf("evaluate current status: %w", err)
	}
	for _, ev := range status.NewEvidence {
		if err := ev.Validate(); err != nil {
			return SearchAgentState{}, execErrorf("evaluate_current_status", "rejected evidence: %w", err)
		}
	}

	a.publish(ctx, event.TopicEvaluateStatusEnd, status)
	return SearchAgentState{
		Statuses:   []Status{status},
		Evidences:  status.NewEvidence,
		TokenUsage: llm.EstimateMessages(msgs) + llm.EstimateTokens(raw),
	}, nil
}

func (a *SearchAgent) routeAfterEvaluate(ctx context.Context, s SearchAgentState) (graph.Route, error) {
	if lastActionIsAnswer(s.Statuses) {
		return graph.Goto("generate_answer"), nil
	}
	return graph.Goto("tools"), nil
}

// invokeTool executes the single tool call chosen by the last status. Tool
// failures come back as observable strings, never as node errors.
func (a *SearchAgent) invokeTool(ctx context.Context, s SearchAgentState) (SearchAgentState, error) {
	if len(s.Statuses) == 0 {
		return SearchAgentState{}, execErrorf("tools", "no status to act on")
	}
	action := s.Statuses[len(s.Statuses)-1].Action
	if action.IsAnswer() {
		return SearchAgentState{}, execErrorf("tools", "answer action routed to tool node")
	}
	result := a.registry.Invoke(ctx, action.Name, action.Args)
	return SearchAgentState{
		LatestToolResult: result,
		TokenUsage:       llm.EstimateTokens(result),
	}, nil
}

func (a *SearchAgent) generateAnswer(ctx context.Context, s SearchAgentState) (SearchAgentState, error) {
	a.publish(ctx, event.TopicGenerateAnswerStart, nil)

	model := a.routing.ModelFor("search")
	prompt := fmt.Sprintf(generateAnswerPrompt,
		s.Content,
		s.Purpose,
		mustJSON(s.Statuses),
		mustJSON(s.Evidences),
		searchResultDef.FormatInstructions())
	var res SearchResult
	if _, err := a.parser.InvokeStructured(ctx, a.gateway, model,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}}, searchResultDef, &res); err != nil {
		return SearchAgentState{}, fmt.Errorf("generate answer: %w", err)
	}

	a.publish(ctx, event.TopicGenerateAnswerEnd, res)
	// Counter resets so a reused state cannot inherit spent budget.
	return SearchAgentState{Result: &res, ResetTokenUsage: true, TokenUsage: 0}, nil
}

func lastActionIsAnswer(statuses []Status) bool {
	return len(statuses) > 0 && statuses[len(statuses)-1].Action.IsAnswer()
}

// detectSearchLoop reports whether the last three statuses issued the same
// search-engine query.
func detectSearchLoop(statuses []Status) bool {
	if len(statuses) < loopWindow {
		return false
	}
	var query string
	for i := len(statuses) - loopWindow; i < len(statuses); i++ {
		act := statuses[i].Action
		if act.IsAnswer() || !tools.SearchEngineNames[act.Name] {
			return false
		}
		q, _ := act.Args["query"].(string)
		if q == "" {
			return false
		}
		if query == "" {
			query = q
		} else if q != query {
			return false
		}
	}
	return true
}

func (a *SearchAgent) publish(ctx context.Context, topic event.Topic, payload interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(event.Event{Topic: topic, SessionID: a.sessionID, Node: graph.CurrentNode(ctx), Payload: payload})
}

func orText(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
