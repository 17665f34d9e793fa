package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

// scriptedGateway answers each Invoke from a queue of canned replies.
type scriptedGateway struct {
	replies []string
	calls   int
}

func (g *scriptedGateway) Invoke(ctx context.Context, model string, msgs []llm.Message) (llm.Message, error) {
	if g.calls >= len(g.replies) {
		return llm.Message{}, errors.New("scripted gateway exhausted")
	}
	reply := g.replies[g.calls]
	g.calls++
	return llm.Message{Role: llm.RoleAssistant, Content: reply}, nil
}

func (g *scriptedGateway) InvokeWithTools(ctx context.Context, model string, msgs []llm.Message, schemas []llm.ToolSchema) (llm.Message, error) {
	return g.Invoke(ctx, model, msgs)
}

func (g *scriptedGateway) Stream(ctx context.Context, model string, msgs []llm.Message, fn func(llm.Chunk) error) error {
	return errors.New("not implemented")
}

func (g *scriptedGateway) ModelInfo(model string) (llm.ModelInfo, bool) {
	return llm.ModelInfo{Name: model}, true
}

func (g *scriptedGateway) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func newTestMainAgent(t *testing.T, gw llm.Gateway, agentCfg config.AgentsConfig) *MainAgent {
	t.Helper()
	parser := schema.NewParser(nil, "", 1, nil)
	a, err := NewMainAgent(gw, parser, tools.NewRegistry(nil), tools.NewRegistry(nil),
		config.LLMRoutingConfig{}, agentCfg, nil, graph.NewMemoryCheckpointer(), "session-1", nil)
	if err != nil {
		t.Fatalf("new main agent: %v", err)
	}
	return a
}

func TestExtractCheckPointFiltersAndAssignsIDs(t *testing.T) {
	gw := &scriptedGateway{replies: []string{`{
		"check_points": [
			{"content": "claim one", "is_verification_point": true, "retrieval_step": [
				{"purpose": "find the official transcript of the statement and confirm the quoted figure", "expected_sources": ["official statements"]}
			]},
			{"content": "an opinion", "is_verification_point": false}
		]
	}`}}
	a := newTestMainAgent(t, gw, config.AgentsConfig{})

	patch, err := a.extractCheckPoint(context.Background(), FactCheckPlanState{NewsText: "text"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(patch.CheckPoints) != 1 {
		t.Fatalf("non-verification point not filtered: %+v", patch.CheckPoints)
	}
	cp := patch.CheckPoints[0]
	if cp.ID == "" || cp.RetrievalSteps[0].ID == "" {
		t.Fatalf("ids not assigned: %+v", cp)
	}
	if !patch.ClearHumanFeedback {
		t.Fatalf("extraction must consume pending feedback")
	}
}

func TestExtractCheckPointRequiresVerificationPoints(t *testing.T) {
	gw := &scriptedGateway{replies: []string{`{"check_points": [
		{"content": "an opinion", "is_verification_point": false}
	]}`}}
	a := newTestMainAgent(t, gw, config.AgentsConfig{})

	_, err := a.extractCheckPoint(context.Background(), FactCheckPlanState{NewsText: "text"})
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "no verification points") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeRetrievedResultsAttachesToSteps(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{})
	state := FactCheckPlanState{
		CheckPoints: []CheckPoint{{ID: "cp1", RetrievalSteps: []RetrievalStep{{ID: "s1"}, {ID: "s2"}}}},
		AggregatedRetrievedResults: []RetrievalResult{
			{CheckPointID: "cp1", RetrievalStepID: "s1", Conclusion: "first"},
			{CheckPointID: "cp1", RetrievalStepID: "s2", Conclusion: "second"},
			{CheckPointID: "cp1", RetrievalStepID: "s1", Conclusion: "retried"},
		},
	}
	patch, err := a.mergeRetrievedResults(context.Background(), state)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	steps := patch.CheckPoints[0].RetrievalSteps
	if steps[0].Result == nil || steps[0].Result.Conclusion != "retried" {
		t.Fatalf("later result for the same step must win: %+v", steps[0].Result)
	}
	if steps[1].Result == nil || steps[1].Result.Conclusion != "second" {
		t.Fatalf("second step result missing: %+v", steps[1].Result)
	}
}

func TestMergeRetrievedResultsUnknownStep(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{})
	state := FactCheckPlanState{
		CheckPoints:                []CheckPoint{{ID: "cp1"}},
		AggregatedRetrievedResults: []RetrievalResult{{RetrievalStepID: "ghost"}},
	}
	if _, err := a.mergeRetrievedResults(context.Background(), state); err == nil {
		t.Fatalf("expected error for result pointing at an unknown step")
	}
}

func failingPlan() []CheckPoint {
	return []CheckPoint{{ID: "cp1", Content: "claim", RetrievalSteps: []RetrievalStep{
		{
			ID: "s1", Purpose: "original purpose",
			Result:       &RetrievalResult{Conclusion: "weak"},
			Verification: &RetrievalResultVerification{Verified: false, UpdatedPurpose: "sharper purpose", UpdatedExpectedSources: []string{"court records"}},
		},
		{
			ID: "s2", Purpose: "fine",
			Result:       &RetrievalResult{Conclusion: "solid"},
			Verification: &RetrievalResultVerification{Verified: true},
		},
	}}}
}

func TestPrepareRetryRewritesOnlyFailingSteps(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{MaxRetries: 1})
	state := FactCheckPlanState{CheckPoints: failingPlan()}

	patch, err := a.prepareRetry(context.Background(), state)
	if err != nil {
		t.Fatalf("prepare retry: %v", err)
	}
	if patch.RetryCount != 1 {
		t.Fatalf("retry count = %d", patch.RetryCount)
	}
	steps := patch.CheckPoints[0].RetrievalSteps
	if steps[0].Result != nil || steps[0].Verification != nil {
		t.Fatalf("failing step not cleared: %+v", steps[0])
	}
	if steps[0].Purpose != "sharper purpose" || steps[0].ExpectedSources[0] != "court records" {
		t.Fatalf("verification feedback not applied: %+v", steps[0])
	}
	if steps[1].Result == nil || steps[1].Verification == nil {
		t.Fatalf("verified step must be left alone: %+v", steps[1])
	}
}

func TestRouteRetryFanOutDispatchesClearedSteps(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{MaxRetries: 1})
	state := FactCheckPlanState{CheckPoints: failingPlan(), Metadata: &MetadataState{}}
	patch, err := a.prepareRetry(context.Background(), state)
	if err != nil {
		t.Fatalf("prepare retry: %v", err)
	}
	state = state.Merge(patch)

	route, err := a.routeRetryFanOut(context.Background(), state)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Sends) != 1 {
		t.Fatalf("expected exactly the cleared step re-dispatched, got %d sends", len(route.Sends))
	}
	payload := route.Sends[0].Payload.(SearchAgentState)
	if payload.RetrievalStepID != "s1" || payload.Purpose != "sharper purpose" {
		t.Fatalf("wrong step dispatched: %+v", payload)
	}
}

func TestRouteAfterEvaluationRespectsRetryBudget(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{MaxRetries: 1})
	state := FactCheckPlanState{CheckPoints: failingPlan()}

	route, err := a.routeAfterEvaluation(context.Background(), state)
	if err != nil || route.Target != "prepare_retry" {
		t.Fatalf("first failure should retry: %+v %v", route, err)
	}

	state.RetryCount = 1
	route, err = a.routeAfterEvaluation(context.Background(), state)
	if err != nil || route.Target != "write_fact_checking_report" {
		t.Fatalf("exhausted budget should write the report: %+v %v", route, err)
	}
}

func TestRouteToParallelRetrievalGuards(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{})

	if _, err := a.routeToParallelRetrieval(context.Background(), FactCheckPlanState{CheckPoints: failingPlan()}); err == nil {
		t.Fatalf("missing metadata must be fatal")
	}
	if _, err := a.routeToParallelRetrieval(context.Background(), FactCheckPlanState{Metadata: &MetadataState{}}); err == nil {
		t.Fatalf("empty plan must be fatal")
	}

	route, err := a.routeToParallelRetrieval(context.Background(), FactCheckPlanState{
		Metadata:    &MetadataState{},
		CheckPoints: failingPlan(),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Sends) != 2 {
		t.Fatalf("expected one send per retrieval step, got %d", len(route.Sends))
	}
}

func TestRouteToParallelRetrievalRejectsPlanWithoutSteps(t *testing.T) {
	a := newTestMainAgent(t, &scriptedGateway{}, config.AgentsConfig{})

	_, err := a.routeToParallelRetrieval(context.Background(), FactCheckPlanState{
		Metadata:    &MetadataState{},
		CheckPoints: []CheckPoint{{ID: "cp1", Content: "claim"}},
	})
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("plan with no retrieval steps must fail with ExecutionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "no retrieval steps") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func planFromInterrupt(t *testing.T, intr graph.ErrInterrupted) []CheckPoint {
	t.Helper()
	payload, ok := intr.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected interrupt payload: %#v", intr.Payload)
	}
	cps, ok := payload["check_points"].([]CheckPoint)
	if !ok {
		t.Fatalf("interrupt payload missing check points: %#v", payload)
	}
	return cps
}

func TestInvokeResumeReviseRegeneratesPlan(t *testing.T) {
	plan := `{"check_points": [
		{"content": "claim one", "is_verification_point": true, "retrieval_step": [
			{"purpose": "find the official transcript of the statement and confirm the quoted figure", "expected_sources": ["official statements"]}
		]}
	]}`
	gw := &scriptedGateway{replies: []string{
		`{"news_type": "politics"}`,
		`{"knowledges": []}`,
		plan,
		plan,
	}}
	a := newTestMainAgent(t, gw, config.AgentsConfig{})

	_, err := a.Invoke(context.Background(), "text", nil)
	var intr graph.ErrInterrupted
	if !errors.As(err, &intr) {
		t.Fatalf("expected interrupt at human verification, got %v", err)
	}
	if intr.Node != "human_verification" {
		t.Fatalf("interrupted at %q", intr.Node)
	}
	first := planFromInterrupt(t, intr)
	if len(first) != 1 || first[0].ID == "" {
		t.Fatalf("first extraction missing or without ids: %+v", first)
	}

	_, err = a.Resume(context.Background(), ResumeDecision{Action: "revise", Feedback: "split the claim"}, nil)
	if !errors.As(err, &intr) {
		t.Fatalf("revise should re-extract and interrupt again, got %v", err)
	}
	second := planFromInterrupt(t, intr)
	if len(second) != 1 {
		t.Fatalf("revised plan should replace the old one wholesale: %+v", second)
	}
	if second[0].ID == first[0].ID || second[0].RetrievalSteps[0].ID == first[0].RetrievalSteps[0].ID {
		t.Fatalf("re-extraction must mint fresh ids")
	}

	snap, ok, err := a.GetState(context.Background())
	if err != nil || !ok {
		t.Fatalf("get state: %v %v", err, ok)
	}
	if !snap.Interrupted {
		t.Fatalf("snapshot should record the pending interrupt")
	}
	if snap.State.HumanFeedback != "" {
		t.Fatalf("re-extraction must consume the feedback, still %q", snap.State.HumanFeedback)
	}
	if len(snap.State.CheckPoints) != 1 || snap.State.CheckPoints[0].ID != second[0].ID {
		t.Fatalf("state should hold only the revised plan: %+v", snap.State.CheckPoints)
	}
	if gw.calls != 4 {
		t.Fatalf("expected metadata, knowledges and two extractions, got %d calls", gw.calls)
	}
}

func TestDecodeResume(t *testing.T) {
	d, err := decodeResume(map[string]interface{}{"action": "revise", "feedback": "split the claim"})
	if err != nil || d.Action != "revise" || d.Feedback != "split the claim" {
		t.Fatalf("map decode: %+v %v", d, err)
	}
	d, err = decodeResume(map[string]interface{}{})
	if err != nil || d.Action != "continue" {
		t.Fatalf("empty resume should default to continue: %+v %v", d, err)
	}
	d, err = decodeResume(ResumeDecision{Action: "continue"})
	if err != nil || d.Action != "continue" {
		t.Fatalf("typed decode: %+v %v", d, err)
	}
}

func TestSearchAgentForcedAnswerOnZeroBudget(t *testing.T) {
	gw := &scriptedGateway{replies: []string{
		`{"summary": "no searches were possible within budget", "conclusion": "inconclusive"}`,
	}}
	parser := schema.NewParser(nil, "", 1, nil)
	sub := NewSearchAgent(gw, parser, tools.NewRegistry(nil), config.LLMRoutingConfig{}, nil, "session-1", 0, nil)

	final, err := sub.Invoke(context.Background(), SearchAgentState{
		CheckPointID:    "cp1",
		RetrievalStepID: "s1",
		Content:         "claim",
		Purpose:         "purpose",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if final.Result == nil || final.Result.Conclusion != "inconclusive" {
		t.Fatalf("forced answer did not produce a result: %+v", final.Result)
	}
	if len(final.Statuses) != 1 || !final.Statuses[0].Action.IsAnswer() {
		t.Fatalf("expected a single synthetic answer status: %+v", final.Statuses)
	}
	if gw.calls != 1 {
		t.Fatalf("only the answer prompt should reach the gateway, got %d calls", gw.calls)
	}
}

func TestSearchAgentLoopDetectionForcesAnswer(t *testing.T) {
	// three identical searches already on record; the next evaluation cycle
	// must short-circuit to the answer without consulting the gateway
	gw := &scriptedGateway{replies: []string{
		`{"summary": "repeated searches went nowhere", "conclusion": "inconclusive"}`,
	}}
	parser := schema.NewParser(nil, "", 1, nil)
	sub := NewSearchAgent(gw, parser, tools.NewRegistry(nil), config.LLMRoutingConfig{}, nil, "session-1", 1<<20, nil)

	repeated := []Status{
		searchStatus("search_bing", "same query"),
		searchStatus("search_bing", "same query"),
		searchStatus("search_bing", "same query"),
	}
	patch, err := sub.evaluateCurrentStatus(context.Background(), SearchAgentState{Statuses: repeated})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(patch.Statuses) != 1 || !patch.Statuses[0].Action.IsAnswer() {
		t.Fatalf("loop detection should append a synthetic answer: %+v", patch.Statuses)
	}
	if gw.calls != 0 {
		t.Fatalf("loop detection must not call the gateway")
	}
}
