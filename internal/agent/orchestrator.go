package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

// ResumeDecision is the value a caller supplies when continuing a session
// suspended at human verification.
type ResumeDecision struct {
	Action   string `json:"action"` // "continue" or "revise"
	Feedback string `json:"feedback,omitempty"`
}

// MainAgent is the top-level orchestrator: claim extraction, human
// verification, fan-out to searchers, result evaluation, retry dispatch and
// report writing.
type MainAgent struct {
	gateway          llm.Gateway
	parser           *schema.Parser
	searcherRegistry *tools.Registry
	wikiRegistry     *tools.Registry
	routing          config.LLMRoutingConfig
	agentCfg         config.AgentsConfig
	bus              *event.Bus
	sessionID        string
	runner           *graph.Runner[FactCheckPlanState]
	logger           *log.Logger
}

func NewMainAgent(
	gateway llm.Gateway,
	parser *schema.Parser,
	searcherRegistry *tools.Registry,
	wikiRegistry *tools.Registry,
	routing config.LLMRoutingConfig,
	agentCfg config.AgentsConfig,
	bus *event.Bus,
	checkpointer graph.Checkpointer,
	sessionID string,
	logger *log.Logger,
) (*MainAgent, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MAIN] ", log.LstdFlags)
	}
	a := &MainAgent{
		gateway:          gateway,
		parser:           parser,
		searcherRegistry: searcherRegistry,
		wikiRegistry:     wikiRegistry,
		routing:          routing,
		agentCfg:         agentCfg,
		bus:              bus,
		sessionID:        sessionID,
		logger:           logger,
	}

	g := graph.NewStateGraph[FactCheckPlanState]()
	g.AddNode("store_news_text_to_db", a.storeNewsText)
	g.AddNode("invoke_metadata_extract_agent", a.invokeMetadataAgent)
	g.AddNode("extract_check_point", a.extractCheckPoint)
	g.AddNode("human_verification", a.humanVerification)
	g.AddNode("store_check_points_to_db", a.storeCheckPoints)
	g.AddFanOutNode("invoke_search_agent", a.invokeSearchAgent)
	g.AddNode("merge_retrieved_results", a.mergeRetrievedResults)
	g.AddNode("evaluate_search_result", a.evaluateSearchResult)
	g.AddNode("prepare_retry", a.prepareRetry)
	g.AddNode("write_fact_checking_report", a.writeReport)

	g.SetEntryPoint("store_news_text_to_db")
	g.AddEdge("store_news_text_to_db", "invoke_metadata_extract_agent")
	g.AddEdge("invoke_metadata_extract_agent", "extract_check_point")
	g.AddEdge("extract_check_point", "human_verification")
	g.AddConditionalEdges("human_verification", a.routeAfterVerification, []string{"extract_check_point", "store_check_points_to_db"})
	g.AddConditionalEdges("store_check_points_to_db", a.routeToParallelRetrieval, []string{"extract_check_point", "invoke_search_agent"})
	g.AddEdge("invoke_search_agent", "merge_retrieved_results")
	g.AddEdge("merge_retrieved_results", "evaluate_search_result")
	g.AddConditionalEdges("evaluate_search_result", a.routeAfterEvaluation, []string{"prepare_retry", "write_fact_checking_report"})
	g.AddConditionalEdges("prepare_retry", a.routeRetryFanOut, []string{"invoke_search_agent", "write_fact_checking_report"})
	g.SetFinishPoint("write_fact_checking_report")

	runner, err := g.Compile(checkpointer)
	if err != nil {
		return nil, fmt.Errorf("compile main graph: %w", err)
	}
	runner.SetMaxParallel(agentCfg.MaxConcurrentSearchers)
	a.runner = runner
	return a, nil
}

// Invoke runs a fact-check session from scratch. It returns ErrInterrupted
// (via errors.As) when the run suspends for human verification.
func (a *MainAgent) Invoke(ctx context.Context, newsText string, emitter graph.Emitter) (FactCheckPlanState, error) {
	initial := FactCheckPlanState{SessionID: a.sessionID, NewsText: newsText}
	return a.runner.Invoke(ctx, initial, graph.Config{ThreadID: a.sessionID, Emitter: emitter})
}

// Resume continues a session suspended at human verification.
func (a *MainAgent) Resume(ctx context.Context, decision ResumeDecision, emitter graph.Emitter) (FactCheckPlanState, error) {
	return a.runner.Resume(ctx, graph.Command{Resume: decision}, graph.Config{ThreadID: a.sessionID, Emitter: emitter})
}

// GetState exposes the latest checkpointed snapshot.
func (a *MainAgent) GetState(ctx context.Context) (graph.Snapshot[FactCheckPlanState], bool, error) {
	return a.runner.GetState(ctx, a.sessionID)
}

func (a *MainAgent) storeNewsText(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	a.publish(ctx, event.TopicStoreNewsText, map[string]interface{}{"news_text": s.NewsText, "session_id": s.SessionID})
	return FactCheckPlanState{}, nil
}

func (a *MainAgent) invokeMetadataAgent(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	sub := NewMetadataAgent(a.gateway, a.parser, a.wikiRegistry, a.routing, a.bus, a.sessionID, a.agentCfg.MaxConcurrentSearchers, a.logger)
	md, err := sub.Invoke(ctx, s.NewsText)
	if err != nil {
		return FactCheckPlanState{}, fmt.Errorf("metadata extraction: %w", err)
	}
	return FactCheckPlanState{Metadata: md}, nil
}

// extractCheckPoint extracts the claim plan. Ids are assigned server-side
// and re-extraction after a revise always mints fresh ones.
func (a *MainAgent) extractCheckPoint(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	a.publish(ctx, event.TopicExtractCheckPointStart, nil)

	feedback := ""
	if s.HumanFeedback != "" {
		feedback = fmt.Sprintf(checkPointFeedbackBlock, mustJSON(s.CheckPoints), s.HumanFeedback)
	}
	var knowledges []Knowledge
	if s.Metadata != nil {
		knowledges = s.Metadata.RetrievedKnowledges
	}
	var md *BasicMetadata
	if s.Metadata != nil {
		md = s.Metadata.Metadata
	}
	prompt := fmt.Sprintf(extractCheckPointPrompt,
		s.NewsText, mustJSON(md), mustJSON(knowledges), feedback, checkPointsDef.FormatInstructions())

	var parsed struct {
		CheckPoints []CheckPoint `json:"check_points"`
	}
	if _, err := a.parser.InvokeStructured(ctx, a.gateway, a.routing.ModelFor("extraction"),
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}}, checkPointsDef, &parsed); err != nil {
		return FactCheckPlanState{}, fmt.Errorf("extract check points: %w", err)
	}

	// Keep only verification points; everything persisted or executed
	// downstream descends from these.
	kept := make([]CheckPoint, 0, len(parsed.CheckPoints))
	for _, cp := range parsed.CheckPoints {
		if !cp.IsVerificationPoint {
			continue
		}
		cp.ID = uuid.NewString()
		for i := range cp.RetrievalSteps {
			cp.RetrievalSteps[i].ID = uuid.NewString()
		}
		kept = append(kept, cp)
	}
	if len(kept) == 0 {
		return FactCheckPlanState{}, execErrorf("extract_check_point", "no verification points extracted from the news text")
	}

	a.publish(ctx, event.TopicExtractCheckPointEnd, kept)
	return FactCheckPlanState{CheckPoints: kept, ClearHumanFeedback: true}, nil
}

// humanVerification suspends until the caller approves or revises the plan.
func (a *MainAgent) humanVerification(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	resumed, err := graph.Interrupt(ctx, map[string]interface{}{"check_points": s.CheckPoints})
	if err != nil {
		return FactCheckPlanState{}, err
	}
	decision, err := decodeResume(resumed)
	if err != nil {
		return FactCheckPlanState{}, execErrorf("human_verification", "bad resume value: %v", err)
	}
	if decision.Action == "revise" {
		if decision.Feedback == "" {
			return FactCheckPlanState{}, execErrorf("human_verification", "revise requires feedback")
		}
		a.publish(ctx, event.TopicLLMDecision, map[string]interface{}{"decision": "plan revision requested"})
		return FactCheckPlanState{HumanFeedback: decision.Feedback}, nil
	}
	return FactCheckPlanState{}, nil
}

func (a *MainAgent) routeAfterVerification(ctx context.Context, s FactCheckPlanState) (graph.Route, error) {
	if s.HumanFeedback != "" {
		return graph.Goto("extract_check_point"), nil
	}
	return graph.Goto("store_check_points_to_db"), nil
}

func (a *MainAgent) storeCheckPoints(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	a.publish(ctx, event.TopicStoreCheckPoints, s.CheckPoints)
	return FactCheckPlanState{}, nil
}

// routeToParallelRetrieval fans out one searcher per retrieval step.
func (a *MainAgent) routeToParallelRetrieval(ctx context.Context, s FactCheckPlanState) (graph.Route, error) {
	if s.HumanFeedback != "" {
		return graph.Goto("extract_check_point"), nil
	}
	if s.Metadata == nil {
		return graph.Route{}, execErrorf("should_continue_to_parallel_retrieval", "metadata missing from state")
	}
	if len(s.CheckPoints) == 0 {
		return graph.Route{}, execErrorf("should_continue_to_parallel_retrieval", "check point plan missing from state")
	}
	sends := a.buildSearchSends(s, nil)
	if len(sends) == 0 {
		return graph.Route{}, execErrorf("should_continue_to_parallel_retrieval", "check point plan has no retrieval steps")
	}
	return graph.Fan(sends...), nil
}

// buildSearchSends creates fan-out descriptors. With only non-nil, steps
// outside the set are skipped.
func (a *MainAgent) buildSearchSends(s FactCheckPlanState, only map[string]bool) []graph.Send {
	var md *BasicMetadata
	if s.Metadata != nil {
		md = s.Metadata.Metadata
	}
	var sends []graph.Send
	for _, cp := range s.CheckPoints {
		for _, step := range cp.RetrievalSteps {
			if only != nil && !only[step.ID] {
				continue
			}
			sends = append(sends, graph.Send{Node: "invoke_search_agent", Payload: SearchAgentState{
				CheckPointID:    cp.ID,
				RetrievalStepID: step.ID,
				BasicMetadata:   md,
				Content:         cp.Content,
				Purpose:         step.Purpose,
				ExpectedSources: step.ExpectedSources,
			}})
		}
	}
	return sends
}

func (a *MainAgent) invokeSearchAgent(ctx context.Context, payload interface{}) (FactCheckPlanState, error) {
	initial, err := decodePayload[SearchAgentState](payload)
	if err != nil {
		return FactCheckPlanState{}, err
	}
	sub := NewSearchAgent(a.gateway, a.parser, a.searcherRegistry, a.routing, a.bus, a.sessionID, a.agentCfg.MaxSearchTokens, a.logger)
	final, err := sub.Invoke(ctx, initial)
	if err != nil {
		return FactCheckPlanState{}, err
	}
	if final.Result == nil {
		return FactCheckPlanState{}, execErrorf("invoke_search_agent", "searcher finished without a result for step %s", initial.RetrievalStepID)
	}
	return FactCheckPlanState{AggregatedRetrievedResults: []RetrievalResult{{
		CheckPointID:    initial.CheckPointID,
		RetrievalStepID: initial.RetrievalStepID,
		Summary:         final.Result.Summary,
		Conclusion:      final.Result.Conclusion,
		Evidences:       final.Evidences,
	}}}, nil
}

// mergeRetrievedResults attaches each aggregated result to its owning step.
// Later entries win, so a retried step ends up with its newest result.
func (a *MainAgent) mergeRetrievedResults(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	idx := BuildStepIndex(s.CheckPoints)
	for i := range s.AggregatedRetrievedResults {
		rr := s.AggregatedRetrievedResults[i]
		pos, ok := idx[rr.RetrievalStepID]
		if !ok {
			return FactCheckPlanState{}, execErrorf("merge_retrieved_results", "retrieval step %s not found in plan", rr.RetrievalStepID)
		}
		s.CheckPoints[pos.CheckPoint].RetrievalSteps[pos.Step].Result = &s.AggregatedRetrievedResults[i]
	}
	a.publish(ctx, event.TopicStoreRetrievalResults, s.AggregatedRetrievedResults)
	return FactCheckPlanState{CheckPoints: s.CheckPoints}, nil
}

// evaluateSearchResult critiques every step that has a result but no
// verification yet (retried steps re-enter here with a fresh result).
func (a *MainAgent) evaluateSearchResult(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	model := a.routing.ModelFor("evaluation")
	for ci := range s.CheckPoints {
		cp := &s.CheckPoints[ci]
		for si := range cp.RetrievalSteps {
			step := &cp.RetrievalSteps[si]
			if step.Result == nil || step.Verification != nil {
				continue
			}
			a.publish(ctx, event.TopicEvaluateResultStart, map[string]interface{}{"retrieval_step_id": step.ID})

			prompt := fmt.Sprintf(evaluateSearchResultPrompt,
				cp.Content,
				step.Purpose,
				joinOr(step.ExpectedSources, "any reliable source"),
				step.Result.Summary,
				step.Result.Conclusion,
				mustJSON(step.Result.Evidences),
				verificationDef.FormatInstructions())
			var v RetrievalResultVerification
			if _, err := a.parser.InvokeStructured(ctx, a.gateway, model,
				[]llm.Message{{Role: llm.RoleUser, Content: prompt}}, verificationDef, &v); err != nil {
				return FactCheckPlanState{}, fmt.Errorf("evaluate result of step %s: %w", step.ID, err)
			}
			step.Verification = &v

			a.publish(ctx, event.TopicEvaluateResultEnd, v)
		}
	}
	return FactCheckPlanState{CheckPoints: s.CheckPoints}, nil
}

func (a *MainAgent) routeAfterEvaluation(ctx context.Context, s FactCheckPlanState) (graph.Route, error) {
	if len(failingSteps(s.CheckPoints)) > 0 && s.RetryCount < a.agentCfg.MaxRetries {
		return graph.Goto("prepare_retry"), nil
	}
	return graph.Goto("write_fact_checking_report"), nil
}

// prepareRetry rewrites failing steps from their verification feedback and
// clears their results so the retry fan-out can find them.
func (a *MainAgent) prepareRetry(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	retried := 0
	for _, pos := range failingSteps(s.CheckPoints) {
		step := &s.CheckPoints[pos.CheckPoint].RetrievalSteps[pos.Step]
		if v := step.Verification; v != nil {
			if v.UpdatedPurpose != "" {
				step.Purpose = v.UpdatedPurpose
			}
			if len(v.UpdatedExpectedSources) > 0 {
				step.ExpectedSources = v.UpdatedExpectedSources
			}
		}
		step.Result = nil
		step.Verification = nil
		retried++
	}
	a.publish(ctx, event.TopicLLMDecision, map[string]interface{}{
		"decision": fmt.Sprintf("retry %d of %d: re-dispatching %d unverified steps", s.RetryCount+1, a.agentCfg.MaxRetries, retried),
	})
	return FactCheckPlanState{CheckPoints: s.CheckPoints, RetryCount: s.RetryCount + 1}, nil
}

func (a *MainAgent) routeRetryFanOut(ctx context.Context, s FactCheckPlanState) (graph.Route, error) {
	only := make(map[string]bool)
	for _, cp := range s.CheckPoints {
		for _, step := range cp.RetrievalSteps {
			if step.Result == nil {
				only[step.ID] = true
			}
		}
	}
	if len(only) == 0 {
		return graph.Goto("write_fact_checking_report"), nil
	}
	return graph.Fan(a.buildSearchSends(s, only)...), nil
}

func (a *MainAgent) writeReport(ctx context.Context, s FactCheckPlanState) (FactCheckPlanState, error) {
	a.publish(ctx, event.TopicWriteReportStart, nil)

	prompt := fmt.Sprintf(writeReportPrompt, s.NewsText, mustJSON(s.CheckPoints))
	msg, err := a.gateway.Invoke(ctx, a.routing.ModelFor("reporting"), []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return FactCheckPlanState{}, fmt.Errorf("write report: %w", err)
	}

	a.publish(ctx, event.TopicWriteReportEnd, map[string]interface{}{"report": msg.Content})
	return FactCheckPlanState{Report: msg.Content}, nil
}

func failingSteps(checkPoints []CheckPoint) []StepIndex {
	var out []StepIndex
	for ci, cp := range checkPoints {
		for si, step := range cp.RetrievalSteps {
			if step.Verification != nil && !step.Verification.Verified {
				out = append(out, StepIndex{CheckPoint: ci, Step: si})
			}
		}
	}
	return out
}

func decodeResume(v interface{}) (ResumeDecision, error) {
	if d, ok := v.(ResumeDecision); ok {
		return d, nil
	}
	var out ResumeDecision
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	if out.Action == "" {
		out.Action = "continue"
	}
	return out, nil
}

func (a *MainAgent) publish(ctx context.Context, topic event.Topic, payload interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(event.Event{Topic: topic, SessionID: a.sessionID, Node: graph.CurrentNode(ctx), Payload: payload})
}
