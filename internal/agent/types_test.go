package agent

import (
	"encoding/json"
	"testing"
)

func TestActionUnmarshalForms(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(`"answer"`), &a); err != nil || !a.IsAnswer() {
		t.Fatalf("bare answer string: %v %+v", err, a)
	}

	a = Action{}
	if err := json.Unmarshal([]byte(`{"name": "search_bing", "args": {"query": "q"}}`), &a); err != nil {
		t.Fatalf("tool-call object: %v", err)
	}
	if a.IsAnswer() || a.Name != "search_bing" || a.Args["query"] != "q" {
		t.Fatalf("tool-call decoded wrong: %+v", a)
	}

	// models occasionally wrap the action in a one-element list
	a = Action{}
	if err := json.Unmarshal([]byte(`[{"name": "get_current_time"}]`), &a); err != nil {
		t.Fatalf("one-element list: %v", err)
	}
	if a.Name != "get_current_time" {
		t.Fatalf("list not flattened: %+v", a)
	}

	if err := json.Unmarshal([]byte(`"finish"`), &a); err == nil {
		t.Fatalf("expected error for unknown action string")
	}
	if err := json.Unmarshal([]byte(`{"args": {}}`), &a); err == nil {
		t.Fatalf("expected error for tool call without name")
	}
}

func TestActionMarshalRoundTrip(t *testing.T) {
	b, err := json.Marshal(AnswerAction())
	if err != nil || string(b) != `"answer"` {
		t.Fatalf("answer marshal: %s %v", b, err)
	}
	b, err = json.Marshal(Action{Name: "read_pdf", Args: map[string]interface{}{"url": "u"}})
	if err != nil {
		t.Fatalf("tool marshal: %v", err)
	}
	var a Action
	if err := json.Unmarshal(b, &a); err != nil || a.Name != "read_pdf" {
		t.Fatalf("round trip: %v %+v", err, a)
	}
}

func TestEvidenceValidate(t *testing.T) {
	if err := (Evidence{Relationship: RelationshipSupport}).Validate(); err != nil {
		t.Fatalf("support rejected: %v", err)
	}
	if err := (Evidence{Relationship: "unrelated"}).Validate(); err == nil {
		t.Fatalf("expected rejection of unknown relationship")
	}
}

func TestSearchAgentStateMerge(t *testing.T) {
	s := SearchAgentState{TokenUsage: 100}
	s = s.Merge(SearchAgentState{
		Statuses:   []Status{{Evaluation: "one"}},
		Evidences:  []Evidence{{Content: "e1", Relationship: RelationshipSupport}},
		TokenUsage: 50,
	})
	if s.TokenUsage != 150 {
		t.Fatalf("token usage should add: %d", s.TokenUsage)
	}
	if len(s.Statuses) != 1 || len(s.Evidences) != 1 {
		t.Fatalf("accumulators did not append: %+v", s)
	}

	s = s.Merge(SearchAgentState{ResetTokenUsage: true, TokenUsage: 0, Result: &SearchResult{Conclusion: "c"}})
	if s.TokenUsage != 0 {
		t.Fatalf("reset patch should replace the counter: %d", s.TokenUsage)
	}
	if s.Result == nil || s.Result.Conclusion != "c" {
		t.Fatalf("result not merged: %+v", s.Result)
	}
}

func TestFactCheckPlanStateMerge(t *testing.T) {
	s := FactCheckPlanState{
		CheckPoints:   []CheckPoint{{ID: "old"}},
		HumanFeedback: "add a claim about the date",
		RetryCount:    1,
	}

	// re-extraction replaces the plan wholesale and consumes the feedback
	s = s.Merge(FactCheckPlanState{CheckPoints: []CheckPoint{{ID: "a"}, {ID: "b"}}, ClearHumanFeedback: true})
	if len(s.CheckPoints) != 2 || s.CheckPoints[0].ID != "a" {
		t.Fatalf("check points not replaced: %+v", s.CheckPoints)
	}
	if s.HumanFeedback != "" {
		t.Fatalf("feedback not consumed")
	}

	s = s.Merge(FactCheckPlanState{AggregatedRetrievedResults: []RetrievalResult{{RetrievalStepID: "s1"}}})
	s = s.Merge(FactCheckPlanState{AggregatedRetrievedResults: []RetrievalResult{{RetrievalStepID: "s2"}}})
	if len(s.AggregatedRetrievedResults) != 2 {
		t.Fatalf("aggregated results should append: %d", len(s.AggregatedRetrievedResults))
	}

	s = s.Merge(FactCheckPlanState{RetryCount: 0})
	if s.RetryCount != 1 {
		t.Fatalf("retry count must never regress: %d", s.RetryCount)
	}
}

func TestBuildStepIndex(t *testing.T) {
	idx := BuildStepIndex([]CheckPoint{
		{ID: "cp1", RetrievalSteps: []RetrievalStep{{ID: "s1"}, {ID: "s2"}}},
		{ID: "cp2", RetrievalSteps: []RetrievalStep{{ID: "s3"}}},
	})
	if got := idx["s2"]; got.CheckPoint != 0 || got.Step != 1 {
		t.Fatalf("s2 at %+v", got)
	}
	if got := idx["s3"]; got.CheckPoint != 1 || got.Step != 0 {
		t.Fatalf("s3 at %+v", got)
	}
	if _, ok := idx["missing"]; ok {
		t.Fatalf("unknown id should be absent")
	}
}

func searchStatus(name, query string) Status {
	return Status{Action: Action{Name: name, Args: map[string]interface{}{"query": query}}}
}

func TestDetectSearchLoop(t *testing.T) {
	same := []Status{
		searchStatus("search_bing", "alpha"),
		searchStatus("search_google_official", "alpha"),
		searchStatus("search_baidu", "alpha"),
	}
	if !detectSearchLoop(same) {
		t.Fatalf("three identical queries across engines should trip the detector")
	}
	if detectSearchLoop(same[:2]) {
		t.Fatalf("two cycles must not trip the detector")
	}

	varied := []Status{
		searchStatus("search_bing", "alpha"),
		searchStatus("search_bing", "beta"),
		searchStatus("search_bing", "alpha"),
	}
	if detectSearchLoop(varied) {
		t.Fatalf("differing queries must not trip the detector")
	}

	mixed := []Status{
		searchStatus("search_bing", "alpha"),
		{Action: Action{Name: "read_webpage", Args: map[string]interface{}{"url": "u"}}},
		searchStatus("search_bing", "alpha"),
	}
	if detectSearchLoop(mixed) {
		t.Fatalf("a non-search tool in the window must not trip the detector")
	}
}
