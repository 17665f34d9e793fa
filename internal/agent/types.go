package agent

import (
	"encoding/json"
	"fmt"
)

// BasicMetadata is the 5W1H profile of a news text.
type BasicMetadata struct {
	NewsType string   `json:"news_type"`
	Who      []string `json:"who,omitempty"`
	When     []string `json:"when,omitempty"`
	Where    []string `json:"where,omitempty"`
	What     []string `json:"what,omitempty"`
	Why      []string `json:"why,omitempty"`
	How      []string `json:"how,omitempty"`
}

// Knowledge is a term worth defining before claims can be judged. Extracted
// with only term+category; description and source are filled by retrieval.
type Knowledge struct {
	Term        string `json:"term"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// RetrievalStep is one concrete retrieval sub-task under a check point.
type RetrievalStep struct {
	ID              string                       `json:"id"`
	Purpose         string                       `json:"purpose"`
	ExpectedSources []string                     `json:"expected_sources"`
	Result          *RetrievalResult             `json:"result,omitempty"`
	Verification    *RetrievalResultVerification `json:"verification,omitempty"`
}

// CheckPoint is a factual claim judged worth verifying, with its plan.
type CheckPoint struct {
	ID                  string          `json:"id"`
	Content             string          `json:"content"`
	IsVerificationPoint bool            `json:"is_verification_point"`
	Importance          string          `json:"importance,omitempty"`
	RetrievalSteps      []RetrievalStep `json:"retrieval_step"`
}

// EvidenceRelationship constrains how a snippet relates to a claim.
type EvidenceRelationship string

const (
	RelationshipSupport    EvidenceRelationship = "support"
	RelationshipContradict EvidenceRelationship = "contradict"
)

// Evidence is a quoted snippet with attribution.
type Evidence struct {
	Content      string               `json:"content"`
	Source       map[string]string    `json:"source"`
	Reasoning    string               `json:"reasoning"`
	Relationship EvidenceRelationship `json:"relationship"`
}

// Validate rejects relationships outside the allowed set.
func (e Evidence) Validate() error {
	switch e.Relationship {
	case RelationshipSupport, RelationshipContradict:
		return nil
	}
	return fmt.Errorf("evidence relationship %q not in {support, contradict}", e.Relationship)
}

// SearchResult is a Searcher's final answer for one retrieval step.
type SearchResult struct {
	Summary    string `json:"summary"`
	Conclusion string `json:"conclusion"`
}

// RetrievalResult tags a SearchResult with its owner and evidence trail.
type RetrievalResult struct {
	CheckPointID    string     `json:"check_point_id"`
	RetrievalStepID string     `json:"retrieval_step_id"`
	Summary         string     `json:"summary"`
	Conclusion      string     `json:"conclusion"`
	Evidences       []Evidence `json:"evidences,omitempty"`
}

// RetrievalResultVerification is the Main agent's critique of one result.
type RetrievalResultVerification struct {
	Reasoning              string   `json:"reasoning"`
	Verified               bool     `json:"verified"`
	UpdatedPurpose         string   `json:"updated_purpose,omitempty"`
	UpdatedExpectedSources []string `json:"updated_expected_sources,omitempty"`
}

// Action is what the Searcher LLM decided to do next: a single tool call or
// the literal "answer". Serialized as either a JSON object or the bare
// string; models occasionally emit a one-element list, which is flattened.
type Action struct {
	Name   string                 `json:"name,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Answer bool                   `json:"-"`
}

// IsAnswer reports whether the action terminates the loop.
func (a Action) IsAnswer() bool { return a.Answer }

// AnswerAction is the terminal action literal.
func AnswerAction() Action { return Action{Answer: true} }

func (a Action) MarshalJSON() ([]byte, error) {
	if a.Answer {
		return json.Marshal("answer")
	}
	return json.Marshal(struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args,omitempty"`
	}{a.Name, a.Args})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "answer" {
			return fmt.Errorf("action string must be %q, got %q", "answer", s)
		}
		*a = Action{Answer: true}
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return fmt.Errorf("action list is empty")
		}
		return a.UnmarshalJSON(list[0])
	}
	var obj struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("action must be a tool-call object or %q: %w", "answer", err)
	}
	if obj.Name == "" {
		return fmt.Errorf("tool-call action missing name")
	}
	*a = Action{Name: obj.Name, Args: obj.Args}
	return nil
}

// Status is one Searcher reflection cycle.
type Status struct {
	Evaluation         string     `json:"evaluation"`
	MissingInformation string     `json:"missing_information,omitempty"`
	NewEvidence        []Evidence `json:"new_evidence,omitempty"`
	NextStep           string     `json:"next_step,omitempty"`
	Action             Action     `json:"action"`
}

// MetadataState is the MetadataExtractor sub-graph state.
type MetadataState struct {
	NewsText            string         `json:"news_text"`
	Metadata            *BasicMetadata `json:"basic_metadata,omitempty"`
	Knowledges          []Knowledge    `json:"knowledges,omitempty"`
	RetrievedKnowledges []Knowledge    `json:"retrieved_knowledges,omitempty"`
}

// Merge applies a node patch. RetrievedKnowledges is an accumulator; the
// parallel retrievers append in completion order.
func (s MetadataState) Merge(patch MetadataState) MetadataState {
	if patch.NewsText != "" {
		s.NewsText = patch.NewsText
	}
	if patch.Metadata != nil {
		s.Metadata = patch.Metadata
	}
	if patch.Knowledges != nil {
		s.Knowledges = patch.Knowledges
	}
	s.RetrievedKnowledges = append(s.RetrievedKnowledges, patch.RetrievedKnowledges...)
	return s
}

// SearchAgentState is one Searcher's working state for a retrieval step.
type SearchAgentState struct {
	CheckPointID     string         `json:"check_point_id"`
	RetrievalStepID  string         `json:"retrieval_step_id"`
	BasicMetadata    *BasicMetadata `json:"basic_metadata,omitempty"`
	Content          string         `json:"content"`
	Purpose          string         `json:"purpose"`
	ExpectedSources  []string       `json:"expected_sources,omitempty"`
	Statuses         []Status       `json:"statuses,omitempty"`
	LatestToolResult string         `json:"latest_tool_result,omitempty"`
	Evidences        []Evidence     `json:"evidences,omitempty"`
	Result           *SearchResult  `json:"result,omitempty"`
	TokenUsage       int64          `json:"token_usage"`

	// ResetTokenUsage marks a patch whose TokenUsage replaces the counter
	// instead of adding to it. Patch-only, never checkpointed.
	ResetTokenUsage bool `json:"-"`
}

// Merge applies a node patch. Statuses and Evidences accumulate; TokenUsage
// is an additive counter unless the patch resets it.
func (s SearchAgentState) Merge(patch SearchAgentState) SearchAgentState {
	s.Statuses = append(s.Statuses, patch.Statuses...)
	s.Evidences = append(s.Evidences, patch.Evidences...)
	if patch.LatestToolResult != "" {
		s.LatestToolResult = patch.LatestToolResult
	}
	if patch.Result != nil {
		s.Result = patch.Result
	}
	if patch.ResetTokenUsage {
		s.TokenUsage = patch.TokenUsage
	} else {
		s.TokenUsage += patch.TokenUsage
	}
	return s
}

// FactCheckPlanState is the Main agent's top-level state.
type FactCheckPlanState struct {
	SessionID                  string            `json:"session_id"`
	NewsText                   string            `json:"news_text"`
	Metadata                   *MetadataState    `json:"metadata,omitempty"`
	CheckPoints                []CheckPoint      `json:"check_points,omitempty"`
	AggregatedRetrievedResults []RetrievalResult `json:"aggregated_retrieved_results,omitempty"`
	Report                     string            `json:"report,omitempty"`
	RetryCount                 int               `json:"retry_count"`
	HumanFeedback              string            `json:"human_feedback,omitempty"`

	// ClearHumanFeedback marks a patch that consumes pending feedback.
	// Patch-only, never checkpointed.
	ClearHumanFeedback bool `json:"-"`
}

// Merge applies a node patch. AggregatedRetrievedResults accumulates across
// the search fan-out; CheckPoints is replaced wholesale on re-extraction.
func (s FactCheckPlanState) Merge(patch FactCheckPlanState) FactCheckPlanState {
	if patch.SessionID != "" {
		s.SessionID = patch.SessionID
	}
	if patch.NewsText != "" {
		s.NewsText = patch.NewsText
	}
	if patch.Metadata != nil {
		s.Metadata = patch.Metadata
	}
	if patch.CheckPoints != nil {
		s.CheckPoints = patch.CheckPoints
	}
	s.AggregatedRetrievedResults = append(s.AggregatedRetrievedResults, patch.AggregatedRetrievedResults...)
	if patch.Report != "" {
		s.Report = patch.Report
	}
	if patch.RetryCount > s.RetryCount {
		s.RetryCount = patch.RetryCount
	}
	if patch.ClearHumanFeedback {
		s.HumanFeedback = ""
	} else if patch.HumanFeedback != "" {
		s.HumanFeedback = patch.HumanFeedback
	}
	return s
}

// StepIndex locates a retrieval step inside the plan by id.
type StepIndex struct {
	CheckPoint int
	Step       int
}

// BuildStepIndex maps every retrieval step id to its position in the plan.
func BuildStepIndex(checkPoints []CheckPoint) map[string]StepIndex {
	idx := make(map[string]StepIndex)
	for ci, cp := range checkPoints {
		for si := range cp.RetrievalSteps {
			idx[cp.RetrievalSteps[si].ID] = StepIndex{CheckPoint: ci, Step: si}
		}
	}
	return idx
}
