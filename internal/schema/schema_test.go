package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/veritas/internal/llm"
)

// fakeGateway answers Invoke calls from a canned queue.
type fakeGateway struct {
	replies []string
	calls   int
}

func (f *fakeGateway) Invoke(ctx context.Context, model string, msgs []llm.Message) (llm.Message, error) {
	if f.calls >= len(f.replies) {
		return llm.Message{}, errors.New("no more canned replies")
	}
	reply := f.replies[f.calls]
	f.calls++
	return llm.Message{Role: llm.RoleAssistant, Content: reply}, nil
}

func (f *fakeGateway) InvokeWithTools(ctx context.Context, model string, msgs []llm.Message, tools []llm.ToolSchema) (llm.Message, error) {
	return f.Invoke(ctx, model, msgs)
}

func (f *fakeGateway) Stream(ctx context.Context, model string, msgs []llm.Message, fn func(llm.Chunk) error) error {
	return errors.New("not implemented")
}

func (f *fakeGateway) ModelInfo(model string) (llm.ModelInfo, bool) {
	return llm.ModelInfo{Name: model, APIName: model}, true
}

func (f *fakeGateway) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

var claimDef = Definition{
	Name: "Claim",
	Fields: []Field{
		{Name: "content", Type: "string", Required: true, Description: "the claim text"},
		{Name: "importance", Type: "string", Required: true, Enum: []string{"high", "medium", "low"}},
		{Name: "evidences", Type: "array<object>", Items: &Definition{
			Name: "EvidenceItem",
			Fields: []Field{
				{Name: "content", Type: "string", Required: true},
				{Name: "relationship", Type: "string", Required: true, Enum: []string{"support", "contradict"}},
			},
		}},
	},
}

type claim struct {
	Content    string `json:"content"`
	Importance string `json:"importance"`
	Evidences  []struct {
		Content      string `json:"content"`
		Relationship string `json:"relationship"`
	} `json:"evidences"`
}

func TestParseToleratesFencesAndProse(t *testing.T) {
	p := NewParser(nil, "", 1, nil)
	text := "Sure, here is the result:\n```json\n{\"content\": \"the earth is round\", \"importance\": \"high\"}\n```\nLet me know if you need anything else."
	var out claim
	if err := p.Parse(context.Background(), text, claimDef, &out); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Content != "the earth is round" || out.Importance != "high" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestParseValidatesNestedItems(t *testing.T) {
	p := NewParser(nil, "", 1, nil)
	text := `{"content": "c", "importance": "low", "evidences": [{"content": "e", "relationship": "maybe"}]}`
	var out claim
	err := p.Parse(context.Background(), text, claimDef, &out)
	if err == nil {
		t.Fatalf("expected enum violation in nested items")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if !strings.Contains(pe.Err.Error(), "relationship") {
		t.Fatalf("error does not name the offending field: %v", pe.Err)
	}
}

func TestParseMissingRequiredField(t *testing.T) {
	p := NewParser(nil, "", 1, nil)
	var out claim
	err := p.Parse(context.Background(), `{"importance": "high"}`, claimDef, &out)
	if err == nil || !strings.Contains(err.Error(), "content") {
		t.Fatalf("expected missing-field error naming content, got %v", err)
	}
}

func TestParseRepairsViaGateway(t *testing.T) {
	gw := &fakeGateway{replies: []string{`{"content": "fixed", "importance": "medium"}`}}
	p := NewParser(gw, "repair-model", 3, nil)
	var out claim
	if err := p.Parse(context.Background(), "not json at all", claimDef, &out); err != nil {
		t.Fatalf("parse with repair: %v", err)
	}
	if out.Content != "fixed" {
		t.Fatalf("repair output not decoded: %+v", out)
	}
	if gw.calls != 1 {
		t.Fatalf("expected one repair call, got %d", gw.calls)
	}
}

func TestParseRepairExhaustsAttempts(t *testing.T) {
	gw := &fakeGateway{replies: []string{"still bad", "still bad", "still bad"}}
	p := NewParser(gw, "repair-model", 3, nil)
	var out claim
	err := p.Parse(context.Background(), "not json", claimDef, &out)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError after exhausting repairs, got %v", err)
	}
	if gw.calls != 3 {
		t.Fatalf("expected 3 repair attempts, got %d", gw.calls)
	}
}

func TestInvokeStructured(t *testing.T) {
	gw := &fakeGateway{replies: []string{`{"content": "direct", "importance": "low"}`}}
	p := NewParser(nil, "", 1, nil)
	var out claim
	raw, err := p.InvokeStructured(context.Background(), gw, "model", []llm.Message{{Role: llm.RoleUser, Content: "q"}}, claimDef, &out)
	if err != nil {
		t.Fatalf("invoke structured: %v", err)
	}
	if out.Content != "direct" {
		t.Fatalf("reply not decoded: %+v", out)
	}
	if !strings.Contains(raw, "direct") {
		t.Fatalf("raw reply not surfaced: %s", raw)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	s := `prefix {"a": {"b": "}"}, "c": [1, 2]} suffix {"d": 1}`
	got := ExtractJSON(s)
	if got != `{"a": {"b": "}"}, "c": [1, 2]}` {
		t.Fatalf("extract = %s", got)
	}
}

func TestFormatInstructionsListsConstraints(t *testing.T) {
	instr := claimDef.FormatInstructions()
	for _, want := range []string{`"content"`, "required", "high, medium, low", "each element is an object"} {
		if !strings.Contains(instr, want) {
			t.Fatalf("instructions missing %q:\n%s", want, instr)
		}
	}
}
