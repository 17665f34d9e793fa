package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

const maxKnowledgeReActCycles = 6

// MetadataAgent extracts a news text's type, 5W1H profile and knowledge
// elements, then enriches each element with a definition retrieved by a
// Wikipedia-bound ReAct sub-agent.
type MetadataAgent struct {
	gateway     llm.Gateway
	parser      *schema.Parser
	registry    *tools.Registry
	routing     config.LLMRoutingConfig
	bus         *event.Bus
	sessionID   string
	maxParallel int
	logger      *log.Logger
}

func NewMetadataAgent(gateway llm.Gateway, parser *schema.Parser, registry *tools.Registry, routing config.LLMRoutingConfig, bus *event.Bus, sessionID string, maxParallel int, logger *log.Logger) *MetadataAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[METADATA] ", log.LstdFlags)
	}
	return &MetadataAgent{
		gateway:     gateway,
		parser:      parser,
		registry:    registry,
		routing:     routing,
		bus:         bus,
		sessionID:   sessionID,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

type knowledgePayload struct {
	Knowledge Knowledge `json:"knowledge"`
	NewsText  string    `json:"news_text"`
}

// Invoke runs the extraction sub-graph to completion.
func (a *MetadataAgent) Invoke(ctx context.Context, newsText string) (*MetadataState, error) {
	g := graph.NewStateGraph[MetadataState]()
	g.AddNode("extract_basic_metadata", a.extractBasicMetadata)
	g.AddNode("extract_knowledge", a.extractKnowledge)
	g.AddFanOutNode("retrieve_knowledge", a.retrieveKnowledge)
	g.AddNode("merge_knowledges", func(ctx context.Context, s MetadataState) (MetadataState, error) {
		return MetadataState{}, nil
	})
	g.SetEntryPoint("extract_basic_metadata")
	g.AddEdge("extract_basic_metadata", "extract_knowledge")
	g.AddConditionalEdges("extract_knowledge", a.routeToRetrieval, []string{"retrieve_knowledge", "merge_knowledges"})
	g.AddEdge("retrieve_knowledge", "merge_knowledges")
	g.SetFinishPoint("merge_knowledges")

	runner, err := g.Compile(graph.NewMemoryCheckpointer())
	if err != nil {
		return nil, fmt.Errorf("compile metadata graph: %w", err)
	}
	runner.SetMaxParallel(a.maxParallel)

	final, err := runner.Invoke(ctx, MetadataState{NewsText: newsText}, graph.Config{ThreadID: a.sessionID + ":metadata"})
	if err != nil {
		return nil, err
	}
	return &final, nil
}

func (a *MetadataAgent) extractBasicMetadata(ctx context.Context, s MetadataState) (MetadataState, error) {
	a.publish(ctx, event.TopicExtractBasicMetadataStart, nil)

	model := a.routing.ModelFor("metadata")
	prompt := fmt.Sprintf(basicMetadataPrompt, s.NewsText, basicMetadataDef.FormatInstructions())
	var md BasicMetadata
	if _, err := a.parser.InvokeStructured(ctx, a.gateway, model, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, basicMetadataDef, &md); err != nil {
		return MetadataState{}, fmt.Errorf("extract basic metadata: %w", err)
	}

	a.publish(ctx, event.TopicExtractBasicMetadataEnd, md)
	return MetadataState{Metadata: &md}, nil
}

func (a *MetadataAgent) extractKnowledge(ctx context.Context, s MetadataState) (MetadataState, error) {
	a.publish(ctx, event.TopicExtractKnowledgeStart, nil)

	model := a.routing.ModelFor("metadata")
	prompt := fmt.Sprintf(extractKnowledgePrompt, s.NewsText, knowledgesDef.FormatInstructions())
	var parsed struct {
		Knowledges []Knowledge `json:"knowledges"`
	}
	if _, err := a.parser.InvokeStructured(ctx, a.gateway, model, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, knowledgesDef, &parsed); err != nil {
		return MetadataState{}, fmt.Errorf("extract knowledge: %w", err)
	}

	a.publish(ctx, event.TopicExtractKnowledgeEnd, parsed.Knowledges)
	return MetadataState{Knowledges: parsed.Knowledges}, nil
}

func (a *MetadataAgent) routeToRetrieval(ctx context.Context, s MetadataState) (graph.Route, error) {
	if len(s.Knowledges) == 0 {
		return graph.Goto("merge_knowledges"), nil
	}
	sends := make([]graph.Send, 0, len(s.Knowledges))
	for _, k := range s.Knowledges {
		sends = append(sends, graph.Send{
			Node:    "retrieve_knowledge",
			Payload: knowledgePayload{Knowledge: k, NewsText: s.NewsText},
		})
	}
	return graph.Fan(sends...), nil
}

// retrieveKnowledge runs a small ReAct loop bound to the Wikipedia tools for
// a single term. A knowledge element that cannot be defined comes back with
// the explicit "not found" marker rather than being dropped.
func (a *MetadataAgent) retrieveKnowledge(ctx context.Context, payload interface{}) (MetadataState, error) {
	kp, err := decodePayload[knowledgePayload](payload)
	if err != nil {
		return MetadataState{}, err
	}
	k := kp.Knowledge
	a.publish(ctx, event.TopicRetrieveKnowledgeStart, k)

	model := a.routing.ModelFor("metadata")
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: retrieveKnowledgeSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(retrieveKnowledgeUserPrompt, k.Term, k.Category, kp.NewsText, knowledgeDefinitionDef.FormatInstructions())},
	}
	schemas := a.registry.Schemas()

	var final llm.Message
	for cycle := 0; cycle < maxKnowledgeReActCycles; cycle++ {
		msg, err := a.gateway.InvokeWithTools(ctx, model, msgs, schemas)
		if err != nil {
			return MetadataState{}, fmt.Errorf("retrieve knowledge %q: %w", k.Term, err)
		}
		if len(msg.ToolCalls) == 0 {
			final = msg
			break
		}
		call := msg.ToolCalls[0]
		result := a.registry.Invoke(ctx, call.Name, call.Args)
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: mustJSON(call)},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("Result of %s:\n%s", call.Name, result)},
		)
	}
	if final.Content == "" {
		// Budget ran out mid-loop; record the miss instead of failing the
		// whole extraction.
		k.Description = "not found"
	} else {
		var def struct {
			Description string `json:"description"`
			Source      string `json:"source"`
		}
		if err := a.parser.Parse(ctx, final.Content, knowledgeDefinitionDef, &def); err != nil {
			a.logger.Printf("knowledge %q: unparsable definition: %v", k.Term, err)
			k.Description = "not found"
		} else {
			k.Description = def.Description
			k.Source = def.Source
		}
	}

	a.publish(ctx, event.TopicRetrieveKnowledgeEnd, k)
	return MetadataState{RetrievedKnowledges: []Knowledge{k}}, nil
}

func (a *MetadataAgent) publish(ctx context.Context, topic event.Topic, payload interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(event.Event{Topic: topic, SessionID: a.sessionID, Node: graph.CurrentNode(ctx), Payload: payload})
}

// decodePayload converts a fan-out payload to its concrete type, tolerating
// the map form a payload takes after a checkpoint round-trip.
func decodePayload[T any](payload interface{}) (T, error) {
	if v, ok := payload.(T); ok {
		return v, nil
	}
	var out T
	b, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encode fan-out payload: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode fan-out payload: %w", err)
	}
	return out, nil
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
