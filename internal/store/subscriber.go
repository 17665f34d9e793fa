package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/veritas/internal/agent"
	"github.com/mohammad-safakhou/veritas/internal/event"
)

// SubgraphWriter is the slice of GraphStore the subscriber needs.
type SubgraphWriter interface {
	WriteSubgraph(ctx context.Context, nodes []Node, edges []Edge) error
	ReplaceResultSubgraph(ctx context.Context, sessionID string, stepIDs []string, nodes []Node, edges []Edge) error
}

// Subscriber funnels persistence events from the bus into graph writes. Each
// event becomes one transaction; write failures are logged, never propagated,
// so a down database cannot abort a running session.
type Subscriber struct {
	store   SubgraphWriter
	timeout time.Duration
	logger  *log.Logger
}

func NewSubscriber(store SubgraphWriter, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Subscriber{store: store, timeout: 10 * time.Second, logger: logger}
}

// Attach registers the persistence handlers on the bus.
func (s *Subscriber) Attach(bus *event.Bus) {
	bus.Subscribe(event.TopicStoreNewsText, s.onNewsText)
	bus.Subscribe(event.TopicExtractBasicMetadataEnd, s.onBasicMetadata)
	bus.Subscribe(event.TopicRetrieveKnowledgeEnd, s.onKnowledge)
	bus.Subscribe(event.TopicStoreCheckPoints, s.onCheckPoints)
	bus.Subscribe(event.TopicStoreRetrievalResults, s.onRetrievalResults)
}

func newsNodeID(sessionID string) string { return "news:" + sessionID }

func (s *Subscriber) onNewsText(ev event.Event) {
	var payload struct {
		NewsText string `json:"news_text"`
	}
	if err := convert(ev.Payload, &payload); err != nil {
		s.logger.Printf("news text payload: %v", err)
		return
	}
	s.write(ev.Topic, []Node{{
		ID:        newsNodeID(ev.SessionID),
		SessionID: ev.SessionID,
		Label:     LabelNewsText,
		Properties: map[string]interface{}{
			"text": payload.NewsText,
		},
	}}, nil)
}

func (s *Subscriber) onBasicMetadata(ev event.Event) {
	var md agent.BasicMetadata
	if err := convert(ev.Payload, &md); err != nil {
		s.logger.Printf("basic metadata payload: %v", err)
		return
	}
	id := "metadata:" + ev.SessionID
	s.write(ev.Topic,
		[]Node{{ID: id, SessionID: ev.SessionID, Label: LabelBasicMetadata, Properties: toProps(md)}},
		[]Edge{{SessionID: ev.SessionID, Source: newsNodeID(ev.SessionID), Target: id, Label: EdgeHasBasicMetadata}})
}

func (s *Subscriber) onKnowledge(ev event.Event) {
	var k agent.Knowledge
	if err := convert(ev.Payload, &k); err != nil {
		s.logger.Printf("knowledge payload: %v", err)
		return
	}
	id := fmt.Sprintf("knowledge:%s:%s", ev.SessionID, k.Term)
	s.write(ev.Topic,
		[]Node{{ID: id, SessionID: ev.SessionID, Label: LabelKnowledge, Properties: toProps(k)}},
		[]Edge{{SessionID: ev.SessionID, Source: newsNodeID(ev.SessionID), Target: id, Label: EdgeHasKnowledge}})
}

func (s *Subscriber) onCheckPoints(ev event.Event) {
	var cps []agent.CheckPoint
	if err := convert(ev.Payload, &cps); err != nil {
		s.logger.Printf("check points payload: %v", err)
		return
	}
	var nodes []Node
	var edges []Edge
	for _, cp := range cps {
		nodes = append(nodes, Node{
			ID: cp.ID, SessionID: ev.SessionID, Label: LabelCheckPoint,
			Properties: map[string]interface{}{
				"content":    cp.Content,
				"importance": cp.Importance,
			},
		})
		edges = append(edges, Edge{SessionID: ev.SessionID, Source: newsNodeID(ev.SessionID), Target: cp.ID, Label: EdgeHasCheckPoint})
		for _, step := range cp.RetrievalSteps {
			nodes = append(nodes, Node{
				ID: step.ID, SessionID: ev.SessionID, Label: LabelRetrievalStep,
				Properties: map[string]interface{}{
					"purpose":          step.Purpose,
					"expected_sources": step.ExpectedSources,
				},
			})
			edges = append(edges, Edge{SessionID: ev.SessionID, Source: cp.ID, Target: step.ID, Label: EdgeVerifiedBy})
		}
	}
	s.write(ev.Topic, nodes, edges)
}

func (s *Subscriber) onRetrievalResults(ev event.Event) {
	var results []agent.RetrievalResult
	if err := convert(ev.Payload, &results); err != nil {
		s.logger.Printf("retrieval results payload: %v", err)
		return
	}
	var nodes []Node
	var edges []Edge
	var stepIDs []string
	for _, rr := range results {
		stepIDs = append(stepIDs, rr.RetrievalStepID)
		resultID := "result:" + rr.RetrievalStepID
		nodes = append(nodes, Node{
			ID: resultID, SessionID: ev.SessionID, Label: LabelSearchResult,
			Properties: map[string]interface{}{
				"summary":    rr.Summary,
				"conclusion": rr.Conclusion,
			},
		})
		edges = append(edges, Edge{SessionID: ev.SessionID, Source: rr.RetrievalStepID, Target: resultID, Label: EdgeHasResult})
		for i, evd := range rr.Evidences {
			evidenceID := fmt.Sprintf("evidence:%s:%d", rr.RetrievalStepID, i)
			nodes = append(nodes, Node{
				ID: evidenceID, SessionID: ev.SessionID, Label: LabelEvidence,
				Properties: toProps(evd),
			})
			label := EdgeSupportsBy
			if evd.Relationship == agent.RelationshipContradict {
				label = EdgeContradictsWith
			}
			edges = append(edges, Edge{SessionID: ev.SessionID, Source: resultID, Target: evidenceID, Label: label})
		}
	}
	// A retried step replaces its whole evidence set; dropping the prior
	// evidence first keeps a shorter retry from leaving stale entries.
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.ReplaceResultSubgraph(ctx, ev.SessionID, stepIDs, nodes, edges); err != nil {
		s.logger.Printf("persist %s: %v", ev.Topic, err)
	}
}

func (s *Subscriber) write(topic event.Topic, nodes []Node, edges []Edge) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.WriteSubgraph(ctx, nodes, edges); err != nil {
		s.logger.Printf("persist %s: %v", topic, err)
	}
}

// convert bridges the bus's interface{} payloads to typed records.
func convert(payload interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func toProps(v interface{}) map[string]interface{} {
	var m map[string]interface{}
	if err := convert(v, &m); err != nil {
		return map[string]interface{}{"raw": fmt.Sprintf("%v", v)}
	}
	return m
}
