package event

import (
	"log"
	"sync"
	"time"
)

// Topic names the lifecycle events agents publish. Subscribers (DB writer,
// CLI printer, SSE forwarder) key off these; agents never observe subscriber
// state.
type Topic string

const (
	TopicStoreNewsText             Topic = "on_store_news_text"
	TopicExtractBasicMetadataStart Topic = "on_extract_basic_metadata_start"
	TopicExtractBasicMetadataEnd   Topic = "on_extract_basic_metadata_end"
	TopicExtractKnowledgeStart     Topic = "on_extract_knowledge_start"
	TopicExtractKnowledgeEnd       Topic = "on_extract_knowledge_end"
	TopicRetrieveKnowledgeStart    Topic = "on_retrieve_knowledge_start"
	TopicRetrieveKnowledgeEnd      Topic = "on_retrieve_knowledge_end"
	TopicExtractCheckPointStart    Topic = "on_extract_check_point_start"
	TopicExtractCheckPointEnd      Topic = "on_extract_check_point_end"
	TopicStoreCheckPoints          Topic = "on_store_check_points"
	TopicSearchAgentStart          Topic = "on_search_agent_start"
	TopicEvaluateStatusStart       Topic = "on_evaluate_current_status_start"
	TopicEvaluateStatusEnd         Topic = "on_evaluate_current_status_end"
	TopicToolStart                 Topic = "on_tool_start"
	TopicToolEnd                   Topic = "on_tool_end"
	TopicGenerateAnswerStart       Topic = "on_generate_answer_start"
	TopicGenerateAnswerEnd         Topic = "on_generate_answer_end"
	TopicStoreRetrievalResults     Topic = "on_store_retrieval_results"
	TopicEvaluateResultStart       Topic = "on_evaluate_search_result_start"
	TopicEvaluateResultEnd         Topic = "on_evaluate_search_result_end"
	TopicLLMDecision               Topic = "on_llm_decision"
	TopicWriteReportStart          Topic = "on_write_fact_check_report_start"
	TopicWriteReportEnd            Topic = "on_write_fact_check_report_end"
	TopicInterrupt                 Topic = "on_interrupt"
	TopicError                     Topic = "on_error"
	TopicDone                      Topic = "on_done"
)

// Event is a single published lifecycle event.
type Event struct {
	Topic     Topic       `json:"topic"`
	SessionID string      `json:"session_id"`
	Node      string      `json:"node,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	At        time.Time   `json:"at"`
}

// Handler consumes events. Handlers must be side-effect-only.
type Handler func(Event)

// Bus is a typed pub/sub channel for lifecycle events. Subscriber panics are
// recovered so a faulty sink cannot abort a graph run.
type Bus struct {
	mu     sync.RWMutex
	exact  map[Topic][]Handler
	all    []Handler
	logger *log.Logger
}

// NewBus creates an event bus.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(log.Writer(), "[BUS] ", log.LstdFlags)
	}
	return &Bus{exact: make(map[Topic][]Handler), logger: logger}
}

// Subscribe registers a handler for a single topic.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact[topic] = append(b.exact[topic], h)
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event synchronously to every matching handler.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.exact[ev.Topic])+len(b.all))
	handlers = append(handlers, b.exact[ev.Topic]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("subscriber panic on %s: %v", ev.Topic, r)
		}
	}()
	h(ev)
}
