package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/agent"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/store"
	"github.com/mohammad-safakhou/veritas/internal/telemetry"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

// Session statuses.
const (
	StatusRunning     = "running"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// SessionConfig is the per-request tuning accepted by start-fact-check.
type SessionConfig struct {
	Models        config.LLMRoutingConfig `json:"models"`
	SelectedTools []string                `json:"selected_tools"`
}

// Session is one running fact-check.
type Session struct {
	ID    string
	agent *agent.MainAgent
	bus   *event.Bus

	cancel context.CancelFunc

	mu     sync.Mutex
	status string
	events []event.Event
	subs   map[int]chan event.Event
	nextID int
}

// Manager owns sessions and the shared adapters they bind to.
type Manager struct {
	cfg     *config.Config
	gateway llm.Gateway
	metrics *telemetry.Metrics
	graphDB *store.GraphStore
	logger  *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config, gateway llm.Gateway, metrics *telemetry.Metrics, graphDB *store.GraphStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Manager{
		cfg:      cfg,
		gateway:  gateway,
		metrics:  metrics,
		graphDB:  graphDB,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Start creates a session and launches its run in the background.
func (m *Manager) Start(newsText string, sc SessionConfig) (*Session, error) {
	id := uuid.NewString()
	bus := event.NewBus(m.logger)

	if m.graphDB != nil {
		store.NewSubscriber(m.graphDB, m.logger).Attach(bus)
	}
	if m.metrics != nil {
		m.metrics.Attach(bus)
	}

	routing := mergeRouting(m.cfg.LLM.Routing, sc.Models)
	parser := schema.NewParser(m.gateway, routing.ModelFor("repair"), m.cfg.Agents.ParserFixAttempts, m.logger)
	searcherTools := tools.NewSearcherRegistry(m.cfg.Tools, sc.SelectedTools, m.logger)
	wikiTools := tools.NewWikipediaRegistry(m.cfg.Tools, m.logger)

	checkpointer, err := m.newCheckpointer()
	if err != nil {
		return nil, err
	}
	main, err := agent.NewMainAgent(m.gateway, parser, searcherTools, wikiTools, routing, m.cfg.Agents, bus, checkpointer, id, m.logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		agent:  main,
		bus:    bus,
		cancel: cancel,
		status: StatusRunning,
		subs:   make(map[int]chan event.Event),
	}
	bus.SubscribeAll(s.broadcast)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.run(ctx, func(ctx context.Context) (agent.FactCheckPlanState, error) {
		return main.Invoke(ctx, newsText, s.emitter())
	}, m.metrics, m.logger)
	return s, nil
}

// Resume continues an interrupted session with the caller's decision.
func (m *Manager) Resume(s *Session, decision agent.ResumeDecision) error {
	s.mu.Lock()
	if s.status != StatusInterrupted {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s, not interrupted", s.ID, status)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.status = StatusRunning
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, func(ctx context.Context) (agent.FactCheckPlanState, error) {
		return s.agent.Resume(ctx, decision, s.emitter())
	}, m.metrics, m.logger)
	return nil
}

func (m *Manager) newCheckpointer() (graph.Checkpointer, error) {
	if m.cfg.Storage.Checkpointer == "redis" {
		rc := m.cfg.Storage.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:        rc.Host + ":" + rc.Port,
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.Timeout,
		})
		return graph.NewRedisCheckpointer(rdb), nil
	}
	return graph.NewMemoryCheckpointer(), nil
}

// run drives one graph execution segment and settles the session status.
func (s *Session) run(ctx context.Context, invoke func(context.Context) (agent.FactCheckPlanState, error), metrics *telemetry.Metrics, logger *log.Logger) {
	_, err := invoke(ctx)
	switch {
	case err == nil:
		s.setStatus(StatusCompleted)
		s.bus.Publish(event.Event{Topic: event.TopicDone, SessionID: s.ID})
		if metrics != nil {
			metrics.Sessions.WithLabelValues("completed").Inc()
		}
	case isInterrupt(err):
		s.setStatus(StatusInterrupted)
	case errors.Is(err, context.Canceled):
		s.setStatus(StatusCancelled)
		if metrics != nil {
			metrics.Sessions.WithLabelValues("cancelled").Inc()
		}
	default:
		logger.Printf("session %s failed: %v", s.ID, err)
		s.setStatus(StatusFailed)
		s.bus.Publish(event.Event{Topic: event.TopicError, SessionID: s.ID, Payload: map[string]interface{}{"message": err.Error()}})
		if metrics != nil {
			metrics.Sessions.WithLabelValues("failed").Inc()
		}
	}
}

func isInterrupt(err error) bool {
	var intr graph.ErrInterrupted
	return errors.As(err, &intr)
}

// emitter bridges runtime lifecycle events onto the session bus.
func (s *Session) emitter() graph.Emitter {
	return func(ev graph.Event) {
		s.bus.Publish(event.Event{
			Topic:     event.Topic(ev.Kind),
			SessionID: s.ID,
			Node:      ev.Node,
			Payload:   ev.Data,
			At:        ev.At,
		})
	}
}

// Cancel aborts the session's current run.
func (s *Session) Cancel() {
	s.mu.Lock()
	running := s.status == StatusRunning
	if running {
		s.status = StatusCancelled
	}
	cancel := s.cancel
	s.mu.Unlock()
	if running && cancel != nil {
		cancel()
	}
}

// Status returns the session's current status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	// a cancel that raced the run's own completion keeps the cancelled status
	if s.status != StatusCancelled || status == StatusCancelled {
		s.status = status
	}
	s.mu.Unlock()
}

// State exposes the latest checkpoint snapshot.
func (s *Session) State(ctx context.Context) (graph.Snapshot[agent.FactCheckPlanState], bool, error) {
	return s.agent.GetState(ctx)
}

// Subscribe returns a channel replaying every event so far and then live
// events, plus an unsubscribe function.
func (s *Session) Subscribe() (<-chan event.Event, func()) {
	ch := make(chan event.Event, 256)
	s.mu.Lock()
	for _, ev := range s.events {
		select {
		case ch <- ev:
		default:
		}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		// channel is left open for the GC; senders never block on it
	}
}

func (s *Session) broadcast(ev event.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default: // slow consumer drops events rather than stalling the run
		}
	}
	s.mu.Unlock()
}

// mergeRouting overlays per-session model choices on the server defaults.
func mergeRouting(base, override config.LLMRoutingConfig) config.LLMRoutingConfig {
	out := base
	if override.Metadata != "" {
		out.Metadata = override.Metadata
	}
	if override.Extraction != "" {
		out.Extraction = override.Extraction
	}
	if override.Search != "" {
		out.Search = override.Search
	}
	if override.Evaluation != "" {
		out.Evaluation = override.Evaluation
	}
	if override.Reporting != "" {
		out.Reporting = override.Reporting
	}
	if override.Repair != "" {
		out.Repair = override.Repair
	}
	if override.Fallback != "" {
		out.Fallback = override.Fallback
	}
	return out
}
