package server

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/veritas/config"
	"github.com/mohammad-safakhou/veritas/internal/agent"
	"github.com/mohammad-safakhou/veritas/internal/event"
	"github.com/mohammad-safakhou/veritas/internal/graph"
	"github.com/mohammad-safakhou/veritas/internal/llm"
	"github.com/mohammad-safakhou/veritas/internal/schema"
	"github.com/mohammad-safakhou/veritas/internal/tools"
)

// stubGateway fails every call; the session tests only exercise lifecycle,
// never a real model.
type stubGateway struct{}

func (stubGateway) Invoke(ctx context.Context, model string, msgs []llm.Message) (llm.Message, error) {
	return llm.Message{}, errors.New("no model behind the stub")
}

func (stubGateway) InvokeWithTools(ctx context.Context, model string, msgs []llm.Message, schemas []llm.ToolSchema) (llm.Message, error) {
	return llm.Message{}, errors.New("no model behind the stub")
}

func (stubGateway) Stream(ctx context.Context, model string, msgs []llm.Message, fn func(llm.Chunk) error) error {
	return errors.New("no model behind the stub")
}

func (stubGateway) ModelInfo(model string) (llm.ModelInfo, bool) {
	return llm.ModelInfo{Name: model}, true
}

func (stubGateway) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func newInterruptedSession(t *testing.T) (*Manager, *Session) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	m := NewManager(&config.Config{}, stubGateway{}, nil, nil, logger)

	bus := event.NewBus(logger)
	parser := schema.NewParser(nil, "", 1, logger)
	main, err := agent.NewMainAgent(stubGateway{}, parser, tools.NewRegistry(logger), tools.NewRegistry(logger),
		config.LLMRoutingConfig{}, config.AgentsConfig{}, bus, graph.NewMemoryCheckpointer(), "sess", logger)
	if err != nil {
		t.Fatalf("new main agent: %v", err)
	}

	s := &Session{
		ID:     "sess",
		agent:  main,
		bus:    bus,
		status: StatusInterrupted,
		subs:   make(map[int]chan event.Event),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return m, s
}

func TestResumeRequiresInterruptedSession(t *testing.T) {
	m, s := newInterruptedSession(t)
	s.setStatus(StatusCompleted)

	err := m.Resume(s, agent.ResumeDecision{Action: "continue"})
	if err == nil || !strings.Contains(err.Error(), "not interrupted") {
		t.Fatalf("expected not-interrupted error, got %v", err)
	}
}

func TestResumeInstallsFreshCancel(t *testing.T) {
	m, s := newInterruptedSession(t)

	staleSpent := false
	s.mu.Lock()
	s.cancel = func() { staleSpent = true }
	s.mu.Unlock()

	if err := m.Resume(s, agent.ResumeDecision{Action: "continue"}); err != nil {
		t.Fatalf("resume: %v", err)
	}

	s.mu.Lock()
	fresh := s.cancel
	s.mu.Unlock()
	fresh()
	if staleSpent {
		t.Fatalf("cancel func from before the resume must be replaced, not reused")
	}
}

func TestResumeAndCancelConcurrently(t *testing.T) {
	m, s := newInterruptedSession(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = m.Resume(s, agent.ResumeDecision{Action: "continue"})
	}()
	go func() {
		defer wg.Done()
		s.Cancel()
	}()
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Status(); st != StatusRunning {
			switch st {
			case StatusFailed, StatusCancelled, StatusInterrupted:
				return
			default:
				t.Fatalf("unexpected terminal status %q", st)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never settled after resume/cancel race")
}
