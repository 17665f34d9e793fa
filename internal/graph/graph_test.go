package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
)

type travState struct {
	Visited []string `json:"visited"`
	Counter int      `json:"counter"`
}

func (s travState) Merge(patch travState) travState {
	s.Visited = append(s.Visited, patch.Visited...)
	s.Counter += patch.Counter
	return s
}

func visit(name string) NodeFunc[travState] {
	return func(ctx context.Context, s travState) (travState, error) {
		return travState{Visited: []string{name}}, nil
	}
}

func TestLinearRun(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.AddNode("b", visit("b"))
	g.AddNode("c", visit("c"))
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.SetFinishPoint("c")

	runner, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := runner.Invoke(context.Background(), travState{}, Config{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := strings.Join(out.Visited, ","); got != "a,b,c" {
		t.Fatalf("unexpected traversal order: %s", got)
	}
}

func TestCompileRejectsUnknownTargets(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.SetEntryPoint("a")
	g.AddEdge("a", "ghost")
	if _, err := g.Compile(nil); err == nil {
		t.Fatalf("expected compile error for edge to unknown node")
	}

	g = NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.SetEntryPoint("a")
	g.AddConditionalEdges("a", func(ctx context.Context, s travState) (Route, error) {
		return Goto(End), nil
	}, []string{"ghost"})
	if _, err := g.Compile(nil); err == nil {
		t.Fatalf("expected compile error for conditional edge to unknown node")
	}
}

func TestRouterDisallowedTarget(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.AddNode("b", visit("b"))
	g.SetEntryPoint("a")
	g.AddConditionalEdges("a", func(ctx context.Context, s travState) (Route, error) {
		return Goto("b"), nil
	}, []string{}) // b is registered but not allowed
	g.SetFinishPoint("b")

	runner, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := runner.Invoke(context.Background(), travState{}, Config{ThreadID: "t1"}); err == nil {
		t.Fatalf("expected runtime error for disallowed router target")
	}
}

func TestFanOutMergesAllBranches(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("plan", visit("plan"))
	g.AddFanOutNode("work", func(ctx context.Context, payload interface{}) (travState, error) {
		return travState{Visited: []string{payload.(string)}, Counter: 1}, nil
	})
	g.AddNode("join", visit("join"))
	g.SetEntryPoint("plan")
	g.AddConditionalEdges("plan", func(ctx context.Context, s travState) (Route, error) {
		return Fan(
			Send{Node: "work", Payload: "w1"},
			Send{Node: "work", Payload: "w2"},
			Send{Node: "work", Payload: "w3"},
		), nil
	}, []string{"work"})
	g.AddEdge("work", "join")
	g.SetFinishPoint("join")

	runner, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	runner.SetMaxParallel(2)
	out, err := runner.Invoke(context.Background(), travState{}, Config{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Counter != 3 {
		t.Fatalf("expected 3 fan-out patches merged, got %d", out.Counter)
	}
	// branch order is nondeterministic; join must come last
	if out.Visited[len(out.Visited)-1] != "join" {
		t.Fatalf("join did not run after all branches: %v", out.Visited)
	}
	branches := append([]string(nil), out.Visited[1:4]...)
	sort.Strings(branches)
	if strings.Join(branches, ",") != "w1,w2,w3" {
		t.Fatalf("missing fan-out branches: %v", out.Visited)
	}
}

func TestFanOutBranchError(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("plan", visit("plan"))
	g.AddFanOutNode("work", func(ctx context.Context, payload interface{}) (travState, error) {
		if payload.(string) == "bad" {
			return travState{}, fmt.Errorf("boom")
		}
		return travState{Counter: 1}, nil
	})
	g.AddNode("join", visit("join"))
	g.SetEntryPoint("plan")
	g.AddConditionalEdges("plan", func(ctx context.Context, s travState) (Route, error) {
		return Fan(Send{Node: "work", Payload: "ok"}, Send{Node: "work", Payload: "bad"}), nil
	}, []string{"work"})
	g.AddEdge("work", "join")
	g.SetFinishPoint("join")

	runner, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := runner.Invoke(context.Background(), travState{}, Config{ThreadID: "t1"}); err == nil {
		t.Fatalf("expected fan-out branch error to surface")
	}
}

func TestInterruptAndResume(t *testing.T) {
	var approved interface{}
	g := NewStateGraph[travState]()
	g.AddNode("draft", visit("draft"))
	g.AddNode("review", func(ctx context.Context, s travState) (travState, error) {
		v, err := Interrupt(ctx, map[string]interface{}{"plan": s.Visited})
		if err != nil {
			return travState{}, err
		}
		approved = v
		return travState{Visited: []string{"review"}}, nil
	})
	g.AddNode("publish", visit("publish"))
	g.SetEntryPoint("draft")
	g.AddEdge("draft", "review")
	g.AddEdge("review", "publish")
	g.SetFinishPoint("publish")

	runner, err := g.Compile(NewMemoryCheckpointer())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{ThreadID: "t1"}
	_, err = runner.Invoke(context.Background(), travState{}, cfg)
	var intr ErrInterrupted
	if !errors.As(err, &intr) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if intr.Node != "review" {
		t.Fatalf("interrupt node = %q", intr.Node)
	}

	snap, ok, err := runner.GetState(context.Background(), "t1")
	if err != nil || !ok {
		t.Fatalf("get state: ok=%v err=%v", ok, err)
	}
	if !snap.Interrupted || snap.Next != "review" {
		t.Fatalf("snapshot = %+v", snap)
	}

	out, err := runner.Resume(context.Background(), Command{Resume: "lgtm"}, cfg)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if approved != "lgtm" {
		t.Fatalf("interrupt did not yield resume value: %v", approved)
	}
	if got := strings.Join(out.Visited, ","); got != "draft,review,publish" {
		t.Fatalf("unexpected traversal after resume: %s", got)
	}
}

func TestResumeRequiresInterrupt(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.SetEntryPoint("a")
	g.SetFinishPoint("a")

	runner, err := g.Compile(NewMemoryCheckpointer())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{ThreadID: "t1"}
	if _, err := runner.Resume(context.Background(), Command{Resume: "x"}, cfg); err == nil {
		t.Fatalf("expected error resuming unknown thread")
	}
	if _, err := runner.Invoke(context.Background(), travState{}, cfg); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := runner.Resume(context.Background(), Command{Resume: "x"}, cfg); err == nil {
		t.Fatalf("expected error resuming completed thread")
	}
}

func TestResumeGotoWithUpdate(t *testing.T) {
	g := NewStateGraph[travState]()
	g.AddNode("a", visit("a"))
	g.AddNode("b", visit("b"))
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.SetFinishPoint("b")

	runner, err := g.Compile(NewMemoryCheckpointer())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{ThreadID: "t1"}
	if _, err := runner.Invoke(context.Background(), travState{}, cfg); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	out, err := runner.Resume(context.Background(), Command{Goto: "b", Update: travState{Counter: 7}}, cfg)
	if err != nil {
		t.Fatalf("resume goto: %v", err)
	}
	if out.Counter != 7 {
		t.Fatalf("update patch not merged, counter=%d", out.Counter)
	}
	if out.Visited[len(out.Visited)-1] != "b" {
		t.Fatalf("goto did not re-run b: %v", out.Visited)
	}
}

func TestEmitterReceivesLifecycleEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	emit := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	g := NewStateGraph[travState]()
	g.AddNode("a", func(ctx context.Context, s travState) (travState, error) {
		Emit(ctx, EventToolStart, map[string]interface{}{"tool_name": "clock"})
		return travState{Visited: []string{"a"}}, nil
	})
	g.SetEntryPoint("a")
	g.SetFinishPoint("a")

	runner, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := runner.Invoke(context.Background(), travState{}, Config{ThreadID: "t1", Emitter: emit}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = string(ev.Kind)
		if ev.Node != "a" {
			t.Fatalf("event %s missing node attribution: %+v", ev.Kind, ev)
		}
	}
	if strings.Join(kinds, ",") != "on_chain_start,on_tool_start,on_chain_end" {
		t.Fatalf("unexpected event order: %v", kinds)
	}
}

func TestCheckpointSurvivesRunnerRestart(t *testing.T) {
	cp := NewMemoryCheckpointer()
	build := func() *Runner[travState] {
		g := NewStateGraph[travState]()
		g.AddNode("a", visit("a"))
		g.AddNode("gate", func(ctx context.Context, s travState) (travState, error) {
			if _, err := Interrupt(ctx, "hold"); err != nil {
				return travState{}, err
			}
			return travState{Visited: []string{"gate"}}, nil
		})
		g.SetEntryPoint("a")
		g.AddEdge("a", "gate")
		g.SetFinishPoint("gate")
		runner, err := g.Compile(cp)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		return runner
	}

	cfg := Config{ThreadID: "t1"}
	_, err := build().Invoke(context.Background(), travState{}, cfg)
	var intr ErrInterrupted
	if !errors.As(err, &intr) {
		t.Fatalf("expected interrupt, got %v", err)
	}

	// a fresh runner over the same checkpointer picks the thread back up
	out, err := build().Resume(context.Background(), Command{Resume: "go"}, cfg)
	if err != nil {
		t.Fatalf("resume on fresh runner: %v", err)
	}
	if got := strings.Join(out.Visited, ","); got != "a,gate" {
		t.Fatalf("unexpected state after restart resume: %s", got)
	}
}
