package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultMaxParallel = 5

// Config identifies a thread and optionally wires an event emitter.
type Config struct {
	ThreadID string
	Emitter  Emitter
}

// Snapshot is the inspectable state of a thread.
type Snapshot[S State[S]] struct {
	State            S
	Next             string
	Interrupted      bool
	InterruptPayload json.RawMessage
	UpdatedAt        time.Time
}

// Runner executes a compiled state graph. Within a thread node activations
// are serialized; fan-out activations run concurrently bounded by
// maxParallel and merge patches in completion order.
type Runner[S State[S]] struct {
	graph        *StateGraph[S]
	checkpointer Checkpointer
	maxParallel  int
}

// SetMaxParallel bounds concurrent fan-out activations.
func (r *Runner[S]) SetMaxParallel(n int) {
	if n > 0 {
		r.maxParallel = n
	}
}

// Invoke runs the graph from its entry point to End.
func (r *Runner[S]) Invoke(ctx context.Context, initial S, cfg Config) (S, error) {
	return r.run(ctx, initial, r.graph.entry, cfg, nil)
}

// Resume continues a suspended thread. With Command.Resume the interrupted
// node re-executes and its Interrupt call yields the resume value. With
// Command.Goto execution restarts at the named node, after merging
// Command.Update into the checkpointed state when provided.
func (r *Runner[S]) Resume(ctx context.Context, cmd Command, cfg Config) (S, error) {
	var zero S
	cp, ok, err := r.checkpointer.Load(ctx, cfg.ThreadID)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("graph: no checkpoint for thread %q", cfg.ThreadID)
	}
	state, err := decodeState[S](cp.State)
	if err != nil {
		return zero, err
	}
	start := cp.Next
	if cmd.Goto != "" {
		start = cmd.Goto
		if cmd.Update != nil {
			patch, ok := cmd.Update.(S)
			if !ok {
				return zero, fmt.Errorf("graph: resume update has wrong state type")
			}
			state = state.Merge(patch)
		}
		return r.run(ctx, state, start, cfg, nil)
	}
	if !cp.Interrupted {
		return zero, fmt.Errorf("graph: thread %q is not interrupted", cfg.ThreadID)
	}
	return r.run(ctx, state, start, cfg, &cmd)
}

// GetState returns the latest checkpointed snapshot for a thread.
func (r *Runner[S]) GetState(ctx context.Context, threadID string) (Snapshot[S], bool, error) {
	cp, ok, err := r.checkpointer.Load(ctx, threadID)
	if err != nil || !ok {
		return Snapshot[S]{}, ok, err
	}
	state, err := decodeState[S](cp.State)
	if err != nil {
		return Snapshot[S]{}, true, err
	}
	return Snapshot[S]{
		State:            state,
		Next:             cp.Next,
		Interrupted:      cp.Interrupted,
		InterruptPayload: cp.InterruptPayload,
		UpdatedAt:        cp.UpdatedAt,
	}, true, nil
}

func (r *Runner[S]) run(ctx context.Context, state S, start string, cfg Config, resume *Command) (S, error) {
	if cfg.Emitter != nil {
		ctx = WithEmitter(ctx, cfg.Emitter)
	}
	cur := start
	for cur != End {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		fn, ok := r.graph.nodes[cur]
		if !ok {
			return state, fmt.Errorf("graph: node %q not registered", cur)
		}
		nctx := withNode(ctx, cur)
		if resume != nil {
			nctx = withResume(nctx, resume.Resume)
			resume = nil
		}
		Emit(nctx, EventChainStart, map[string]interface{}{"inputs": state})
		patch, err := fn(nctx, state)
		if err != nil {
			var intr ErrInterrupted
			if errors.As(err, &intr) {
				if cerr := r.saveCheckpoint(ctx, cfg.ThreadID, state, cur, &intr); cerr != nil {
					return state, cerr
				}
				return state, intr
			}
			// checkpoint retains the last completed state
			return state, err
		}
		state = state.Merge(patch)
		Emit(nctx, EventChainEnd, map[string]interface{}{"outputs": patch})

		next, sends, err := r.route(nctx, cur, state)
		if err != nil {
			return state, err
		}
		if len(sends) > 0 {
			state, next, err = r.runFanOut(ctx, state, sends, cfg)
			if err != nil {
				return state, err
			}
		}
		if cerr := r.saveCheckpoint(ctx, cfg.ThreadID, state, next, nil); cerr != nil {
			return state, cerr
		}
		cur = next
	}
	return state, nil
}

func (r *Runner[S]) route(ctx context.Context, cur string, state S) (string, []Send, error) {
	if ce, ok := r.graph.conditional[cur]; ok {
		route, err := ce.router(ctx, state)
		if err != nil {
			return "", nil, err
		}
		if len(route.Sends) > 0 {
			for _, s := range route.Sends {
				if !ce.allowed[s.Node] {
					return "", nil, fmt.Errorf("graph: router of %q produced disallowed target %q", cur, s.Node)
				}
			}
			return "", route.Sends, nil
		}
		if !ce.allowed[route.Target] {
			return "", nil, fmt.Errorf("graph: router of %q produced disallowed target %q", cur, route.Target)
		}
		return route.Target, nil, nil
	}
	if to, ok := r.graph.edges[cur]; ok {
		return to, nil, nil
	}
	return "", nil, fmt.Errorf("graph: node %q has no outgoing edge", cur)
}

// runFanOut executes the fan-out activations concurrently and returns the
// merged state plus the join node. All sends must share one join edge; the
// join runs only after every sibling completes.
func (r *Runner[S]) runFanOut(ctx context.Context, state S, sends []Send, cfg Config) (S, string, error) {
	join := ""
	for _, s := range sends {
		if _, ok := r.graph.fanNodes[s.Node]; !ok {
			return state, "", fmt.Errorf("graph: fan-out node %q not registered", s.Node)
		}
		j, ok := r.graph.edges[s.Node]
		if !ok {
			return state, "", fmt.Errorf("graph: fan-out node %q has no join edge", s.Node)
		}
		if join == "" {
			join = j
		} else if join != j {
			return state, "", fmt.Errorf("graph: fan-out targets disagree on join node (%q vs %q)", join, j)
		}
	}

	var (
		mu     sync.Mutex
		merged = state
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, r.maxParallel)
	errCh := make(chan error, len(sends))

	for _, send := range sends {
		wg.Add(1)
		go func(sd Send) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			fn := r.graph.fanNodes[sd.Node]
			nctx := withNode(ctx, sd.Node)
			Emit(nctx, EventChainStart, map[string]interface{}{"inputs": sd.Payload})
			patch, err := fn(nctx, sd.Payload)
			if err != nil {
				errCh <- fmt.Errorf("fan-out %s failed: %w", sd.Node, err)
				return
			}
			mu.Lock()
			merged = merged.Merge(patch)
			mu.Unlock()
			Emit(nctx, EventChainEnd, map[string]interface{}{"outputs": patch})
		}(send)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return merged, "", err
		}
	}
	return merged, join, nil
}

func (r *Runner[S]) saveCheckpoint(ctx context.Context, threadID string, state S, next string, intr *ErrInterrupted) error {
	if threadID == "" {
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("graph: marshal state: %w", err)
	}
	cp := Checkpoint{
		ThreadID:  threadID,
		State:     raw,
		Next:      next,
		UpdatedAt: time.Now(),
	}
	if intr != nil {
		cp.Interrupted = true
		cp.Next = intr.Node
		if b, err := json.Marshal(intr.Payload); err == nil {
			cp.InterruptPayload = b
		}
	}
	return r.checkpointer.Save(ctx, cp)
}

func decodeState[S State[S]](raw json.RawMessage) (S, error) {
	var s S
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("graph: decode state: %w", err)
	}
	return s, nil
}
