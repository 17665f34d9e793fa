package graph

import (
	"context"
	"fmt"
)

// ErrInterrupted is returned from Runner.Invoke when a node suspended the run.
// The caller resumes the thread with Runner.Resume.
type ErrInterrupted struct {
	Node    string
	Payload interface{}
}

func (e ErrInterrupted) Error() string {
	return fmt.Sprintf("graph interrupted at node %q", e.Node)
}

// Command carries the continuation for a suspended thread: either a resume
// value handed to the pending Interrupt call, or an explicit goto with an
// optional state patch.
type Command struct {
	Resume interface{}
	Goto   string
	Update interface{}
}

type resumeKey struct{}

type resumeBox struct {
	value    interface{}
	consumed bool
}

func withResume(ctx context.Context, value interface{}) context.Context {
	return context.WithValue(ctx, resumeKey{}, &resumeBox{value: value})
}

// Interrupt suspends the enclosing graph run, surfacing payload to the
// caller. On resume the interrupted node re-executes from its start and this
// call returns the value supplied via Command.Resume.
func Interrupt(ctx context.Context, payload interface{}) (interface{}, error) {
	if box, ok := ctx.Value(resumeKey{}).(*resumeBox); ok && !box.consumed {
		box.consumed = true
		return box.value, nil
	}
	Emit(ctx, EventInterrupt, map[string]interface{}{"payload": payload})
	return nil, ErrInterrupted{Node: CurrentNode(ctx), Payload: payload}
}
