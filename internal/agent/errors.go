package agent

import "fmt"

// ExecutionError is a fatal semantic failure: the session cannot proceed
// without corrupting the plan's invariants. It aborts the run and is
// surfaced to subscribers as an error event.
type ExecutionError struct {
	Node string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed at %s: %v", e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErrorf(node, format string, args ...interface{}) error {
	return &ExecutionError{Node: node, Err: fmt.Errorf(format, args...)}
}
