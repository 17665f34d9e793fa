package graph

import (
	"context"
	"fmt"
)

// End is the terminal sentinel for edges and routers.
const End = "__end__"

// State is implemented by graph state records. Merge applies a partial patch
// returned by a node: zero-valued fields leave the receiver untouched, fields
// with accumulator semantics append, everything else overwrites.
type State[S any] interface {
	Merge(patch S) S
}

// NodeFunc receives the current state and returns a partial state patch.
type NodeFunc[S State[S]] func(ctx context.Context, state S) (S, error)

// FanNodeFunc receives a fan-out payload instead of the whole state and
// returns a patch merged into the parent state in completion order.
type FanNodeFunc[S State[S]] func(ctx context.Context, payload interface{}) (S, error)

// Send is a fan-out descriptor: run Node with the given payload.
type Send struct {
	Node    string
	Payload interface{}
}

// Route is the result of a conditional router: either a single target
// (possibly End) or a set of fan-out descriptors executed concurrently.
type Route struct {
	Target string
	Sends  []Send
}

// Goto routes to a single node.
func Goto(target string) Route { return Route{Target: target} }

// Fan routes to a set of parallel fan-out activations.
func Fan(sends ...Send) Route { return Route{Sends: sends} }

// RouterFunc decides where execution goes after a node completes.
type RouterFunc[S State[S]] func(ctx context.Context, state S) (Route, error)

// StateGraph declares nodes and edges over a typed state record.
type StateGraph[S State[S]] struct {
	nodes       map[string]NodeFunc[S]
	fanNodes    map[string]FanNodeFunc[S]
	edges       map[string]string
	conditional map[string]conditionalEdge[S]
	entry       string
	finish      string
}

type conditionalEdge[S State[S]] struct {
	router  RouterFunc[S]
	allowed map[string]bool
}

// NewStateGraph creates an empty graph.
func NewStateGraph[S State[S]]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes:       make(map[string]NodeFunc[S]),
		fanNodes:    make(map[string]FanNodeFunc[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
	}
}

// AddNode registers a named node.
func (g *StateGraph[S]) AddNode(name string, fn NodeFunc[S]) *StateGraph[S] {
	g.nodes[name] = fn
	return g
}

// AddFanOutNode registers a node reachable only through fan-out Sends.
func (g *StateGraph[S]) AddFanOutNode(name string, fn FanNodeFunc[S]) *StateGraph[S] {
	g.fanNodes[name] = fn
	return g
}

// AddEdge declares an unconditional edge. For a fan-out node the edge names
// the join node executed once all sibling activations complete.
func (g *StateGraph[S]) AddEdge(from, to string) *StateGraph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdges attaches a router to a node. The router's result must
// name one of the allowed targets (or End).
func (g *StateGraph[S]) AddConditionalEdges(from string, router RouterFunc[S], allowed []string) *StateGraph[S] {
	m := make(map[string]bool, len(allowed)+1)
	for _, a := range allowed {
		m[a] = true
	}
	m[End] = true
	g.conditional[from] = conditionalEdge[S]{router: router, allowed: m}
	return g
}

// SetEntryPoint names the first node.
func (g *StateGraph[S]) SetEntryPoint(name string) *StateGraph[S] {
	g.entry = name
	return g
}

// SetFinishPoint wires a node straight to End.
func (g *StateGraph[S]) SetFinishPoint(name string) *StateGraph[S] {
	g.edges[name] = End
	g.finish = name
	return g
}

// Compile validates the graph and returns a Runner.
func (g *StateGraph[S]) Compile(cp Checkpointer) (*Runner[S], error) {
	if g.entry == "" {
		return nil, fmt.Errorf("graph: entry point not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not registered", g.entry)
	}
	for from, to := range g.edges {
		if to == End {
			continue
		}
		if !g.hasNode(to) {
			return nil, fmt.Errorf("graph: edge %s -> %s targets unknown node", from, to)
		}
	}
	for from, ce := range g.conditional {
		if !g.hasNode(from) && len(g.fanNodes) == 0 {
			return nil, fmt.Errorf("graph: conditional edge from unknown node %q", from)
		}
		for target := range ce.allowed {
			if target != End && !g.hasNode(target) {
				return nil, fmt.Errorf("graph: conditional edge from %s allows unknown node %q", from, target)
			}
		}
	}
	if cp == nil {
		cp = NewMemoryCheckpointer()
	}
	return &Runner[S]{graph: g, checkpointer: cp, maxParallel: defaultMaxParallel}, nil
}

func (g *StateGraph[S]) hasNode(name string) bool {
	if _, ok := g.nodes[name]; ok {
		return true
	}
	_, ok := g.fanNodes[name]
	return ok
}
