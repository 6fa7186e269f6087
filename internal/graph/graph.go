// Package graph is the dependency-graph engine shared by installs, env
// inheritance and tasks.
//
// A DAG is stored in the indie/depEdges/revDepEdges shape: Indie lists the
// nodes without dependencies, DepEdges maps a node to what it depends on and
// RevDepEdges maps a node to its dependents. Walk executes a DAG
// topologically in a single goroutine; siblings are never run concurrently.
package graph

import (
	"cmp"
	"context"
	"slices"
)

// DAG is a dependency graph keyed by K.
type DAG[K cmp.Ordered] struct {
	Indie       []K       `json:"indie"`
	DepEdges    map[K][]K `json:"dep_edges"`
	RevDepEdges map[K][]K `json:"rev_dep_edges"`

	nodes map[K]struct{}
}

// New returns an empty DAG.
func New[K cmp.Ordered]() *DAG[K] {
	return &DAG[K]{
		DepEdges:    make(map[K][]K),
		RevDepEdges: make(map[K][]K),
		nodes:       make(map[K]struct{}),
	}
}

// AddNode registers k. Nodes start out independent.
func (g *DAG[K]) AddNode(k K) {
	if g.nodes == nil {
		g.nodes = make(map[K]struct{})
	}
	if _, ok := g.nodes[k]; ok {
		return
	}
	g.nodes[k] = struct{}{}
	g.Indie = insertSorted(g.Indie, k)
}

// AddEdge records that from depends on to. Duplicate edges are ignored.
func (g *DAG[K]) AddEdge(from, to K) {
	g.AddNode(from)
	g.AddNode(to)
	if slices.Contains(g.DepEdges[from], to) {
		return
	}
	g.DepEdges[from] = append(g.DepEdges[from], to)
	g.RevDepEdges[to] = append(g.RevDepEdges[to], from)
	if i, ok := slices.BinarySearch(g.Indie, from); ok {
		g.Indie = slices.Delete(g.Indie, i, i+1)
	}
}

// Has reports whether k is a node of g.
func (g *DAG[K]) Has(k K) bool {
	_, ok := g.nodes[k]
	return ok
}

// Nodes returns every node in ascending order.
func (g *DAG[K]) Nodes() []K {
	out := make([]K, 0, len(g.nodes))
	for k := range g.nodes {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Subgraph returns the DAG induced by roots and everything they
// transitively depend on.
func (g *DAG[K]) Subgraph(roots ...K) *DAG[K] {
	sub := New[K]()
	seen := make(map[K]bool)
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] {
			continue
		}
		seen[k] = true
		sub.AddNode(k)
		for _, dep := range g.DepEdges[k] {
			sub.AddEdge(k, dep)
			stack = append(stack, dep)
		}
	}
	return sub
}

// Walk visits every node of g after all of its dependencies, starting from
// Indie. A dependent becomes eligible only once every dependency has
// completed. The first visit error stops the walk.
//
// If the work stack empties while some node still has pending dependencies
// the graph was malformed, and Walk returns an *InvariantError.
func Walk[K cmp.Ordered](ctx context.Context, g *DAG[K], visit func(ctx context.Context, k K) error) error {
	pending := make(map[K]int, len(g.DepEdges))
	for k, deps := range g.DepEdges {
		if len(deps) > 0 {
			pending[k] = len(deps)
		}
	}

	// stack is popped from the back; seed in reverse so Indie runs in order
	stack := slices.Clone(g.Indie)
	slices.Reverse(stack)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := visit(ctx, k); err != nil {
			return err
		}

		var ready []K
		for _, dependent := range g.RevDepEdges[k] {
			n, ok := pending[dependent]
			if !ok {
				return &InvariantError{Message: "dependent has no pending counter", Pending: []string{keyString(dependent)}}
			}
			n--
			if n == 0 {
				delete(pending, dependent)
				ready = append(ready, dependent)
			} else {
				pending[dependent] = n
			}
		}
		slices.Sort(ready)
		slices.Reverse(ready)
		stack = append(stack, ready...)
	}

	if len(pending) > 0 {
		left := make([]string, 0, len(pending))
		for k := range pending {
			left = append(left, keyString(k))
		}
		slices.Sort(left)
		return &InvariantError{Message: "work stack drained with pending dependencies", Pending: left}
	}
	return nil
}

func insertSorted[K cmp.Ordered](s []K, k K) []K {
	i, found := slices.BinarySearch(s, k)
	if found {
		return s
	}
	return slices.Insert(s, i, k)
}
