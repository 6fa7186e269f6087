package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEdgeMaintainsIndie(t *testing.T) {
	g := New[string]()
	g.AddNode("a")
	g.AddEdge("b", "a")
	g.AddEdge("c", "b")
	g.AddEdge("c", "b") // duplicate ignored

	assert.Equal(t, []string{"a"}, g.Indie)
	assert.Equal(t, []string{"b"}, g.DepEdges["c"])
	assert.Equal(t, []string{"c"}, g.RevDepEdges["b"])
	assert.Equal(t, []string{"a", "b", "c"}, g.Nodes())
}

func TestWalkTopologicalOrder(t *testing.T) {
	g := New[string]()
	g.AddEdge("c", "b")
	g.AddEdge("b", "a")
	g.AddEdge("d", "a")

	var order []string
	err := Walk(context.Background(), g, func(_ context.Context, k string) error {
		order = append(order, k)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int)
	for i, k := range order {
		pos[k] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
	assert.Less(t, pos["a"], pos["d"])
}

func TestWalkDiamondVisitsSharedDepOnce(t *testing.T) {
	g := New[int]()
	g.AddEdge(4, 2)
	g.AddEdge(4, 3)
	g.AddEdge(2, 1)
	g.AddEdge(3, 1)

	counts := make(map[int]int)
	var order []int
	err := Walk(context.Background(), g, func(_ context.Context, k int) error {
		counts[k]++
		order = append(order, k)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1, 4: 1}, counts)
	assert.Equal(t, 1, order[0])
	assert.Equal(t, 4, order[3])
}

func TestWalkStopsOnError(t *testing.T) {
	g := New[string]()
	g.AddEdge("b", "a")
	boom := errors.New("boom")

	var visited []string
	err := Walk(context.Background(), g, func(_ context.Context, k string) error {
		visited = append(visited, k)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, visited)
}

func TestWalkMalformedGraphIsInvariantViolation(t *testing.T) {
	// b depends on a, but a is missing from Indie and never becomes ready.
	g := &DAG[string]{
		Indie:       []string{"c"},
		DepEdges:    map[string][]string{"b": {"a"}},
		RevDepEdges: map[string][]string{"a": {"b"}},
	}
	err := Walk(context.Background(), g, func(context.Context, string) error { return nil })
	var inv *InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, []string{"b"}, inv.Pending)
}

func TestCheckCyclesNamesBothIDs(t *testing.T) {
	g := New[string]()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")

	err := CheckCycles(g)
	require.Error(t, err)
	assert.True(t, IsCycleError(err))

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "B", ce.From)
	assert.Equal(t, "A", ce.To)
	assert.Equal(t, []string{"A", "B", "A"}, ce.Chain)
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestCheckCyclesSelfLoop(t *testing.T) {
	g := New[string]()
	g.AddEdge("x", "x")

	var ce *CycleError
	require.ErrorAs(t, CheckCycles(g), &ce)
	assert.Equal(t, []string{"x", "x"}, ce.Chain)
}

func TestCheckCyclesAcceptsDAG(t *testing.T) {
	g := New[string]()
	g.AddEdge("c", "b")
	g.AddEdge("b", "a")
	g.AddEdge("c", "a")
	assert.NoError(t, CheckCycles(g))
}

func TestSubgraph(t *testing.T) {
	g := New[string]()
	g.AddEdge("c", "b")
	g.AddEdge("b", "a")
	g.AddEdge("d", "a")
	g.AddNode("e")

	sub := g.Subgraph("c")
	assert.Equal(t, []string{"a", "b", "c"}, sub.Nodes())
	assert.Equal(t, []string{"a"}, sub.Indie)
	assert.False(t, sub.Has("d"))
}
