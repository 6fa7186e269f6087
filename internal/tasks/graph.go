// Package tasks builds the task dependency graph and executes tasks, each
// in its own materialized environment.
package tasks

import (
	"maps"
	"slices"

	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
)

// Graph is the task dependency DAG. Keys are task keys; an edge from a to b
// means a depends on b.
type Graph struct {
	*graph.DAG[string]
	Tasks map[string]ir.TaskConfig
}

// NewGraph builds and validates the graph of tasks. Every missing dependency
// is reported at once.
func NewGraph(tasks map[string]ir.TaskConfig) (*Graph, error) {
	g := &Graph{DAG: graph.New[string](), Tasks: tasks}
	var missing []MissingTask
	for _, key := range slices.Sorted(maps.Keys(tasks)) {
		g.AddNode(key)
		for _, dep := range tasks[key].DependsOn {
			if _, ok := tasks[dep]; !ok {
				missing = append(missing, MissingTask{Key: dep, By: "task " + key})
				continue
			}
			g.AddEdge(key, dep)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingTasksError{Missing: missing}
	}
	if err := graph.CheckCycles(g.DAG); err != nil {
		return nil, err
	}
	return g, nil
}
