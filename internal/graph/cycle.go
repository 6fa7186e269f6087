package graph

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// CycleError reports a dependency cycle. From depends (transitively) on To,
// and To leads back to From along Chain.
type CycleError struct {
	From  string
	To    string
	Chain []string // From -> ... -> From
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected between %s and %s: %s", e.From, e.To, strings.Join(e.Chain, " -> "))
}

// InvariantError reports a malformed graph discovered during a walk.
// It is never recoverable.
type InvariantError struct {
	Message string
	Pending []string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("graph invariant violated: %s (pending: %s)", e.Message, strings.Join(e.Pending, ", "))
}

// IsCycleError returns true if err wraps a *CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// CheckCycles runs an explicit DFS from every edge and returns a *CycleError
// for the first cycle found. Nodes are explored in ascending order so the
// reported cycle is deterministic.
func CheckCycles[K cmp.Ordered](g *DAG[K]) error {
	return CheckCyclesNamed(g, keyString[K])
}

// CheckCyclesNamed is CheckCycles with a custom node formatter for errors.
func CheckCyclesNamed[K cmp.Ordered](g *DAG[K], name func(K) string) error {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[K]int)
	var path []K

	var visit func(k K) error
	visit = func(k K) error {
		state[k] = onPath
		path = append(path, k)
		deps := slices.Clone(g.DepEdges[k])
		slices.Sort(deps)
		for _, dep := range deps {
			switch state[dep] {
			case onPath:
				start := slices.Index(path, dep)
				chain := make([]string, 0, len(path)-start+1)
				for _, n := range path[start:] {
					chain = append(chain, name(n))
				}
				chain = append(chain, name(dep))
				return &CycleError{From: name(k), To: name(dep), Chain: chain}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[k] = done
		return nil
	}

	froms := make([]K, 0, len(g.DepEdges))
	for k := range g.DepEdges {
		froms = append(froms, k)
	}
	slices.Sort(froms)
	for _, k := range froms {
		if state[k] == unvisited {
			if err := visit(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func keyString[K cmp.Ordered](k K) string {
	return fmt.Sprint(k)
}
