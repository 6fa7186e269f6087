package envs

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/metatypedev/ghjk/internal/ir"
)

// maxReducePasses bounds reducers that emit further exotic provisions.
const maxReducePasses = 4

// Reducer converts every provision of one exotic kind into well-known
// provisions. It receives all provisions of its kind at once, in recipe
// order.
type Reducer func(ctx context.Context, provs []ir.Provision) ([]ir.Provision, error)

// Reducers maps exotic kinds to their reducer. Build it once at startup.
type Reducers map[ir.ProvisionKind]Reducer

// UnknownProvisionError reports an exotic provision with no reducer.
type UnknownProvisionError struct {
	Kind ir.ProvisionKind
}

func (e *UnknownProvisionError) Error() string {
	return fmt.Sprintf("no reducer registered for provision kind %q", e.Kind)
}

// IsUnknownProvision returns true if err wraps an *UnknownProvisionError.
func IsUnknownProvision(err error) bool {
	var ue *UnknownProvisionError
	return errors.As(err, &ue)
}

// Register adds a reducer. Well-known kinds cannot be reduced.
func (r Reducers) Register(kind ir.ProvisionKind, fn Reducer) error {
	if kind.WellKnown() {
		return fmt.Errorf("provision kind %q is well-known and needs no reducer", kind)
	}
	if _, dup := r[kind]; dup {
		return fmt.Errorf("reducer for %q registered twice", kind)
	}
	r[kind] = fn
	return nil
}

// Reduce replaces exotic provisions with their reductions until only
// well-known provisions remain. A kind's reductions are placed where its
// first provision was.
func (r Reducers) Reduce(ctx context.Context, provs []ir.Provision) ([]ir.Provision, error) {
	for pass := 0; ; pass++ {
		exotic := false
		for _, p := range provs {
			if !p.Kind.WellKnown() {
				exotic = true
				break
			}
		}
		if !exotic {
			return provs, nil
		}
		if pass == maxReducePasses {
			return nil, fmt.Errorf("provisions still exotic after %d reduction passes", maxReducePasses)
		}

		groups := make(map[ir.ProvisionKind][]ir.Provision)
		for _, p := range provs {
			if !p.Kind.WellKnown() {
				groups[p.Kind] = append(groups[p.Kind], p)
			}
		}

		out := make([]ir.Provision, 0, len(provs))
		emitted := make(map[ir.ProvisionKind]bool)
		for _, p := range provs {
			if p.Kind.WellKnown() {
				out = append(out, p)
				continue
			}
			if emitted[p.Kind] {
				continue
			}
			emitted[p.Kind] = true
			fn, ok := r[p.Kind]
			if !ok {
				return nil, &UnknownProvisionError{Kind: p.Kind}
			}
			reduced, err := fn(ctx, groups[p.Kind])
			if err != nil {
				return nil, fmt.Errorf("reduce %s: %w", p.Kind, err)
			}
			out = append(out, reduced...)
		}
		provs = out
	}
}

// Without returns provs minus the given kinds.
func Without(provs []ir.Provision, kinds ...ir.ProvisionKind) []ir.Provision {
	out := make([]ir.Provision, 0, len(provs))
	for _, p := range provs {
		if !slices.Contains(kinds, p.Kind) {
			out = append(out, p)
		}
	}
	return out
}

// TaskHookReducer turns ghjk.tasks.onEnter/onExit provisions into posix
// hooks running `<exe> <flags...> x <task>`. flags pin the hook to the
// project the env was cooked from, whatever directory the shell is in.
func TaskHookReducer(exe string, flags ...string) Reducer {
	return func(_ context.Context, provs []ir.Provision) ([]ir.Provision, error) {
		out := make([]ir.Provision, 0, len(provs))
		for _, p := range provs {
			var kind ir.ProvisionKind
			switch p.Kind {
			case ir.KindTaskOnEnter:
				kind = ir.KindHookOnEnter
			case ir.KindTaskOnExit:
				kind = ir.KindHookOnExit
			default:
				return nil, fmt.Errorf("task hook reducer got %q", p.Kind)
			}
			args := append(slices.Clone(flags), "x", p.TaskKey)
			out = append(out, ir.Provision{Kind: kind, Program: exe, Args: args})
		}
		return out, nil
	}
}
