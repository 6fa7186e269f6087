package installs

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/metatypedev/ghjk/internal/ir"
)

// SetSource looks install sets up by id.
type SetSource interface {
	InstallSet(id string) (ir.InstallSet, error)
}

// InstallSetReducer returns a reducer for ghjk.ports.InstallSetRef
// provisions: each referenced set is synced and replaced by the exports of
// its user installs.
func (in *Installer) InstallSetReducer(sets SetSource) func(context.Context, []ir.Provision) ([]ir.Provision, error) {
	return func(ctx context.Context, refs []ir.Provision) ([]ir.Provision, error) {
		var out []ir.Provision
		for _, ref := range refs {
			set, err := sets.InstallSet(ref.SetID)
			if err != nil {
				return nil, err
			}
			g, arts, err := in.Sync(ctx, set)
			if err != nil {
				return nil, fmt.Errorf("install set %s: %w", short(ref.SetID), err)
			}
			provs, err := Provisions(g, arts)
			if err != nil {
				return nil, err
			}
			out = append(out, provs...)
		}
		return out, nil
	}
}

// Provisions converts the artifacts of g's user installs into well-known
// provisions.
func Provisions(g *InstallGraph, arts map[string]ir.InstallArtifacts) ([]ir.Provision, error) {
	var out []ir.Provision
	for _, id := range g.User {
		art, ok := arts[id]
		if !ok {
			return nil, fmt.Errorf("no artifacts for install %s", short(id))
		}
		exp, err := Expand(art)
		if err != nil {
			return nil, err
		}
		for _, p := range exp.Bin {
			out = append(out, ir.Provision{Kind: ir.KindExec, Path: p})
		}
		for _, p := range exp.Lib {
			out = append(out, ir.Provision{Kind: ir.KindSharedLib, Path: p})
		}
		for _, p := range exp.Include {
			out = append(out, ir.Provision{Kind: ir.KindHeaderFile, Path: p})
		}
		for _, k := range slices.Sorted(maps.Keys(art.Env)) {
			out = append(out, ir.EnvVar(k, art.Env[k]))
		}
	}
	return out, nil
}
