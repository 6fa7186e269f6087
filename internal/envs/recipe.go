package envs

import (
	"maps"
	"slices"

	"github.com/metatypedev/ghjk/internal/ir"
)

// DefaultDynField is the result field a dynamic var captures by default.
const DefaultDynField = "stdout"

// Recipe finalizes c into provisions. When c has installs, the install set
// is returned too, and the recipe references it by id.
//
// Provision order: static vars by key, dynamic vars by key, the install
// set reference, then enter and exit hooks in declaration order.
func (c Composed) Recipe() (ir.EnvRecipe, *ir.InstallSet, error) {
	recipe := ir.EnvRecipe{Desc: c.Desc, Provides: []ir.Provision{}}
	for _, k := range slices.Sorted(maps.Keys(c.Vars)) {
		recipe.Provides = append(recipe.Provides, ir.EnvVar(k, c.Vars[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(c.DynVars)) {
		dv := c.DynVars[k]
		field := dv.Field
		if field == "" {
			field = DefaultDynField
		}
		recipe.Provides = append(recipe.Provides, ir.Provision{Kind: ir.KindEnvVarDyn, Key: k, TaskKey: dv.TaskKey, Field: field})
	}

	var set *ir.InstallSet
	if len(c.Installs) > 0 {
		set = &ir.InstallSet{Installs: c.Installs, AllowedBuildDeps: c.AllowedBuildDeps}
		id, err := ir.InstallSetID(*set)
		if err != nil {
			return recipe, nil, err
		}
		recipe.Provides = append(recipe.Provides, ir.Provision{Kind: ir.KindInstallSetRef, SetID: id})
	}

	for _, key := range c.OnEnter {
		recipe.Provides = append(recipe.Provides, ir.Provision{Kind: ir.KindTaskOnEnter, TaskKey: key})
	}
	for _, key := range c.OnExit {
		recipe.Provides = append(recipe.Provides, ir.Provision{Kind: ir.KindTaskOnExit, TaskKey: key})
	}
	return recipe, set, nil
}
