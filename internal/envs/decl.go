// Package envs composes environment declarations along their inheritance
// DAG into content-addressed recipes, reduces exotic provisions and
// materializes recipes as posix shim dirs and activation scripts.
package envs

import (
	"github.com/metatypedev/ghjk/internal/ir"
)

// Inherit says which environments a declaration inherits from.
type Inherit struct {
	// None makes the env standalone (inherit: false).
	None bool
	// Names lists parents in merge order. Empty, with None unset, means the
	// default env.
	Names []string
}

// DynVar is an env var whose value is a field of a task's result.
type DynVar struct {
	TaskKey string
	Field   string // defaults to "stdout"
}

// Decl is one environment declaration.
type Decl struct {
	Name             string
	Desc             string
	Inherit          Inherit
	Installs         []ir.InstallConfig
	AllowedBuildDeps map[string]ir.AllowedPortDep
	Vars             map[string]string
	DynVars          map[string]DynVar
	OnEnter          []string // task keys
	OnExit           []string
}

// Composed is a declaration after its parents were merged in.
type Composed struct {
	Name             string
	Desc             string
	Vars             map[string]string
	DynVars          map[string]DynVar
	Installs         []ir.InstallConfig // unique, ordered by config hash
	AllowedBuildDeps map[string]ir.AllowedPortDep
	OnEnter          []string
	OnExit           []string
}
