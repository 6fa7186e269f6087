package installs

import (
	"maps"
	"slices"

	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/shim"
)

// Expanded is an install's exported globs resolved to absolute paths.
type Expanded struct {
	Bin     []string
	Lib     []string
	Include []string
}

// Expand resolves the artifact globs against the install path.
func Expand(art ir.InstallArtifacts) (Expanded, error) {
	var out Expanded
	var err error
	if out.Bin, err = shim.ExpandGlobs(art.InstallPath, art.BinPaths); err != nil {
		return out, err
	}
	if out.Lib, err = shim.ExpandGlobs(art.InstallPath, art.LibPaths); err != nil {
		return out, err
	}
	if out.Include, err = shim.ExpandGlobs(art.InstallPath, art.IncludePaths); err != nil {
		return out, err
	}
	return out, nil
}

// LinkDeps symlinks every dependency's exports into a shim dir at root and
// returns the namespace handed to port calls. deps is keyed by port name.
func LinkDeps(root string, deps map[string]ir.InstallArtifacts) (ports.DepNamespace, error) {
	ns := ports.DepNamespace{Ports: make(map[string]ports.DepArtifacts, len(deps))}
	if len(deps) == 0 {
		return ns, nil
	}
	dir, err := shim.Create(root)
	if err != nil {
		return ns, err
	}
	ns.ShimDir = dir.Root

	for _, name := range slices.Sorted(maps.Keys(deps)) {
		art := deps[name]
		exp, err := Expand(art)
		if err != nil {
			return ns, err
		}
		dep := ports.DepArtifacts{InstallPath: art.InstallPath, Env: art.Env}
		if dep.Bin, err = dir.Link(dir.Bin, exp.Bin); err != nil {
			return ns, err
		}
		if dep.Lib, err = dir.Link(dir.Lib, exp.Lib); err != nil {
			return ns, err
		}
		if dep.Include, err = dir.Link(dir.Include, exp.Include); err != nil {
			return ns, err
		}
		ns.Ports[name] = dep
	}
	return ns, nil
}
