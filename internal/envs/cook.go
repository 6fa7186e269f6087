package envs

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/shim"
)

// Hook is a command run on env activation or deactivation.
type Hook struct {
	Program string
	Args    []string
}

// PathVar is a PATH-like variable prefixed with a shim directory.
type PathVar struct {
	Key string
	Dir string
}

// Cooked is a materialized environment.
type Cooked struct {
	Dir      string
	Shims    *shim.Dir
	Vars     map[string]string
	PathVars []PathVar
	OnEnter  []Hook
	OnExit   []Hook
}

// CookOptions tunes materialization.
type CookOptions struct {
	EnvName string // exported as GHJK_ENV when set
	GOOS    string // selects LD_ vs DYLD_LIBRARY_PATH; defaults to runtime.GOOS
}

// Cook materializes well-known provisions into dir: shims/{bin,lib,include}
// symlinks plus activate.sh and activate.fish. Any previous shims in dir
// are replaced.
func Cook(dir string, provs []ir.Provision, opts CookOptions) (*Cooked, error) {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	shimRoot := filepath.Join(dir, "shims")
	if err := os.RemoveAll(shimRoot); err != nil {
		return nil, fmt.Errorf("clear shims: %w", err)
	}
	shims, err := shim.Create(shimRoot)
	if err != nil {
		return nil, err
	}

	c := &Cooked{Dir: dir, Shims: shims, Vars: make(map[string]string)}
	var bins, libs, includes []string
	for _, p := range provs {
		switch p.Kind {
		case ir.KindEnvVar:
			c.Vars[p.Key] = p.Val
		case ir.KindExec:
			bins = append(bins, p.Path)
		case ir.KindSharedLib:
			libs = append(libs, p.Path)
		case ir.KindHeaderFile:
			includes = append(includes, p.Path)
		case ir.KindHookOnEnter:
			c.OnEnter = append(c.OnEnter, Hook{Program: p.Program, Args: p.Args})
		case ir.KindHookOnExit:
			c.OnExit = append(c.OnExit, Hook{Program: p.Program, Args: p.Args})
		default:
			return nil, &UnknownProvisionError{Kind: p.Kind}
		}
	}
	if opts.EnvName != "" {
		c.Vars["GHJK_ENV"] = opts.EnvName
	}

	if _, err := shims.Link(shims.Bin, bins); err != nil {
		return nil, err
	}
	if _, err := shims.Link(shims.Lib, libs); err != nil {
		return nil, err
	}
	if _, err := shims.Link(shims.Include, includes); err != nil {
		return nil, err
	}

	c.PathVars = PathVars(shims, opts.GOOS)
	if err := checkVarNames(c); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, "activate.sh"), []byte(PosixScript(c)), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "activate.fish"), []byte(FishScript(c)), 0o644); err != nil {
		return nil, err
	}
	return c, nil
}

// PathVars lists the PATH-like variables prefixed with shim dirs.
func PathVars(d *shim.Dir, goos string) []PathVar {
	ldVar := "LD_LIBRARY_PATH"
	if goos == "darwin" {
		ldVar = "DYLD_LIBRARY_PATH"
	}
	return []PathVar{
		{Key: "PATH", Dir: d.Bin},
		{Key: "LIBRARY_PATH", Dir: d.Lib},
		{Key: ldVar, Dir: d.Lib},
		{Key: "C_INCLUDE_PATH", Dir: d.Include},
		{Key: "CPLUS_INCLUDE_PATH", Dir: d.Include},
	}
}

// Environ applies the cooked vars and path prefixes on top of base, a
// KEY=VALUE list, for running subprocesses inside the env.
func (c *Cooked) Environ(base []string) []string {
	env := make(map[string]string, len(base))
	var order []string
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}
	set := func(k, v string) {
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}
	for _, k := range slices.Sorted(maps.Keys(c.Vars)) {
		set(k, c.Vars[k])
	}
	for _, pv := range c.PathVars {
		if prev := env[pv.Key]; prev != "" {
			set(pv.Key, pv.Dir+string(os.PathListSeparator)+prev)
		} else {
			set(pv.Key, pv.Dir)
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+env[k])
	}
	return out
}
