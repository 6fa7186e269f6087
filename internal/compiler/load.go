package compiler

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/ports"
)

//go:embed schema.cue
var schemaSource string

// ErrNoGhjkfile is returned by LoadDir when dir holds no CUE files.
var ErrNoGhjkfile = errors.New("no ghjkfile found")

// Ghjkfile is a loaded and validated ghjkfile.
type Ghjkfile struct {
	Builder *Builder
	Ports   []ports.Decl // declaration order
	Value   cue.Value    // the raw CUE value for additional processing
	Files   int          // number of CUE files found
}

// LoadDir loads the CUE package in dir.
func LoadDir(dir string, log *slog.Logger) (*Ghjkfile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ghjkfile directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no CUE files in %s", ErrNoGhjkfile, dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	value := ctx.BuildInstance(inst)
	gf, err := fromValue(ctx, value, log)
	if err != nil {
		return nil, err
	}
	gf.Files = len(files)
	return gf, nil
}

// LoadString loads a ghjkfile from source. filename is used in positions.
func LoadString(filename, src string, log *slog.Logger) (*Ghjkfile, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename(filename))
	gf, err := fromValue(ctx, value, log)
	if err != nil {
		return nil, err
	}
	gf.Files = 1
	return gf, nil
}

func fromValue(ctx *cue.Context, value cue.Value, log *slog.Logger) (*Ghjkfile, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("ghjkfile schema: %w", err)
	}
	value = schema.LookupPath(cue.ParsePath("#Ghjkfile")).Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	gf := &Ghjkfile{Builder: NewBuilder(log), Value: value}
	if v := value.LookupPath(cue.ParsePath("default_env")); v.Exists() {
		name, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		gf.Builder.SetDefaultEnv(name)
	}

	manifests := make(map[string]ir.PortManifest)
	err := eachField(value, "ports", func(name string, v cue.Value) error {
		var d ports.Decl
		if err := v.Decode(&d); err != nil {
			return formatCUEError(err)
		}
		d.Name = name
		gf.Ports = append(gf.Ports, d)
		manifests[name] = d.Manifest()
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := &loader{b: gf.Builder, manifests: manifests}
	if err := eachField(value, "envs", l.env); err != nil {
		return nil, err
	}
	if err := eachField(value, "tasks", l.task); err != nil {
		return nil, err
	}
	return gf, nil
}

func eachField(v cue.Value, path string, fn func(label string, v cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

type loader struct {
	b         *Builder
	manifests map[string]ir.PortManifest
}

// envFields holds what envs and tasks declare alike.
type envFields struct {
	desc     string
	inherit  envs.Inherit
	installs []InstallRef
	allowed  map[string]ir.AllowedPortDep
	vars     map[string]string
	dynVars  map[string]envs.DynVar
}

func (l *loader) env(name string, v cue.Value) error {
	f, err := l.envFields(v)
	if err != nil {
		return err
	}
	d := EnvDecl{
		Name:             name,
		Desc:             f.desc,
		Inherit:          f.inherit,
		Installs:         f.installs,
		AllowedBuildDeps: f.allowed,
		Vars:             f.vars,
		DynVars:          f.dynVars,
	}
	if d.OnEnter, err = stringList(v, "on_enter"); err != nil {
		return err
	}
	if d.OnExit, err = stringList(v, "on_exit"); err != nil {
		return err
	}
	if _, err := l.b.Env(d); err != nil {
		return &CompileError{Field: "envs." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return nil
}

func (l *loader) task(name string, v cue.Value) error {
	f, err := l.envFields(v)
	if err != nil {
		return err
	}
	d := TaskDecl{
		Name:             name,
		Desc:             f.desc,
		Inherit:          f.inherit,
		Installs:         f.installs,
		AllowedBuildDeps: f.allowed,
		Vars:             f.vars,
		DynVars:          f.dynVars,
	}
	if d.DependsOn, err = stringList(v, "depends_on"); err != nil {
		return err
	}
	if d.Cmd, err = stringList(v, "cmd"); err != nil {
		return err
	}
	if wd := v.LookupPath(cue.ParsePath("workdir")); wd.Exists() {
		if d.Workdir, err = wd.String(); err != nil {
			return formatCUEError(err)
		}
	}
	if _, err := l.b.Task(d); err != nil {
		return &CompileError{Field: "tasks." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return nil
}

func (l *loader) envFields(v cue.Value) (envFields, error) {
	var f envFields
	if d := v.LookupPath(cue.ParsePath("desc")); d.Exists() {
		s, err := d.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.desc = s
	}

	inherit, err := parseInherit(v.LookupPath(cue.ParsePath("inherit")))
	if err != nil {
		return f, err
	}
	f.inherit = inherit

	if iv := v.LookupPath(cue.ParsePath("installs")); iv.Exists() {
		iter, err := iv.List()
		if err != nil {
			return f, formatCUEError(err)
		}
		for iter.Next() {
			var cfg ir.InstallConfig
			if err := iter.Value().Decode(&cfg); err != nil {
				return f, formatCUEError(err)
			}
			ref, err := l.b.Install(cfg)
			if err != nil {
				return f, &CompileError{Field: "installs", Message: err.Error(), Pos: iter.Value().Pos()}
			}
			f.installs = append(f.installs, ref)
		}
	}

	err = eachField(v, "allowed_build_deps", func(name string, dv cue.Value) error {
		var cfg ir.InstallConfig
		if err := dv.Decode(&cfg); err != nil {
			return formatCUEError(err)
		}
		manifest, ok := l.manifests[cfg.Port]
		if !ok {
			return &CompileError{
				Field:   "allowed_build_deps." + name,
				Message: fmt.Sprintf("port %q is not declared", cfg.Port),
				Pos:     dv.Pos(),
			}
		}
		if f.allowed == nil {
			f.allowed = make(map[string]ir.AllowedPortDep)
		}
		f.allowed[name] = ir.AllowedPortDep{Manifest: manifest, DefaultConfig: cfg}
		return nil
	})
	if err != nil {
		return f, err
	}

	err = eachField(v, "vars", func(k string, vv cue.Value) error {
		s, err := vv.String()
		if err != nil {
			return formatCUEError(err)
		}
		if f.vars == nil {
			f.vars = make(map[string]string)
		}
		f.vars[k] = s
		return nil
	})
	if err != nil {
		return f, err
	}

	err = eachField(v, "dyn_vars", func(k string, dv cue.Value) error {
		var dyn envs.DynVar
		if s, err := dv.String(); err == nil {
			dyn.TaskKey = s
		} else {
			var raw struct {
				Task  string `json:"task"`
				Field string `json:"field"`
			}
			if err := dv.Decode(&raw); err != nil {
				return formatCUEError(err)
			}
			dyn = envs.DynVar{TaskKey: raw.Task, Field: raw.Field}
		}
		if f.dynVars == nil {
			f.dynVars = make(map[string]envs.DynVar)
		}
		f.dynVars[k] = dyn
		return nil
	})
	return f, err
}

// parseInherit accepts true (the default env), false (none), one name or a
// list of names.
func parseInherit(v cue.Value) (envs.Inherit, error) {
	if !v.Exists() {
		return envs.Inherit{}, nil
	}
	switch v.IncompleteKind() {
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return envs.Inherit{}, formatCUEError(err)
		}
		return envs.Inherit{None: !b}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return envs.Inherit{}, formatCUEError(err)
		}
		return envs.Inherit{Names: []string{s}}, nil
	case cue.ListKind:
		var names []string
		if err := v.Decode(&names); err != nil {
			return envs.Inherit{}, formatCUEError(err)
		}
		return envs.Inherit{Names: names}, nil
	}
	return envs.Inherit{}, &CompileError{
		Field:   "inherit",
		Message: "must be a bool, a name or a list of names",
		Pos:     v.Pos(),
	}
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	var out []string
	if err := lv.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}
