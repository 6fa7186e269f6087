// Package compiler turns env, task and install declarations into a
// content-addressed ir.ModuleConfig.
//
// Declarations accumulate in a Builder, an arena that hands out integer ids
// for installs, envs and tasks. Compile composes the env inheritance DAG,
// hashes every recipe and install set onto the blackboard and validates the
// task graph. Declarations come either from Go code or from a CUE ghjkfile
// (see LoadDir).
package compiler

import (
	"fmt"
	"log/slog"

	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/tasks"
)

// DefaultEnvName is the env that declarations inherit from when they do not
// say otherwise.
const DefaultEnvName = "main"

// InstallRef, EnvRef and TaskRef index the Builder's arenas.
type (
	InstallRef int
	EnvRef     int
	TaskRef    int
)

// EnvDecl declares a named environment.
type EnvDecl struct {
	Name             string
	Desc             string
	Inherit          envs.Inherit
	Installs         []InstallRef
	AllowedBuildDeps map[string]ir.AllowedPortDep
	Vars             map[string]string
	DynVars          map[string]envs.DynVar // TaskKey may be a task name
	OnEnter          []string               // task names or keys
	OnExit           []string
}

// TaskDecl declares a task. A task without a Name is anonymous and keyed by
// the hash of its compiled config.
type TaskDecl struct {
	Name             string
	Desc             string
	DependsOn        []string  // task names or keys
	DependsOnRefs    []TaskRef // tasks declared in the same Builder
	Inherit          envs.Inherit
	Installs         []InstallRef
	AllowedBuildDeps map[string]ir.AllowedPortDep
	Vars             map[string]string
	DynVars          map[string]envs.DynVar
	Workdir          string
	Cmd              []string
	Runner           tasks.Runner
}

// Builder accumulates declarations. The zero value is not usable; call
// NewBuilder.
type Builder struct {
	defaultEnv string
	log        *slog.Logger

	installs    []ir.InstallConfig
	installByID map[string]InstallRef

	envs      []EnvDecl
	envByName map[string]EnvRef

	tasks      []TaskDecl
	taskByName map[string]TaskRef
}

// NewBuilder returns an empty Builder whose default env is "main".
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		defaultEnv:  DefaultEnvName,
		log:         log,
		installByID: make(map[string]InstallRef),
		envByName:   make(map[string]EnvRef),
		taskByName:  make(map[string]TaskRef),
	}
}

// SetDefaultEnv changes the env used by declarations that inherit by default.
func (b *Builder) SetDefaultEnv(name string) {
	b.defaultEnv = name
}

// DefaultEnv returns the default env name.
func (b *Builder) DefaultEnv() string { return b.defaultEnv }

// Install interns cfg. Identical configs share one ref.
func (b *Builder) Install(cfg ir.InstallConfig) (InstallRef, error) {
	if cfg.Port == "" {
		return 0, fmt.Errorf("install: port is required")
	}
	hash, err := ir.InstallConfigHash(cfg)
	if err != nil {
		return 0, err
	}
	if ref, ok := b.installByID[hash]; ok {
		return ref, nil
	}
	ref := InstallRef(len(b.installs))
	b.installs = append(b.installs, cfg)
	b.installByID[hash] = ref
	return ref, nil
}

// Env declares an environment. Names are unique.
func (b *Builder) Env(d EnvDecl) (EnvRef, error) {
	if d.Name == "" {
		return 0, fmt.Errorf("env: name is required")
	}
	if _, dup := b.envByName[d.Name]; dup {
		return 0, fmt.Errorf("env %q declared twice", d.Name)
	}
	if err := b.checkInstalls(d.Installs); err != nil {
		return 0, fmt.Errorf("env %q: %w", d.Name, err)
	}
	ref := EnvRef(len(b.envs))
	b.envs = append(b.envs, d)
	b.envByName[d.Name] = ref
	return ref, nil
}

// Task declares a task. Named tasks must have unique names.
func (b *Builder) Task(d TaskDecl) (TaskRef, error) {
	if d.Name != "" {
		if _, dup := b.taskByName[d.Name]; dup {
			return 0, fmt.Errorf("task %q declared twice", d.Name)
		}
	}
	if err := b.checkInstalls(d.Installs); err != nil {
		return 0, fmt.Errorf("task %s: %w", taskLabel(d, TaskRef(len(b.tasks))), err)
	}
	ref := TaskRef(len(b.tasks))
	for _, dep := range d.DependsOnRefs {
		if dep < 0 || dep >= ref {
			return 0, fmt.Errorf("task %s: depends on undeclared task ref %d", taskLabel(d, ref), dep)
		}
	}
	b.tasks = append(b.tasks, d)
	if d.Name != "" {
		b.taskByName[d.Name] = ref
	}
	return ref, nil
}

// EnvByName looks up a declared env.
func (b *Builder) EnvByName(name string) (EnvRef, bool) {
	ref, ok := b.envByName[name]
	return ref, ok
}

// TaskByName looks up a named task.
func (b *Builder) TaskByName(name string) (TaskRef, bool) {
	ref, ok := b.taskByName[name]
	return ref, ok
}

func (b *Builder) checkInstalls(refs []InstallRef) error {
	for _, r := range refs {
		if r < 0 || int(r) >= len(b.installs) {
			return fmt.Errorf("unknown install ref %d", r)
		}
	}
	return nil
}

func taskLabel(d TaskDecl, ref TaskRef) string {
	if d.Name != "" {
		return fmt.Sprintf("%q", d.Name)
	}
	return fmt.Sprintf("#%d", ref)
}
