package compiler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/tasks"
)

// Compiled is the result of Builder.Compile.
type Compiled struct {
	Config  *ir.ModuleConfig
	Hash    string
	Graph   *tasks.Graph
	Runners map[string]tasks.Runner // in-process task bodies by task key
}

// Compile validates the declarations and produces the module config.
//
// Every declared env plus one implicit env per task is composed along the
// inheritance DAG. Recipes and install sets go on the blackboard under
// their content hash, so identical envs share one entry. Named tasks are
// keyed by name, anonymous ones by the hash of their config.
func (b *Builder) Compile(ctx context.Context) (*Compiled, error) {
	if errs := b.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errors.Join(joined...)
	}

	envDecls := slices.Clone(b.envs)
	defaultIdx, ok := b.EnvByName(b.defaultEnv)
	if !ok {
		defaultIdx = EnvRef(len(envDecls))
		envDecls = append(envDecls, EnvDecl{Name: b.defaultEnv, Inherit: envs.Inherit{None: true}})
	}
	nEnvs := len(envDecls)

	decls := make([]envs.Decl, 0, nEnvs+len(b.tasks))
	for _, d := range envDecls {
		decls = append(decls, envs.Decl{
			Name:             d.Name,
			Desc:             d.Desc,
			Inherit:          d.Inherit,
			Installs:         b.installConfigs(d.Installs),
			AllowedBuildDeps: d.AllowedBuildDeps,
			Vars:             d.Vars,
			DynVars:          d.DynVars,
			OnEnter:          d.OnEnter,
			OnExit:           d.OnExit,
		})
	}
	for i, t := range b.tasks {
		decls = append(decls, envs.Decl{
			Name:             "task " + taskLabel(t, TaskRef(i)),
			Desc:             t.Desc,
			Inherit:          t.Inherit,
			Installs:         b.installConfigs(t.Installs),
			AllowedBuildDeps: t.AllowedBuildDeps,
			Vars:             t.Vars,
			DynVars:          t.DynVars,
		})
	}

	lookup := func(name string) (int, bool) {
		if ref, ok := b.EnvByName(name); ok {
			return int(ref), true
		}
		if name == b.defaultEnv {
			return int(defaultIdx), true
		}
		if ref, ok := b.TaskByName(name); ok {
			return nEnvs + int(ref), true
		}
		return 0, false
	}

	parents := make([][]int, len(decls))
	var unknown []error
	for i, d := range decls {
		switch {
		case d.Inherit.None:
		case len(d.Inherit.Names) == 0:
			if i != int(defaultIdx) {
				parents[i] = []int{int(defaultIdx)}
			}
		default:
			for _, name := range d.Inherit.Names {
				p, ok := lookup(name)
				if !ok {
					unknown = append(unknown, &UnknownEnvError{Env: d.Name, Parent: name})
					continue
				}
				parents[i] = append(parents[i], p)
			}
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Join(unknown...)
	}

	composed, err := envs.Compose(ctx, decls, parents, b.log)
	if err != nil {
		return nil, err
	}
	for i, t := range b.tasks {
		b.dropSelfDynVars(&composed[nEnvs+i], t)
	}

	cfg := &ir.ModuleConfig{
		SchemaVersion: ir.SchemaVersion,
		DefaultEnv:    b.defaultEnv,
		Envs:          make(map[string]string, nEnvs),
		Tasks:         make(map[string]ir.TaskConfig, len(b.tasks)),
		Blackboard:    make(map[string]ir.Object),
	}
	recipeIDs := make([]string, len(composed))
	for i, c := range composed {
		id, err := putRecipe(cfg, c)
		if err != nil {
			return nil, fmt.Errorf("env %q: %w", c.Name, err)
		}
		recipeIDs[i] = id
	}
	for i, d := range envDecls {
		cfg.Envs[d.Name] = recipeIDs[i]
	}

	runners := make(map[string]tasks.Runner)
	keys := make([]string, len(b.tasks))
	firstByKey := make(map[string]int)
	var collisions []error
	for i, t := range b.tasks {
		deps := slices.Clone(t.DependsOn)
		for _, ref := range t.DependsOnRefs {
			deps = append(deps, keys[ref])
		}
		tc := ir.TaskConfig{
			Name:      t.Name,
			Desc:      t.Desc,
			DependsOn: uniq(deps),
			EnvID:     recipeIDs[nEnvs+i],
			Workdir:   t.Workdir,
			Cmd:       t.Cmd,
		}
		key := t.Name
		if key == "" {
			if key, err = ir.TaskHash(tc); err != nil {
				return nil, fmt.Errorf("task %s: %w", taskLabel(t, TaskRef(i)), err)
			}
		}
		tc.Key = key
		keys[i] = key
		if first, seen := firstByKey[key]; seen {
			// Identical anonymous tasks collapse into one, unless a runner
			// would be lost.
			if t.Runner != nil || b.tasks[first].Runner != nil {
				collisions = append(collisions, ValidationError{
					Field:   fmt.Sprintf("tasks.#%d", i),
					Message: fmt.Sprintf("anonymous task has the same config as task #%d and an in-process runner; name one of them", first),
					Code:    ErrRunnerCollision,
				})
			}
			continue
		}
		firstByKey[key] = i
		cfg.Tasks[key] = tc
		if t.Runner != nil {
			runners[key] = t.Runner
		}
	}

	if len(collisions) > 0 {
		return nil, errors.Join(collisions...)
	}

	g, err := tasks.NewGraph(cfg.Tasks)
	missing := envTaskRefs(composed, cfg.Tasks)
	if err != nil {
		var me *tasks.MissingTasksError
		if !errors.As(err, &me) {
			return nil, err
		}
		missing = append(me.Missing, missing...)
	}
	if len(missing) > 0 {
		return nil, &tasks.MissingTasksError{Missing: missing}
	}
	if err := checkRunCycles(composed[nEnvs:], keys, cfg.Tasks); err != nil {
		return nil, err
	}

	hash, err := ir.ModuleHash(*cfg)
	if err != nil {
		return nil, err
	}
	b.log.Debug("compiled module", "envs", len(cfg.Envs), "tasks", len(cfg.Tasks), "blackboard", len(cfg.Blackboard), "hash", hash)
	return &Compiled{Config: cfg, Hash: hash, Graph: g, Runners: runners}, nil
}

func putRecipe(cfg *ir.ModuleConfig, c envs.Composed) (string, error) {
	recipe, set, err := c.Recipe()
	if err != nil {
		return "", err
	}
	if set != nil {
		setID, err := ir.InstallSetID(*set)
		if err != nil {
			return "", err
		}
		if err := cfg.Put(setID, set); err != nil {
			return "", err
		}
	}
	id, err := ir.RecipeID(recipe)
	if err != nil {
		return "", err
	}
	return id, cfg.Put(id, recipe)
}

// dropSelfDynVars removes the dynamic vars a task's env inherited that are
// backed by the task itself. A var the task declares on its own is kept, and
// checkRunCycles rejects it.
func (b *Builder) dropSelfDynVars(c *envs.Composed, t TaskDecl) {
	if t.Name == "" || len(c.DynVars) == 0 {
		return
	}
	c.DynVars = maps.Clone(c.DynVars)
	for k, dv := range c.DynVars {
		if dv.TaskKey != t.Name {
			continue
		}
		if own, ok := t.DynVars[k]; ok && own.TaskKey == t.Name {
			continue
		}
		b.log.Debug("dropping inherited dynamic var backed by its own task", "task", t.Name, "var", k)
		delete(c.DynVars, k)
	}
}

// checkRunCycles rejects tasks that need themselves before they can run,
// either through depends_on or through the dynamic vars of their env.
func checkRunCycles(taskEnvs []envs.Composed, keys []string, known map[string]ir.TaskConfig) error {
	g := graph.New[string]()
	for key, tc := range known {
		g.AddNode(key)
		for _, dep := range tc.DependsOn {
			g.AddEdge(key, dep)
		}
	}
	for i, c := range taskEnvs {
		for _, dv := range c.DynVars {
			if _, ok := known[dv.TaskKey]; ok {
				g.AddEdge(keys[i], dv.TaskKey)
			}
		}
	}
	return graph.CheckCycles(g)
}

// envTaskRefs reports hook and dynamic var references to tasks that do not
// exist, once per missing key.
func envTaskRefs(composed []envs.Composed, known map[string]ir.TaskConfig) []tasks.MissingTask {
	var missing []tasks.MissingTask
	reported := make(map[string]bool)
	check := func(key, by string) {
		if _, ok := known[key]; ok || reported[key] {
			return
		}
		reported[key] = true
		missing = append(missing, tasks.MissingTask{Key: key, By: by})
	}
	for _, c := range composed {
		for _, k := range slices.Sorted(maps.Keys(c.DynVars)) {
			check(c.DynVars[k].TaskKey, fmt.Sprintf("env %s var %s", c.Name, k))
		}
		for _, key := range c.OnEnter {
			check(key, fmt.Sprintf("env %s onEnter", c.Name))
		}
		for _, key := range c.OnExit {
			check(key, fmt.Sprintf("env %s onExit", c.Name))
		}
	}
	return missing
}

func (b *Builder) installConfigs(refs []InstallRef) []ir.InstallConfig {
	if len(refs) == 0 {
		return nil
	}
	out := make([]ir.InstallConfig, len(refs))
	for i, r := range refs {
		out[i] = b.installs[r]
	}
	return out
}

func uniq(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
