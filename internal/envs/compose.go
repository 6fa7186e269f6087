package envs

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"

	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
)

// Compose merges every declaration with its parents. parents[i] lists the
// indices of decls[i]'s parents in merge order. Parents are finalized
// before their children; the result is indexed like decls.
//
// Merge rules, applied parent by parent and then for the child's own fields:
// vars go key-wise with the later writer winning (a parent overwriting
// another parent's different value is logged as a warning, a child
// overriding silently); installs union by config hash; allowed build deps go
// key-wise, child wins, logged when content differs; hooks concatenate
// parent-then-child.
func Compose(ctx context.Context, decls []Decl, parents [][]int, log *slog.Logger) ([]Composed, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(parents) != len(decls) {
		return nil, fmt.Errorf("compose: %d decls but %d parent lists", len(decls), len(parents))
	}

	g := graph.New[int]()
	for i := range decls {
		g.AddNode(i)
		for _, p := range parents[i] {
			if p < 0 || p >= len(decls) {
				return nil, fmt.Errorf("env %q: parent index %d out of range", decls[i].Name, p)
			}
			g.AddEdge(i, p)
		}
	}
	if err := graph.CheckCyclesNamed(g, func(i int) string { return decls[i].Name }); err != nil {
		return nil, fmt.Errorf("env inheritance: %w", err)
	}

	out := make([]Composed, len(decls))
	err := graph.Walk(ctx, g, func(_ context.Context, i int) error {
		m := newMerger(decls[i].Name, log)
		for _, p := range parents[i] {
			if err := m.mergeParent(out[p]); err != nil {
				return err
			}
		}
		if err := m.mergeOwn(decls[i]); err != nil {
			return err
		}
		out[i] = m.finish(decls[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type merger struct {
	env      string
	log      *slog.Logger
	vars     map[string]string
	varFrom  map[string]string
	dynVars  map[string]DynVar
	installs map[string]ir.InstallConfig
	allowed  map[string]ir.AllowedPortDep
	onEnter  []string
	onExit   []string
}

func newMerger(env string, log *slog.Logger) *merger {
	return &merger{
		env:      env,
		log:      log,
		vars:     make(map[string]string),
		varFrom:  make(map[string]string),
		dynVars:  make(map[string]DynVar),
		installs: make(map[string]ir.InstallConfig),
		allowed:  make(map[string]ir.AllowedPortDep),
	}
}

func (m *merger) mergeParent(p Composed) error {
	for _, k := range slices.Sorted(maps.Keys(p.Vars)) {
		v := p.Vars[k]
		if prev, ok := m.vars[k]; ok && prev != v {
			m.log.Warn("conflicting env var from parents, later parent wins",
				"env", m.env, "key", k, "from", m.varFrom[k], "previous", prev, "winner", p.Name, "value", v)
		}
		m.vars[k] = v
		m.varFrom[k] = p.Name
		delete(m.dynVars, k)
	}
	for _, k := range slices.Sorted(maps.Keys(p.DynVars)) {
		v := p.DynVars[k]
		if prev, ok := m.dynVars[k]; ok && prev != v {
			m.log.Warn("conflicting dynamic env var from parents, later parent wins",
				"env", m.env, "key", k, "from", m.varFrom[k], "winner", p.Name, "task", v.TaskKey)
		}
		m.dynVars[k] = v
		m.varFrom[k] = p.Name
		delete(m.vars, k)
	}
	if err := m.addInstalls(p.Installs); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(p.AllowedBuildDeps)) {
		v := p.AllowedBuildDeps[k]
		if prev, ok := m.allowed[k]; ok && !reflect.DeepEqual(prev, v) {
			m.log.Warn("conflicting allowed build dep from parents, later parent wins",
				"env", m.env, "dep", k, "winner", p.Name)
		}
		m.allowed[k] = v
	}
	m.onEnter = append(m.onEnter, p.OnEnter...)
	m.onExit = append(m.onExit, p.OnExit...)
	return nil
}

func (m *merger) mergeOwn(d Decl) error {
	for _, k := range slices.Sorted(maps.Keys(d.Vars)) {
		v := d.Vars[k]
		if prev, ok := m.vars[k]; ok && prev != v {
			m.log.Debug("env overrides inherited var", "env", m.env, "key", k, "inherited", prev, "value", v)
		}
		m.vars[k] = v
		delete(m.dynVars, k)
	}
	for _, k := range slices.Sorted(maps.Keys(d.DynVars)) {
		m.dynVars[k] = d.DynVars[k]
		delete(m.vars, k)
	}
	if err := m.addInstalls(d.Installs); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(d.AllowedBuildDeps)) {
		v := d.AllowedBuildDeps[k]
		if prev, ok := m.allowed[k]; ok && !reflect.DeepEqual(prev, v) {
			m.log.Info("env overrides inherited allowed build dep", "env", m.env, "dep", k)
		}
		m.allowed[k] = v
	}
	m.onEnter = append(m.onEnter, d.OnEnter...)
	m.onExit = append(m.onExit, d.OnExit...)
	return nil
}

func (m *merger) addInstalls(installs []ir.InstallConfig) error {
	for _, cfg := range installs {
		h, err := ir.InstallConfigHash(cfg)
		if err != nil {
			return fmt.Errorf("env %q: %w", m.env, err)
		}
		m.installs[h] = cfg
	}
	return nil
}

func (m *merger) finish(d Decl) Composed {
	c := Composed{
		Name:    d.Name,
		Desc:    d.Desc,
		OnEnter: m.onEnter,
		OnExit:  m.onExit,
	}
	if len(m.vars) > 0 {
		c.Vars = m.vars
	}
	if len(m.dynVars) > 0 {
		c.DynVars = m.dynVars
	}
	if len(m.allowed) > 0 {
		c.AllowedBuildDeps = m.allowed
	}
	for _, h := range slices.Sorted(maps.Keys(m.installs)) {
		c.Installs = append(c.Installs, m.installs[h])
	}
	return c
}
