package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/metatypedev/ghjk/internal/compiler"
	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/installs"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/store"
	"github.com/metatypedev/ghjk/internal/tasks"
)

// Harness holds one scenario's compiled module and the machinery that
// installs, cooks and executes against it.
type Harness struct {
	config  *ir.ModuleConfig
	exec    *tasks.Executor
	cook    envs.Reducers
	dataDir string
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Installs and cooked envs go under dataDir. The Install DB is in memory,
// so every run starts with nothing installed. An error is returned only when
// the scenario cannot be set up; failed steps and assertions are recorded in
// the result.
func Run(ctx context.Context, scenario *Scenario, dataDir string) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gf, err := compiler.LoadString(scenario.Name+".cue", scenario.Ghjkfile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load ghjkfile: %w", err)
	}
	compiled, err := gf.Builder.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ghjkfile: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	handle := store.NewHandle(st)
	defer handle.Release()

	fetcher := ports.NewFetcher()
	defer fetcher.Close()
	registry := ports.NewRegistry()
	for _, d := range gf.Ports {
		if err := registry.RegisterDecl(d, fetcher); err != nil {
			return nil, err
		}
	}

	installer := installs.New(installs.Options{
		Handle:   handle,
		Registry: registry,
		Lock:     lockfile.New(filepath.Join(dataDir, lockfile.FileName)),
		DataDir:  dataDir,
		Log:      logger,
	})
	defer installer.Close()
	reducers := envs.Reducers{}
	if err := reducers.Register(ir.KindInstallSetRef, installer.InstallSetReducer(compiled.Config)); err != nil {
		return nil, err
	}
	for _, kind := range []ir.ProvisionKind{ir.KindTaskOnEnter, ir.KindTaskOnExit} {
		if err := reducers.Register(kind, envs.TaskHookReducer("ghjk")); err != nil {
			return nil, err
		}
	}

	h := &Harness{
		config:  compiled.Config,
		dataDir: dataDir,
		logger:  logger,
		exec: &tasks.Executor{
			Config:   compiled.Config,
			Graph:    compiled.Graph,
			Reducers: reducers,
			Runners:  compiled.Runners,
			DataDir:  dataDir,
			WorkDir:  dataDir,
			Log:      logger,
		},
	}
	h.cook = maps.Clone(reducers)
	if err := h.cook.Register(ir.KindEnvVarDyn, h.exec.DynVarReducer()); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		h.runStep(ctx, i, step, result)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// runStep executes one flow step and checks it against its expect clause.
// An expected failure is traced as an error event.
func (h *Harness) runStep(ctx context.Context, i int, step FlowStep, result *Result) {
	var err error
	if step.Exec != "" {
		err = h.execTask(ctx, i, step, result)
	} else {
		err = h.cookEnv(ctx, step, result)
	}

	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	switch {
	case err == nil && want != "":
		result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, got success", i, want))
	case err != nil && want == "":
		result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
	case err != nil && !strings.Contains(err.Error(), want):
		result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, got: %v", i, want, err))
	case err != nil:
		result.addEvent(TraceEvent{Type: EventError, Task: step.Exec, Env: step.Cook})
	}

	h.logger.Info("flow step completed", "step", i, "exec", step.Exec, "cook", step.Cook, "error", err)
}

func (h *Harness) execTask(ctx context.Context, i int, step FlowStep, result *Result) error {
	run, err := h.exec.Exec(ctx, step.Exec)
	if err != nil {
		return err
	}
	for _, key := range run.Order {
		out, _ := run.Results[key].GetString("stdout")
		result.addEvent(TraceEvent{Type: EventTask, Task: key, Stdout: out})
	}
	if step.Expect != nil && step.Expect.Stdout != nil {
		got, _ := run.Results[step.Exec].GetString("stdout")
		if got != *step.Expect.Stdout {
			result.AddError(fmt.Sprintf("flow[%d]: task %s stdout = %q, want %q", i, step.Exec, got, *step.Expect.Stdout))
		}
	}
	return nil
}

func (h *Harness) cookEnv(ctx context.Context, step FlowStep, result *Result) error {
	recipe, err := h.config.EnvRecipe(step.Cook)
	if err != nil {
		return err
	}
	provs, err := h.cook.Reduce(ctx, recipe.Provides)
	if err != nil {
		return err
	}
	cooked, err := envs.Cook(filepath.Join(h.dataDir, "envs", step.Cook), provs, envs.CookOptions{EnvName: step.Cook})
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cooked.Shims.Bin)
	if err != nil {
		return err
	}
	bins := make([]string, 0, len(entries))
	for _, e := range entries {
		bins = append(bins, e.Name())
	}
	slices.Sort(bins)

	result.Envs[step.Cook] = maps.Clone(cooked.Vars)
	result.addEvent(TraceEvent{Type: EventCook, Env: step.Cook, Vars: cooked.Vars, Bins: bins})
	return nil
}
