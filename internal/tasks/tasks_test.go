package tasks

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
)

func putRecipe(t *testing.T, cfg *ir.ModuleConfig, provs ...ir.Provision) string {
	t.Helper()
	recipe := ir.EnvRecipe{Provides: provs}
	id, err := ir.RecipeID(recipe)
	require.NoError(t, err)
	require.NoError(t, cfg.Put(id, recipe))
	return id
}

type harness struct {
	exec  *Executor
	order []string
	envs  map[string][]string
	logs  *bytes.Buffer
}

func newHarness(t *testing.T, cfg *ir.ModuleConfig, tasks map[string]ir.TaskConfig) *harness {
	t.Helper()
	g, err := NewGraph(tasks)
	require.NoError(t, err)
	cfg.Tasks = tasks

	h := &harness{envs: make(map[string][]string), logs: &bytes.Buffer{}}
	runners := make(map[string]Runner)
	for key, task := range tasks {
		if len(task.Cmd) > 0 {
			continue
		}
		runners[key] = func(_ context.Context, rc RunContext) (ir.Object, error) {
			h.order = append(h.order, rc.Key)
			h.envs[rc.Key] = rc.Env
			return ir.Object{"stdout": ir.String(rc.Key + "-out\n")}, nil
		}
	}
	h.exec = &Executor{
		Config:  cfg,
		Graph:   g,
		Runners: runners,
		DataDir: t.TempDir(),
		WorkDir: t.TempDir(),
		Log:     slog.New(slog.NewTextHandler(h.logs, nil)),
	}
	return h
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestExec_DependenciesRunFirstAndOnce(t *testing.T) {
	tasks := map[string]ir.TaskConfig{
		"A": {Key: "A"},
		"B": {Key: "B", DependsOn: []string{"A"}},
		"C": {Key: "C", DependsOn: []string{"B"}},
		"D": {Key: "D", DependsOn: []string{"A"}},
		"E": {Key: "E", DependsOn: []string{"B", "D"}},
	}
	h := newHarness(t, &ir.ModuleConfig{}, tasks)

	run, err := h.exec.Exec(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, run.Order)
	assert.Equal(t, []string{"A", "B", "C"}, h.order)

	h.order = nil
	run, err = h.exec.Exec(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "D", "E"}, run.Order)
	assert.Len(t, run.Results, 4)
}

func TestExec_UnknownTask(t *testing.T) {
	h := newHarness(t, &ir.ModuleConfig{}, map[string]ir.TaskConfig{"A": {Key: "A"}})
	_, err := h.exec.Exec(context.Background(), "nope")
	assert.True(t, IsMissingTasks(err))
}

func TestNewGraph_MissingDepsBatched(t *testing.T) {
	_, err := NewGraph(map[string]ir.TaskConfig{
		"a": {Key: "a", DependsOn: []string{"x"}},
		"b": {Key: "b", DependsOn: []string{"y"}},
	})
	require.Error(t, err)
	var me *MissingTasksError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, []MissingTask{{Key: "x", By: "task a"}, {Key: "y", By: "task b"}}, me.Missing)
}

func TestNewGraph_Cycle(t *testing.T) {
	_, err := NewGraph(map[string]ir.TaskConfig{
		"a": {Key: "a", DependsOn: []string{"b"}},
		"b": {Key: "b", DependsOn: []string{"a"}},
	})
	assert.True(t, graph.IsCycleError(err))
}

func TestExec_CommandWithEnv(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg, ir.EnvVar("GREETING", "hello"))
	tasks := map[string]ir.TaskConfig{
		"greet": {Key: "greet", EnvID: envID, Cmd: []string{"sh", "-c", `echo $GREETING from $(basename "$(pwd -P)")`}, Workdir: "sub"},
	}
	h := newHarness(t, cfg, tasks)
	require.NoError(t, os.MkdirAll(filepath.Join(h.exec.WorkDir, "sub"), 0o755))
	var out bytes.Buffer
	h.exec.Stdout = &out

	run, err := h.exec.Exec(context.Background(), "greet")
	require.NoError(t, err)
	assert.Equal(t, ir.String("hello from sub\n"), run.Results["greet"]["stdout"])
	assert.Equal(t, ir.Int(0), run.Results["greet"]["exit_code"])
	assert.Equal(t, "hello from sub\n", out.String())
}

func TestExec_CommandFailure(t *testing.T) {
	tasks := map[string]ir.TaskConfig{
		"fail": {Key: "fail", Cmd: []string{"sh", "-c", "exit 7"}},
	}
	h := newHarness(t, &ir.ModuleConfig{}, tasks)

	_, err := h.exec.Exec(context.Background(), "fail")
	var fe *TaskFailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 7, fe.ExitCode)
}

func TestExec_DynamicVars(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg, ir.Provision{Kind: ir.KindEnvVarDyn, Key: "REV", TaskKey: "rev", Field: "stdout"})
	tasks := map[string]ir.TaskConfig{
		"rev": {Key: "rev"},
		"use": {Key: "use", EnvID: envID},
	}
	h := newHarness(t, cfg, tasks)

	_, err := h.exec.Exec(context.Background(), "use")
	require.NoError(t, err)
	v, ok := envValue(h.envs["use"], "REV")
	require.True(t, ok)
	assert.Equal(t, "rev-out", v)
}

func TestExec_MissingDynamicTasksBatched(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg,
		ir.Provision{Kind: ir.KindEnvVarDyn, Key: "X", TaskKey: "gone-x"},
		ir.Provision{Kind: ir.KindEnvVarDyn, Key: "Y", TaskKey: "gone-y"},
	)
	h := newHarness(t, cfg, map[string]ir.TaskConfig{"use": {Key: "use", EnvID: envID}})

	_, err := h.exec.Exec(context.Background(), "use")
	var me *MissingTasksError
	require.ErrorAs(t, err, &me)
	assert.Len(t, me.Missing, 2)
}

func TestExec_SelfReferentialDynamicVar(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg, ir.Provision{Kind: ir.KindEnvVarDyn, Key: "X", TaskKey: "loop"})
	h := newHarness(t, cfg, map[string]ir.TaskConfig{"loop": {Key: "loop", EnvID: envID}})

	_, err := h.exec.Exec(context.Background(), "loop")
	assert.True(t, graph.IsCycleError(err))
}

func TestExec_TaskVarsWinOverExportedVars(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg,
		ir.EnvVar("FOO", "mine"),
		ir.Provision{Kind: ir.KindInstallSetRef, SetID: "set"},
	)
	h := newHarness(t, cfg, map[string]ir.TaskConfig{"t": {Key: "t", EnvID: envID}})
	h.exec.Reducers = envs.Reducers{
		ir.KindInstallSetRef: func(context.Context, []ir.Provision) ([]ir.Provision, error) {
			return []ir.Provision{ir.EnvVar("FOO", "exported"), ir.EnvVar("TOOL_HOME", "/opt/tool")}, nil
		},
	}

	_, err := h.exec.Exec(context.Background(), "t")
	require.NoError(t, err)
	foo, _ := envValue(h.envs["t"], "FOO")
	home, _ := envValue(h.envs["t"], "TOOL_HOME")
	assert.Equal(t, "mine", foo)
	assert.Equal(t, "/opt/tool", home)
	assert.Contains(t, h.logs.String(), "level=WARN")
}

func TestExec_HooksAreIgnored(t *testing.T) {
	cfg := &ir.ModuleConfig{}
	envID := putRecipe(t, cfg, ir.Provision{Kind: ir.KindTaskOnEnter, TaskKey: "other"})
	h := newHarness(t, cfg, map[string]ir.TaskConfig{"t": {Key: "t", EnvID: envID}})

	_, err := h.exec.Exec(context.Background(), "t")
	require.NoError(t, err, "hook provisions never reach the reducers")
}

func TestExec_ScratchDirRemoved(t *testing.T) {
	h := newHarness(t, &ir.ModuleConfig{}, map[string]ir.TaskConfig{
		"a": {Key: "a"},
		"b": {Key: "b", DependsOn: []string{"a"}},
	})
	h.exec.IDs = NewFixedGenerator("run-1", "run-2")

	_, err := h.exec.Exec(context.Background(), "b")
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(h.exec.DataDir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
