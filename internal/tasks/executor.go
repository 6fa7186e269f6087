package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
)

// RunContext is handed to a task body.
type RunContext struct {
	Key     string
	Env     []string // KEY=VALUE
	Workdir string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Runner is an in-process task body. Its result is opaque to the executor.
type Runner func(ctx context.Context, rc RunContext) (ir.Object, error)

// Run records one execution: tasks in the order they ran and their results.
type Run struct {
	Order   []string
	Results map[string]ir.Object
}

// Executor runs tasks after their dependencies, each exactly once per Exec.
//
// Each task gets a scratch directory that exists only while it runs. Its
// recipe is reduced there (installing what it needs) and its body runs with
// the resulting environment.
type Executor struct {
	Config   *ir.ModuleConfig
	Graph    *Graph
	Reducers envs.Reducers // exotic kinds other than dynamic vars
	Runners  map[string]Runner
	DataDir  string
	WorkDir  string // base for relative task workdirs
	IDs      IDGenerator
	Stdout   io.Writer
	Stderr   io.Writer
	Log      *slog.Logger

	stack []string // tasks currently running, outermost first
}

func (e *Executor) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// Exec runs key and everything it depends on.
func (e *Executor) Exec(ctx context.Context, key string) (*Run, error) {
	if _, ok := e.Graph.Tasks[key]; !ok {
		return nil, &MissingTasksError{Missing: []MissingTask{{Key: key, By: "exec"}}}
	}
	run := &Run{Results: make(map[string]ir.Object)}
	sub := e.Graph.Subgraph(key)
	err := graph.Walk(ctx, sub, func(ctx context.Context, k string) error {
		res, err := e.runTask(ctx, k)
		if err != nil {
			return err
		}
		run.Order = append(run.Order, k)
		run.Results[k] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (e *Executor) runTask(ctx context.Context, key string) (ir.Object, error) {
	if slices.Contains(e.stack, key) {
		chain := append(slices.Clone(e.stack[slices.Index(e.stack, key):]), key)
		return nil, &graph.CycleError{From: e.stack[len(e.stack)-1], To: key, Chain: chain}
	}
	e.stack = append(e.stack, key)
	defer func() { e.stack = e.stack[:len(e.stack)-1] }()

	task := e.Graph.Tasks[key]
	log := e.log().With("task", key)

	ids := e.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	dir := filepath.Join(e.DataDir, "tmp", "task-"+ids.Generate())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	provs, err := e.taskProvisions(ctx, task, log)
	if err != nil {
		return nil, fmt.Errorf("task %s: env: %w", key, err)
	}
	cooked, err := envs.Cook(dir, provs, envs.CookOptions{})
	if err != nil {
		return nil, fmt.Errorf("task %s: env: %w", key, err)
	}

	rc := RunContext{
		Key:     key,
		Env:     cooked.Environ(os.Environ()),
		Workdir: e.workdir(task),
		Stdout:  writerOr(e.Stdout),
		Stderr:  writerOr(e.Stderr),
	}
	log.Info("running task")
	if runner, ok := e.Runners[key]; ok {
		res, err := runner(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", key, err)
		}
		if res == nil {
			res = ir.Object{}
		}
		return res, nil
	}
	if len(task.Cmd) == 0 {
		return ir.Object{}, nil
	}
	return runCommand(ctx, key, task.Cmd, rc)
}

func (e *Executor) workdir(task ir.TaskConfig) string {
	switch {
	case task.Workdir == "":
		return e.WorkDir
	case filepath.IsAbs(task.Workdir):
		return task.Workdir
	default:
		return filepath.Join(e.WorkDir, task.Workdir)
	}
}

// taskProvisions reduces the task's recipe minus hooks. The task's own vars
// are applied after install-exported vars, so they win; differing values
// are logged.
func (e *Executor) taskProvisions(ctx context.Context, task ir.TaskConfig, log *slog.Logger) ([]ir.Provision, error) {
	if task.EnvID == "" {
		return nil, nil
	}
	recipe, err := e.Config.Recipe(task.EnvID)
	if err != nil {
		return nil, err
	}
	reducers := envs.Reducers{}
	maps.Copy(reducers, e.Reducers)
	reducers[ir.KindEnvVarDyn] = e.dynVarReducer

	var own, rest []ir.Provision
	for _, p := range envs.Without(recipe.Provides, ir.KindTaskOnEnter, ir.KindTaskOnExit) {
		if p.Kind == ir.KindEnvVar || p.Kind == ir.KindEnvVarDyn {
			own = append(own, p)
		} else {
			rest = append(rest, p)
		}
	}
	own, err = reducers.Reduce(ctx, own)
	if err != nil {
		return nil, err
	}
	rest, err = reducers.Reduce(ctx, rest)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	var out []ir.Provision
	for _, p := range rest {
		if p.Kind == ir.KindEnvVar {
			vars[p.Key] = p.Val
			continue
		}
		out = append(out, p)
	}
	for _, p := range own {
		if prev, ok := vars[p.Key]; ok && prev != p.Val {
			log.Warn("task var overrides install-exported var", "key", p.Key, "exported", prev, "value", p.Val)
		}
		vars[p.Key] = p.Val
	}
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		out = append(out, ir.EnvVar(k, vars[k]))
	}
	return out, nil
}

// DynVarReducer exposes dynamic var resolution for materializing envs
// outside of a task run.
func (e *Executor) DynVarReducer() envs.Reducer {
	return e.dynVarReducer
}

// dynVarReducer resolves posix.envVarDyn provisions by executing their
// backing tasks. Missing tasks are reported together.
func (e *Executor) dynVarReducer(ctx context.Context, provs []ir.Provision) ([]ir.Provision, error) {
	var missing []MissingTask
	for _, p := range provs {
		if _, ok := e.Graph.Tasks[p.TaskKey]; !ok {
			missing = append(missing, MissingTask{Key: p.TaskKey, By: "env var " + p.Key})
		}
	}
	if len(missing) > 0 {
		return nil, &MissingTasksError{Missing: missing}
	}

	out := make([]ir.Provision, 0, len(provs))
	for _, p := range provs {
		run, err := e.Exec(ctx, p.TaskKey)
		if err != nil {
			return nil, fmt.Errorf("env var %s: %w", p.Key, err)
		}
		field := p.Field
		if field == "" {
			field = envs.DefaultDynField
		}
		val, err := resultField(run.Results[p.TaskKey], field)
		if err != nil {
			return nil, fmt.Errorf("env var %s from task %s: %w", p.Key, p.TaskKey, err)
		}
		out = append(out, ir.EnvVar(p.Key, val))
	}
	return out, nil
}

func resultField(res ir.Object, field string) (string, error) {
	v, ok := res[field]
	if !ok {
		return "", fmt.Errorf("result has no field %q", field)
	}
	switch v := v.(type) {
	case ir.String:
		return strings.TrimRight(string(v), "\r\n"), nil
	case ir.Int:
		return strconv.FormatInt(int64(v), 10), nil
	case ir.Bool:
		return strconv.FormatBool(bool(v)), nil
	default:
		return "", fmt.Errorf("result field %q is %T, not a scalar", field, v)
	}
}

func runCommand(ctx context.Context, key string, argv []string, rc RunContext) (ir.Object, error) {
	path, err := lookPath(argv[0], rc.Env)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", key, err)
	}
	cmd := exec.CommandContext(ctx, path, argv[1:]...)
	cmd.Args[0] = argv[0]
	cmd.Env = rc.Env
	cmd.Dir = rc.Workdir
	var stdout bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, rc.Stdout)
	cmd.Stderr = rc.Stderr

	err = cmd.Run()
	res := ir.Object{"stdout": ir.String(stdout.String()), "exit_code": ir.Int(0)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &TaskFailedError{Key: key, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return nil, fmt.Errorf("task %s: %w", key, err)
	}
	return res, nil
}

// lookPath finds name on the PATH of env rather than of this process.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	var pathVar string
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			pathVar = v
		}
	}
	for _, dir := range filepath.SplitList(pathVar) {
		if dir == "" {
			dir = "."
		}
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return p, nil
		}
	}
	return "", fmt.Errorf("executable %q not found in task PATH", name)
}
