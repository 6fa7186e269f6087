package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/metatypedev/ghjk/internal/compiler"
	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/installs"
	"github.com/metatypedev/ghjk/internal/ir"
	"github.com/metatypedev/ghjk/internal/lockfile"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/store"
	"github.com/metatypedev/ghjk/internal/tasks"
)

// NotFoundError reports an env or task named on the command line that the
// ghjkfile does not declare.
type NotFoundError struct {
	Kind string // "env" or "task"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// session holds the compiled ghjkfile and the install machinery one command
// works with. The Install DB is opened on first use.
type session struct {
	cfg      Config
	log      *slog.Logger
	file     *compiler.Ghjkfile
	compiled *compiler.Compiled
	lock     *lockfile.Lockfile
	fetcher  *ports.Fetcher
	registry *ports.Registry

	handle    *store.Handle
	installer *installs.Installer
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return nil, err
	}
	log := newLogger(opts, cmd.ErrOrStderr())

	log.Debug("loading ghjkfile", "dir", cfg.Dir)
	file, err := compiler.LoadDir(cfg.Dir, log)
	if err != nil {
		return nil, err
	}
	compiled, err := file.Builder.Compile(commandContext(cmd))
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.Load(cfg.LockPath())
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		log:      log,
		file:     file,
		compiled: compiled,
		lock:     lock,
		fetcher:  ports.NewFetcher(),
		registry: ports.NewRegistry(),
	}
	for _, d := range file.Ports {
		if err := s.registry.RegisterDecl(d, s.fetcher); err != nil {
			s.fetcher.Close()
			return nil, err
		}
	}
	return s, nil
}

// store opens the Install DB and the installer on first use.
func (s *session) store() (*store.Store, error) {
	if s.handle != nil {
		return s.handle.Store(), nil
	}
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	st, err := store.Open(s.cfg.DBPath())
	if err != nil {
		return nil, err
	}
	s.handle = store.NewHandle(st)
	s.installer = installs.New(installs.Options{
		Handle:   s.handle,
		Registry: s.registry,
		Lock:     s.lock,
		DataDir:  s.cfg.DataDir,
		Log:      s.log,
	})
	return st, nil
}

// reducers returns the reducers for install sets and task hooks.
func (s *session) reducers() (envs.Reducers, error) {
	if _, err := s.store(); err != nil {
		return nil, err
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "ghjk"
	}
	hooks := envs.TaskHookReducer(exe, "--dir", s.cfg.Dir, "--data-dir", s.cfg.DataDir)
	r := envs.Reducers{}
	if err := r.Register(ir.KindInstallSetRef, s.installer.InstallSetReducer(s.compiled.Config)); err != nil {
		return nil, err
	}
	if err := r.Register(ir.KindTaskOnEnter, hooks); err != nil {
		return nil, err
	}
	if err := r.Register(ir.KindTaskOnExit, hooks); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *session) executor(stdout, stderr io.Writer) (*tasks.Executor, error) {
	r, err := s.reducers()
	if err != nil {
		return nil, err
	}
	return &tasks.Executor{
		Config:   s.compiled.Config,
		Graph:    s.compiled.Graph,
		Reducers: r,
		Runners:  s.compiled.Runners,
		DataDir:  s.cfg.DataDir,
		WorkDir:  s.cfg.Dir,
		Stdout:   stdout,
		Stderr:   stderr,
		Log:      s.log,
	}, nil
}

// envName defaults to the module's default env.
func (s *session) envName(args []string) (string, error) {
	name := s.compiled.Config.DefaultEnv
	if len(args) > 0 {
		name = args[0]
	}
	if _, ok := s.compiled.Config.Envs[name]; !ok {
		return "", &NotFoundError{Kind: "env", Name: name}
	}
	return name, nil
}

// cookEnv reduces the env's recipe, installing what it needs and running
// the tasks behind its dynamic vars, then materializes it.
func (s *session) cookEnv(ctx context.Context, name string, stdout, stderr io.Writer) (*envs.Cooked, error) {
	recipe, err := s.compiled.Config.EnvRecipe(name)
	if err != nil {
		return nil, &NotFoundError{Kind: "env", Name: name}
	}
	exec, err := s.executor(stdout, stderr)
	if err != nil {
		return nil, err
	}
	r, err := s.reducers()
	if err != nil {
		return nil, err
	}
	if err := r.Register(ir.KindEnvVarDyn, exec.DynVarReducer()); err != nil {
		return nil, err
	}
	provs, err := r.Reduce(ctx, recipe.Provides)
	if err != nil {
		return nil, err
	}
	return envs.Cook(s.cfg.EnvDir(name), provs, envs.CookOptions{EnvName: name})
}

// Close saves the lockfile and releases the Install DB.
func (s *session) Close() error {
	var errs []error
	if err := s.lock.Save(); err != nil {
		errs = append(errs, err)
	}
	if s.installer != nil {
		if err := s.installer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.handle != nil {
		if err := s.handle.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	s.fetcher.Close()
	return errors.Join(errs...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// release closes s for commands whose result is already reported, logging
// instead of returning the failure.
func (s *session) release() {
	if err := s.Close(); err != nil {
		s.log.Warn("closing session", "error", err)
	}
}
