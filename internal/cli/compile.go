package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/metatypedev/ghjk/internal/compiler"
	"github.com/metatypedev/ghjk/internal/installs"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompileSummary is what compile reports.
type CompileSummary struct {
	Hash       string   `json:"hash"`
	DefaultEnv string   `json:"default_env"`
	Envs       int      `json:"envs"`
	Tasks      int      `json:"tasks"`
	Objects    int      `json:"objects"`
	Ports      []string `json:"ports"`
	Pruned     int      `json:"pruned"` // stale lockfile resolutions dropped
	Output     string   `json:"output"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the ghjkfile to a module config",
		Long: `Compile the CUE ghjkfile in --dir into the module config: envs and tasks
keyed to recipes and install sets on a content-addressed blackboard.

The config is written as JSON to <data-dir>/config.json unless -o is given,
and its hash is recorded in the lockfile. Lockfile resolutions no install
set of the new config can reach are dropped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		if compileErr, ok := asCompileErrors(err); ok && formatter.Format == "text" {
			return outputCompileErrors(formatter, compileErr, err)
		}
		return formatter.Fail("compile failed", err)
	}

	out := opts.Output
	if out == "" {
		out = s.cfg.ConfigPath()
	}
	if err := writeConfig(s.compiled.Config, out); err != nil {
		_ = s.Close()
		_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing config: %v", err), nil)
		return WrapExitError(ExitFailure, "writing config", err)
	}
	s.lock.SetModuleHash(s.compiled.Hash)
	pruned, err := installs.PruneLock(s.lock, s.registry, s.compiled.Config)
	if err != nil {
		_ = s.Close()
		return formatter.Fail("pruning lockfile", err)
	}
	if pruned > 0 {
		s.log.Debug("pruned stale lockfile resolutions", "count", pruned)
	}
	if err := s.Close(); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("saving lockfile: %v", err), nil)
		return WrapExitError(ExitFailure, "saving lockfile", err)
	}

	summary := CompileSummary{
		Hash:       s.compiled.Hash,
		DefaultEnv: s.compiled.Config.DefaultEnv,
		Envs:       len(s.compiled.Config.Envs),
		Tasks:      len(s.compiled.Config.Tasks),
		Objects:    len(s.compiled.Config.Blackboard),
		Ports:      s.registry.Names(),
		Pruned:     pruned,
		Output:     out,
	}
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d env(s), %d task(s), %d port(s)\n", summary.Envs, summary.Tasks, len(summary.Ports))
	fmt.Fprintf(w, "  default env: %s\n", summary.DefaultEnv)
	fmt.Fprintf(w, "  blackboard:  %d object(s)\n", summary.Objects)
	fmt.Fprintf(w, "  hash:        %s\n", summary.Hash)
	if summary.Pruned > 0 {
		fmt.Fprintf(w, "  lockfile:    pruned %d stale resolution(s)\n", summary.Pruned)
	}
	fmt.Fprintf(w, "Wrote module config to %s\n", out)
	return nil
}

// asCompileErrors unwraps the list of errors a failed compile joined.
func asCompileErrors(err error) ([]error, bool) {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil, false
	}
	return joined.Unwrap(), true
}

// outputCompileErrors prints every validation failure, with its CUE position
// when there is one.
func outputCompileErrors(formatter *OutputFormatter, errs []error, err error) error {
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		code, _ := Classify(e)
		if ce, ok := e.(*compiler.CompileError); ok && ce.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", ce.Pos.Filename(), ce.Pos.Line(), ce.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %v\n", code, e)
	}
	return WrapExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)), err)
}

// writeConfig writes cfg as indented JSON. The canonical form is only used
// for hashing.
func writeConfig(cfg any, filename string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
