package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/metatypedev/ghjk/internal/ir"
)

// ExecResult is what `x` reports in json mode.
type ExecResult struct {
	Task    string               `json:"task"`
	Order   []string             `json:"order"`
	Results map[string]ir.Object `json:"results,omitempty"`
}

// NewExecCommand creates the x command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "x <task>",
		Short: "Run a task after its dependencies",
		Long: `Run a task and everything it depends on, each once, in dependency order.
Every task runs in its own env, installed on demand.

In json mode task output goes to stderr so stdout stays a single response.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, args[0], cmd)
		},
	}
}

func runExec(opts *RootOptions, key string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	s, err := openSession(cmd, opts)
	if err != nil {
		return formatter.Fail("loading ghjkfile", err)
	}
	defer s.release()

	if _, ok := s.compiled.Config.Tasks[key]; !ok {
		return formatter.Fail("x", &NotFoundError{Kind: "task", Name: key})
	}

	stdout := cmd.OutOrStdout()
	if formatter.Format == "json" {
		stdout = cmd.ErrOrStderr()
	}
	exec, err := s.executor(stdout, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail("preparing executor", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s.log.Debug("running task", "task", key)
	run, err := exec.Exec(ctx, key)
	if err != nil {
		return formatter.Fail("running task", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(ExecResult{Task: key, Order: run.Order, Results: run.Results})
	}
	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Ran %d task(s)\n", len(run.Order))
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM. The command's own context is
// the parent when set.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
}
