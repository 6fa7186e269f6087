package cli

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
)

// EnvInfo describes one env in `envs ls`.
type EnvInfo struct {
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	RecipeID string `json:"recipe_id"`
	Default  bool   `json:"default,omitempty"`
}

// CookResult is what `envs cook` reports.
type CookResult struct {
	Env      string `json:"env"`
	Dir      string `json:"dir"`
	Activate string `json:"activate"`
	Fish     string `json:"activate_fish"`
	Vars     int    `json:"vars"`
}

// NewEnvsCommand creates the envs command group.
func NewEnvsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envs",
		Short: "List and materialize envs",
	}
	cmd.AddCommand(newEnvsListCommand(rootOpts))
	cmd.AddCommand(newEnvsCookCommand(rootOpts))
	return cmd
}

func newEnvsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Short:         "List declared envs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			s, err := openSession(cmd, opts)
			if err != nil {
				return formatter.Fail("loading ghjkfile", err)
			}
			defer s.release()

			cfg := s.compiled.Config
			var infos []EnvInfo
			for _, name := range slices.Sorted(maps.Keys(cfg.Envs)) {
				info := EnvInfo{Name: name, RecipeID: cfg.Envs[name], Default: name == cfg.DefaultEnv}
				if recipe, err := cfg.Recipe(cfg.Envs[name]); err == nil {
					info.Desc = recipe.Desc
				}
				infos = append(infos, info)
			}
			if formatter.Format == "json" {
				return formatter.Success(infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				name := info.Name
				if info.Default {
					name += " *"
				}
				rows = append(rows, []string{name, shortID(info.RecipeID), info.Desc})
			}
			formatter.Table([]string{"ENV", "RECIPE", "DESC"}, rows)
			return nil
		},
	}
}

func newEnvsCookCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cook [env]",
		Short: "Install and materialize an env",
		Long: `Reduce the env's recipe, installing its tools and running the tasks behind
its dynamic vars, then write shims and activation scripts under
<data-dir>/envs/<env>. Defaults to the default env.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			s, err := openSession(cmd, opts)
			if err != nil {
				return formatter.Fail("loading ghjkfile", err)
			}
			defer s.release()

			name, err := s.envName(args)
			if err != nil {
				return formatter.Fail("cook", err)
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			cooked, err := s.cookEnv(ctx, name, cmd.ErrOrStderr(), cmd.ErrOrStderr())
			if err != nil {
				return formatter.Fail(fmt.Sprintf("cooking env %s", name), err)
			}

			res := CookResult{
				Env:      name,
				Dir:      cooked.Dir,
				Activate: filepath.Join(cooked.Dir, "activate.sh"),
				Fish:     filepath.Join(cooked.Dir, "activate.fish"),
				Vars:     len(cooked.Vars),
			}
			if formatter.Format == "json" {
				return formatter.Success(res)
			}
			fmt.Fprintf(formatter.Writer, "✓ Cooked env %s\n", name)
			fmt.Fprintf(formatter.Writer, "  source %s\n", res.Activate)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
