package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/metatypedev/ghjk/internal/ir"
)

// InstallInfo describes one install, either synced or recorded in the
// Install DB.
type InstallInfo struct {
	ID       string `json:"id"`
	Port     string `json:"port"`
	Version  string `json:"version"`
	Progress string `json:"progress,omitempty"`
	User     bool   `json:"user,omitempty"`
}

// NewPortsCommand creates the ports command group.
func NewPortsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Resolve and install tool versions",
	}
	cmd.AddCommand(newPortsSyncCommand(rootOpts))
	cmd.AddCommand(newPortsListCommand(rootOpts))
	return cmd
}

func newPortsSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [env]",
		Short: "Install everything an env needs",
		Long: `Resolve the env's install set against the lockfile, then download and
install every node of its dependency graph that is not yet installed.
Resolutions are recorded in the lockfile. Defaults to the default env.`,
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
				return formatter.Fail("sync", err)
			}
			if _, err := s.store(); err != nil {
				return formatter.Fail("opening install db", err)
			}
			recipe, err := s.compiled.Config.EnvRecipe(name)
			if err != nil {
				return formatter.Fail("sync", err)
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			var synced []InstallInfo
			for _, prov := range recipe.Provides {
				if prov.Kind != ir.KindInstallSetRef {
					continue
				}
				set, err := s.compiled.Config.InstallSet(prov.SetID)
				if err != nil {
					return formatter.Fail("sync", err)
				}
				g, _, err := s.installer.Sync(ctx, set)
				if err != nil {
					return formatter.Fail(fmt.Sprintf("syncing env %s", name), err)
				}
				for _, id := range slices.Sorted(maps.Keys(g.All)) {
					cfg := g.All[id]
					synced = append(synced, InstallInfo{
						ID:      id,
						Port:    cfg.Port,
						Version: cfg.Version,
						User:    slices.Contains(g.User, id),
					})
				}
			}

			if formatter.Format == "json" {
				return formatter.Success(synced)
			}
			fmt.Fprintf(formatter.Writer, "✓ Synced env %s: %d install(s)\n", name, len(synced))
			for _, in := range synced {
				marker := " "
				if in.User {
					marker = "*"
				}
				fmt.Fprintf(formatter.Writer, "  %s %s@%s (%s)\n", marker, in.Port, in.Version, shortID(in.ID))
			}
			return nil
		},
	}
}

func newPortsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Short:         "List installs recorded in the Install DB",
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

			st, err := s.store()
			if err != nil {
				return formatter.Fail("opening install db", err)
			}
			rows, err := st.All(commandContext(cmd))
			if err != nil {
				return formatter.Fail("reading install db", err)
			}

			infos := make([]InstallInfo, 0, len(rows))
			for _, r := range rows {
				infos = append(infos, InstallInfo{
					ID:       r.InstallID,
					Port:     r.Config.Port,
					Version:  r.Config.Version,
					Progress: string(r.Progress),
				})
			}
			if formatter.Format == "json" {
				return formatter.Success(infos)
			}
			table := make([][]string, 0, len(infos))
			for _, in := range infos {
				table = append(table, []string{shortID(in.ID), in.Port, in.Version, in.Progress})
			}
			formatter.Table([]string{"ID", "PORT", "VERSION", "PROGRESS"}, table)
			return nil
		},
	}
}
