package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// TaskInfo describes one task in `tasks ls`.
type TaskInfo struct {
	Key       string   `json:"key"`
	Desc      string   `json:"desc,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	EnvID     string   `json:"env_id"`
}

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect declared tasks",
	}
	cmd.AddCommand(newTasksListCommand(rootOpts))
	return cmd
}

func newTasksListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ls",
		Short:         "List tasks and their dependencies",
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

			tasks := s.compiled.Config.Tasks
			infos := make([]TaskInfo, 0, len(tasks))
			for _, key := range s.compiled.Graph.Nodes() {
				t := tasks[key]
				infos = append(infos, TaskInfo{Key: key, Desc: t.Desc, DependsOn: t.DependsOn, EnvID: t.EnvID})
			}
			if formatter.Format == "json" {
				return formatter.Success(infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, in := range infos {
				deps := make([]string, len(in.DependsOn))
				for i, d := range in.DependsOn {
					deps[i] = taskLabel(d)
				}
				rows = append(rows, []string{taskLabel(in.Key), strings.Join(deps, ","), in.Desc})
			}
			formatter.Table([]string{"TASK", "DEPENDS ON", "DESC"}, rows)
			return nil
		},
	}
}

// taskLabel shortens the hash keys of anonymous tasks.
func taskLabel(key string) string {
	if len(key) == 64 && strings.Trim(key, "0123456789abcdef") == "" {
		return shortID(key)
	}
	return key
}
