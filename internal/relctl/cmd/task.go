package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/client"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/output"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and retry release tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list [release-id]",
	Short: "List a release's tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		resp, err := c.ListTasks(args[0])
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Tasks))
			for _, t := range resp.Tasks {
				platform := "-"
				if t.Platform != nil {
					platform = string(*t.Platform)
				}
				rows = append(rows, []string{
					t.ID, string(t.Stage), string(t.Type), platform,
					string(t.Status), t.Conclusion,
				})
			}
			output.PrintTable([]string{"ID", "STAGE", "TYPE", "PLATFORM", "STATUS", "CONCLUSION"}, rows)
		})
	},
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Reset a failed task and re-execute it",
	Long: `Reset a failed task to pending and re-execute it.

The release stays paused until all failed tasks in the current stage
have been retried and you resume it.

Example:
  relctl task retry 42540c4e-... && relctl release resume <release-id>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		task, err := c.RetryTask(args[0])
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Task %s (%s) retried, now %s", task.ID, task.Type, task.Status))
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRetryCmd)
	rootCmd.AddCommand(taskCmd)
}
