package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/client"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/output"
)

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Manage store submissions and staged rollouts",
}

func actorFlag(cmd *cobra.Command) (string, error) {
	actor, _ := cmd.Flags().GetString("by")
	if actor == "" {
		return "", fmt.Errorf("--by is required")
	}
	return actor, nil
}

var rolloutUpdateCmd = &cobra.Command{
	Use:   "update [submission-id] [percent]",
	Short: "Raise an Android staged rollout percentage",
	Long: `Raise an Android staged rollout to the given percentage.

Percentages only move forward; reaching 100 completes the rollout.

Example:
  relctl rollout update 42540c4e-... 25 --by alice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		percent, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid percentage %q", args[1])
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.UpdateRollout(args[0], percent, actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Rollout for %s now at %.1f%%", sub.VersionName, sub.RolloutPct))
		return nil
	},
}

var rolloutPauseCmd = &cobra.Command{
	Use:   "pause [submission-id]",
	Short: "Pause an iOS phased release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.PauseRollout(args[0], actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Rollout for %s paused at %.1f%%", sub.VersionName, sub.RolloutPct))
		return nil
	},
}

var rolloutResumeCmd = &cobra.Command{
	Use:   "resume [submission-id]",
	Short: "Resume a paused iOS phased release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.ResumeRollout(args[0], actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Rollout for %s resumed from %.1f%%", sub.VersionName, sub.RolloutPct))
		return nil
	},
}

var rolloutHaltCmd = &cobra.Command{
	Use:   "halt [submission-id]",
	Short: "Permanently stop distribution of a submitted build",
	Long: `Permanently stop distribution of a submitted build.

A halt is irreversible: shipping again requires a new release. The
command asks for confirmation unless --confirm is given.

Example:
  relctl rollout halt 42540c4e-... --reason "crash loop on startup" --by alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return fmt.Errorf("--reason is required")
		}

		skipConfirm, _ := cmd.Flags().GetBool("confirm")
		if !skipConfirm {
			fmt.Printf("You are about to permanently halt submission %s.\n", args[0])
			fmt.Println("This cannot be undone; shipping again requires a new release.")
			fmt.Print("Continue? (y/n): ")

			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))

			if response != "y" && response != "yes" {
				output.Info("Halt cancelled")
				os.Exit(2)
			}
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.HaltRollout(args[0], reason, actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Submission %s for %s halted", sub.ID, sub.VersionName))
		return nil
	},
}

var rolloutCancelCmd = &cobra.Command{
	Use:   "cancel [submission-id]",
	Short: "Withdraw a submission that has not gone live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return fmt.Errorf("--reason is required")
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.CancelSubmission(args[0], reason, actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Submission %s for %s cancelled", sub.ID, sub.VersionName))
		return nil
	},
}

var rolloutRetryCmd = &cobra.Command{
	Use:   "retry [submission-id]",
	Short: "Resubmit a rejected build to the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		actor, err := actorFlag(cmd)
		if err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		sub, err := c.RetrySubmission(args[0], actor)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Resubmitted %s as submission %s", sub.VersionName, sub.ID))
		return nil
	},
}

var rolloutHistoryCmd = &cobra.Command{
	Use:   "history [submission-id]",
	Short: "Show a submission's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		resp, err := c.ListHistory(args[0])
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.History))
			for _, h := range resp.History {
				rows = append(rows, []string{
					output.FormatTime(h.CreatedAt), string(h.Action),
					h.Actor, h.Reason, h.Detail,
				})
			}
			output.PrintTable([]string{"TIME", "ACTION", "ACTOR", "REASON", "DETAIL"}, rows)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{
		rolloutUpdateCmd, rolloutPauseCmd, rolloutResumeCmd,
		rolloutHaltCmd, rolloutCancelCmd, rolloutRetryCmd,
	} {
		c.Flags().String("by", "", "who is performing the action")
	}
	rolloutHaltCmd.Flags().String("reason", "", "why the rollout is being halted")
	rolloutHaltCmd.Flags().Bool("confirm", false, "skip the confirmation prompt")
	rolloutCancelCmd.Flags().String("reason", "", "why the submission is being cancelled")

	rolloutCmd.AddCommand(rolloutUpdateCmd)
	rolloutCmd.AddCommand(rolloutPauseCmd)
	rolloutCmd.AddCommand(rolloutResumeCmd)
	rolloutCmd.AddCommand(rolloutHaltCmd)
	rolloutCmd.AddCommand(rolloutCancelCmd)
	rolloutCmd.AddCommand(rolloutRetryCmd)
	rolloutCmd.AddCommand(rolloutHistoryCmd)
	rootCmd.AddCommand(rolloutCmd)
}
