package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/client"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/output"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Manage releases",
}

var releaseKickoffCmd = &cobra.Command{
	Use:   "kickoff [app-id] [version-name]",
	Short: "Kick off a new release train",
	Long: `Kick off a new release train for an app.

Example:
  relctl release kickoff my-app 4.12.0 --platforms android,ios --by alice
  relctl release kickoff my-app 4.12.1 --kind hotfix --base-branch release/4.12.0 --by alice`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		kind, _ := cmd.Flags().GetString("kind")
		baseBranch, _ := cmd.Flags().GetString("base-branch")
		platformsStr, _ := cmd.Flags().GetString("platforms")
		createdBy, _ := cmd.Flags().GetString("by")

		if createdBy == "" {
			return fmt.Errorf("--by is required")
		}

		var platforms []models.Platform
		for _, p := range strings.Split(platformsStr, ",") {
			if p = strings.TrimSpace(p); p != "" {
				platforms = append(platforms, models.Platform(p))
			}
		}
		if len(platforms) == 0 {
			return fmt.Errorf("--platforms is required")
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		release, err := c.Kickoff(models.KickoffRequest{
			AppID:       args[0],
			Kind:        strings.ToUpper(kind),
			VersionName: args[1],
			BaseBranch:  baseBranch,
			Platforms:   platforms,
			CreatedBy:   createdBy,
		})
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Release %s kicked off", release.VersionName))
		fmt.Printf("  Release ID: %s\n", release.ID)
		fmt.Printf("  Branch:     %s\n", release.Branch)
		return nil
	},
}

var releaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		appID, _ := cmd.Flags().GetString("app")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		resp, err := c.ListReleases(appID, limit, offset)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Releases))
			for _, r := range resp.Releases {
				rows = append(rows, []string{
					r.ID, r.AppID, r.VersionName, string(r.Kind),
					string(r.Phase), string(r.Status),
					output.FormatTime(r.KickoffAt),
				})
			}
			output.PrintTable([]string{"ID", "APP", "VERSION", "KIND", "PHASE", "STATUS", "KICKOFF"}, rows)
			fmt.Printf("\nShowing %d of %d releases\n", len(resp.Releases), resp.Total)
		})
	},
}

var releaseGetCmd = &cobra.Command{
	Use:   "get [release-id]",
	Short: "Show a release with its cycles and submissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		resp, err := c.GetRelease(args[0])
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			r := resp.Release
			fmt.Printf("Release:  %s (%s %s)\n", r.ID, r.AppID, r.VersionName)
			fmt.Printf("Kind:     %s\n", r.Kind)
			fmt.Printf("Phase:    %s\n", r.Phase)
			fmt.Printf("Status:   %s", r.Status)
			if r.PauseReason != models.PauseNone {
				fmt.Printf(" (paused by %s)", strings.ToLower(string(r.PauseReason)))
			}
			fmt.Println()
			fmt.Printf("Branch:   %s\n", r.Branch)
			fmt.Printf("Kickoff:  %s\n", output.FormatTime(r.KickoffAt))

			if len(resp.Cycles) > 0 {
				fmt.Println("\nRegression cycles:")
				rows := make([][]string, 0, len(resp.Cycles))
				for _, cy := range resp.Cycles {
					latest := ""
					if cy.IsLatest {
						latest = "*"
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", cy.Seq), cy.Tag, string(cy.Status), latest,
					})
				}
				output.PrintTable([]string{"SEQ", "TAG", "STATUS", "LATEST"}, rows)
			}

			if len(resp.Submissions) > 0 {
				fmt.Println("\nSubmissions:")
				rows := make([][]string, 0, len(resp.Submissions))
				for _, s := range resp.Submissions {
					rows = append(rows, []string{
						s.ID, string(s.Platform), string(s.Status),
						fmt.Sprintf("%.1f%%", s.RolloutPct),
					})
				}
				output.PrintTable([]string{"ID", "PLATFORM", "STATUS", "ROLLOUT"}, rows)
			}
		})
	},
}

var releasePauseCmd = &cobra.Command{
	Use:   "pause [release-id]",
	Short: "Pause a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		release, err := c.Pause(args[0], reason)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Release %s paused in phase %s", release.VersionName, release.Phase))
		return nil
	},
}

var releaseResumeCmd = &cobra.Command{
	Use:   "resume [release-id]",
	Short: "Resume a paused release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		release, err := c.Resume(args[0])
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Release %s resumed in phase %s", release.VersionName, release.Phase))
		return nil
	},
}

var releaseArchiveCmd = &cobra.Command{
	Use:   "archive [release-id]",
	Short: "Archive a completed or abandoned release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		release, err := c.Archive(args[0])
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Release %s archived", release.VersionName))
		return nil
	},
}

var releaseApproveCmd = &cobra.Command{
	Use:   "approve [release-id]",
	Short: "Approve a release awaiting manual approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		approvedBy, _ := cmd.Flags().GetString("by")
		if approvedBy == "" {
			return fmt.Errorf("--by is required")
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		release, err := c.Approve(args[0], approvedBy)
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Release %s approved by %s", release.VersionName, approvedBy))
		return nil
	},
}

var releaseCycleCmd = &cobra.Command{
	Use:   "cycle [release-id]",
	Short: "Fire a regression cycle manually",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetAPIURL(), GetAPIKey())
		cycle, err := c.CreateCycle(args[0])
		if err != nil {
			return err
		}

		output.Success(fmt.Sprintf("Regression cycle %s created (seq %d)", cycle.Tag, cycle.Seq))
		return nil
	},
}

func init() {
	releaseKickoffCmd.Flags().String("kind", "planned", "release kind (planned, hotfix, major)")
	releaseKickoffCmd.Flags().String("base-branch", "", "branch to fork the release branch from")
	releaseKickoffCmd.Flags().String("platforms", "", "comma-separated target platforms (android, ios)")
	releaseKickoffCmd.Flags().String("by", "", "who is kicking off the release")

	releaseListCmd.Flags().String("app", "", "filter by app id")
	releaseListCmd.Flags().Int("limit", 20, "maximum releases to return")
	releaseListCmd.Flags().Int("offset", 0, "pagination offset")

	releasePauseCmd.Flags().String("reason", "", "why the release is being paused")
	releaseApproveCmd.Flags().String("by", "", "who is approving the release")

	releaseCmd.AddCommand(releaseKickoffCmd)
	releaseCmd.AddCommand(releaseListCmd)
	releaseCmd.AddCommand(releaseGetCmd)
	releaseCmd.AddCommand(releasePauseCmd)
	releaseCmd.AddCommand(releaseResumeCmd)
	releaseCmd.AddCommand(releaseArchiveCmd)
	releaseCmd.AddCommand(releaseApproveCmd)
	releaseCmd.AddCommand(releaseCycleCmd)
	rootCmd.AddCommand(releaseCmd)
}
