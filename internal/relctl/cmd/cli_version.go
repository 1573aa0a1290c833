package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version of relctl
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

var cliVersionCmd = &cobra.Command{
	Use:   "cli-version",
	Short: "Show relctl version",
	Long:  `Display the version information for relctl.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relctl version %s\n", Version)
		fmt.Printf("commit: %s\n", GitCommit)
		fmt.Printf("built: %s\n", BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(cliVersionCmd)
}
