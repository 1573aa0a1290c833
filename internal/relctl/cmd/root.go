package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/internal/relctl/config"
)

var (
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "relctl",
	Short: "CLI for the mobile release orchestrator",
	Long: `relctl is a command-line tool for release managers to drive the
mobile release train.

It allows you to:
  - Kick off and inspect releases
  - Pause, resume, approve and archive releases
  - Fire regression cycles and retry failed tasks
  - Manage staged rollouts, halts and submission retries

Configuration:
  Environment variables:
    RELCTL_URL          - orchestrator API endpoint (required)
    RELCTL_APIKEY       - orchestrator API key (required)

  Config file (~/.release-orchestrator/config.yaml):
    url: https://releases.example.com
    apiKey: rk_live_abc123

  CLI flags override environment variables and config file.

Example usage:
  relctl release kickoff my-app 4.12.0 --platforms android,ios --by alice
  relctl release list --app my-app
  relctl rollout update <submission-id> 25 --by alice`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.InitConfig()
	config.AddFlags(rootCmd)

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// GetAPIURL returns the configured API endpoint
func GetAPIURL() string {
	return config.GetAPIURL()
}

// GetAPIKey returns the configured API key
func GetAPIKey() string {
	return config.GetAPIKey()
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// ValidateConfig validates that required configuration is present
func ValidateConfig() error {
	return config.ValidateConfig()
}
