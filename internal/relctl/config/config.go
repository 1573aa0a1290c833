package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	apiURL  string
	apiKey  string
)

// InitConfig initializes the shared configuration system
func InitConfig() {
	cobra.OnInitialize(loadConfig)
}

// AddFlags adds common configuration flags to a cobra command
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.release-orchestrator/config.yaml)")
	cmd.PersistentFlags().StringVar(&apiURL, "url", "", "release orchestrator API endpoint")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "release orchestrator API key")

	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("apiKey", cmd.PersistentFlags().Lookup("api-key"))
}

func loadConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".release-orchestrator"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("RELCTL")
	viper.AutomaticEnv()

	// A missing config file is fine; env and flags may carry everything.
	_ = viper.ReadInConfig()
}

// GetAPIURL returns the configured API endpoint
func GetAPIURL() string {
	if apiURL != "" {
		return apiURL
	}
	return viper.GetString("url")
}

// GetAPIKey returns the configured API key
func GetAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return viper.GetString("apiKey")
}

// ValidateConfig validates that required configuration is present
func ValidateConfig() error {
	if GetAPIURL() == "" {
		return fmt.Errorf("API endpoint not configured: set RELCTL_URL, use --url, or add 'url' to the config file")
	}
	if GetAPIKey() == "" {
		return fmt.Errorf("API key not configured: set RELCTL_APIKEY, use --api-key, or add 'apiKey' to the config file")
	}
	return nil
}
