package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Git          GitConfig          `yaml:"git"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []APIKey `yaml:"api_keys"`
}

type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GitConfig struct {
	RepositoryURL string `yaml:"repository_url"`
	DefaultBranch string `yaml:"default_branch"`
	Username      string `yaml:"username"`
	Token         string `yaml:"token"`
	LocalPath     string `yaml:"local_path"`
	AuthorName    string `yaml:"author_name"`
	AuthorEmail   string `yaml:"author_email"`
}

// ScheduleConfig drives the cron controller: slot offsets are hours from
// kickoff, shifted forward past non-working days in the given timezone.
type ScheduleConfig struct {
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	Timezone            string   `yaml:"timezone"`
	WorkingDays         []string `yaml:"working_days"`
	RegressionSlotHours []int    `yaml:"regression_slot_hours"`
}

type IntegrationsConfig struct {
	CI             EndpointConfig `yaml:"ci"`
	TestManagement EndpointConfig `yaml:"test_management"`
	Ticketing      TicketConfig   `yaml:"ticketing"`
	PlayStore      StoreConfig    `yaml:"playstore"`
	AppStore       StoreConfig    `yaml:"appstore"`
	Notify         NotifyConfig   `yaml:"notify"`
}

type EndpointConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TicketConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	ProjectKey     string `yaml:"project_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StoreConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	AppIdentifier  string `yaml:"app_identifier"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	dataStr := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/releases.db"
	}
	if cfg.Git.DefaultBranch == "" {
		cfg.Git.DefaultBranch = "main"
	}
	if cfg.Git.LocalPath == "" {
		cfg.Git.LocalPath = "/data/app-repo"
	}
	if cfg.Schedule.PollIntervalSeconds == 0 {
		cfg.Schedule.PollIntervalSeconds = 60
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "UTC"
	}
	if len(cfg.Schedule.WorkingDays) == 0 {
		cfg.Schedule.WorkingDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}
	}
	if len(cfg.Schedule.RegressionSlotHours) == 0 {
		cfg.Schedule.RegressionSlotHours = []int{24, 72, 120}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	for _, ep := range []*int{
		&cfg.Integrations.CI.TimeoutSeconds,
		&cfg.Integrations.TestManagement.TimeoutSeconds,
		&cfg.Integrations.Ticketing.TimeoutSeconds,
		&cfg.Integrations.PlayStore.TimeoutSeconds,
		&cfg.Integrations.AppStore.TimeoutSeconds,
		&cfg.Integrations.Notify.TimeoutSeconds,
	} {
		if *ep == 0 {
			*ep = 30
		}
	}

	if _, err := cfg.Schedule.Location(); err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	for _, d := range cfg.Schedule.WorkingDays {
		if _, ok := weekdayNames[d]; !ok {
			return nil, fmt.Errorf("invalid working day %q: use Sun..Sat", d)
		}
	}

	return &cfg, nil
}

func (c *Config) ValidateAPIKey(key string) bool {
	for _, ak := range c.Server.APIKeys {
		if ak.Key == key {
			return true
		}
	}
	return false
}

// TestManagementConfigured reports whether test-suite tasks should be
// generated at all.
func (c *Config) TestManagementConfigured() bool {
	return c.Integrations.TestManagement.BaseURL != ""
}

// TicketingConfigured reports whether release approval goes through a
// project-management ticket; otherwise approval is manual.
func (c *Config) TicketingConfigured() bool {
	return c.Integrations.Ticketing.BaseURL != ""
}

func (s *ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// WorkingDayMask maps weekdays to whether regression slots may fire on them.
func (s *ScheduleConfig) WorkingDayMask() map[time.Weekday]bool {
	mask := make(map[time.Weekday]bool, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		if wd, ok := weekdayNames[d]; ok {
			mask[wd] = true
		}
	}
	return mask
}

func (s *ScheduleConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}
