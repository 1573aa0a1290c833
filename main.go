package main

import (
	"flag"
	"log"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/api"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/engine"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/git"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/rollout"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/scheduler"
)

func main() {
	configPath := flag.String("config", "/etc/release-orchestrator/config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Initialize Git client for release branch forking
	gitClient, err := git.NewClient(
		cfg.Git.RepositoryURL,
		cfg.Git.LocalPath,
		cfg.Git.Username,
		cfg.Git.Token,
	)
	if err != nil {
		log.Fatalf("Failed to initialize git client: %v", err)
	}

	log.Printf("Git client initialized (repo: %s)", cfg.Git.RepositoryURL)

	// Integration clients. Test management and ticketing are optional;
	// the engine degrades to skipping suite tasks and manual approval.
	ints := cfg.Integrations
	ci := integrations.NewCIClient(ints.CI.BaseURL, ints.CI.Token, timeout(ints.CI.TimeoutSeconds))

	var tests integrations.TestManagement
	if cfg.TestManagementConfigured() {
		tests = integrations.NewTestManagementClient(ints.TestManagement.BaseURL, ints.TestManagement.Token, timeout(ints.TestManagement.TimeoutSeconds))
	}

	var tickets integrations.Ticketing
	if cfg.TicketingConfigured() {
		tickets = integrations.NewTicketClient(ints.Ticketing.BaseURL, ints.Ticketing.Token, ints.Ticketing.ProjectKey, timeout(ints.Ticketing.TimeoutSeconds))
	}

	stores := map[models.Platform]integrations.Store{}
	if ints.PlayStore.BaseURL != "" {
		stores[models.PlatformAndroid] = integrations.NewStoreClient(ints.PlayStore.BaseURL, ints.PlayStore.Token, ints.PlayStore.AppIdentifier, timeout(ints.PlayStore.TimeoutSeconds))
	}
	if ints.AppStore.BaseURL != "" {
		stores[models.PlatformIOS] = integrations.NewStoreClient(ints.AppStore.BaseURL, ints.AppStore.Token, ints.AppStore.AppIdentifier, timeout(ints.AppStore.TimeoutSeconds))
	}

	var notifier integrations.Notifier
	if ints.Notify.WebhookURL != "" {
		notifier = integrations.NewNotifyClient(ints.Notify.WebhookURL, timeout(ints.Notify.TimeoutSeconds))
	}

	// Orchestration core
	eng := engine.New(database, engine.Options{
		CI:              ci,
		TestManagement:  tests,
		Ticketing:       tickets,
		Stores:          stores,
		Notifier:        notifier,
		BranchForker:    gitClient,
		RegressionSlots: len(cfg.Schedule.RegressionSlotHours),
		DefaultBranch:   cfg.Git.DefaultBranch,
	})

	rollouts := rollout.NewManager(database, stores, notifier, eng.Locks())

	sched, err := scheduler.New(database, eng, rollouts, cfg.Schedule)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Create and start API server
	server := api.NewServer(cfg, database, eng, rollouts, gitClient)

	log.Printf("Starting Release Orchestrator v%s", api.Version)

	if err := server.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
