// Package scheduler runs the polling controller that moves releases
// forward without human input: it fires regression cycles when their
// scheduled slots come due, executes pending tasks and syncs store
// review verdicts back into the rollout state machine.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/engine"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/rollout"
)

type Controller struct {
	db       *db.Database
	engine   *engine.Engine
	rollouts *rollout.Manager

	interval  time.Duration
	location  *time.Location
	working   map[time.Weekday]bool
	slotHours []int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(database *db.Database, eng *engine.Engine, rollouts *rollout.Manager, cfg config.ScheduleConfig) (*Controller, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &Controller{
		db:        database,
		engine:    eng,
		rollouts:  rollouts,
		interval:  cfg.PollInterval(),
		location:  loc,
		working:   cfg.WorkingDayMask(),
		slotHours: cfg.RegressionSlotHours,
	}, nil
}

// Start launches the poll loop. The first pass runs immediately.
func (c *Controller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx)
	log.Printf("Scheduler started, polling every %s", c.interval)
}

// Stop cancels the loop and waits for the in-flight pass to finish, so
// cycle and task writes complete before shutdown proceeds.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	log.Printf("Scheduler stopped")
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.pass(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.pass(now)
		}
	}
}

// pass is one scheduler iteration over all active releases.
func (c *Controller) pass(now time.Time) {
	releases, err := c.db.ListActiveReleases()
	if err != nil {
		log.Printf("Scheduler: failed to list active releases: %v", err)
		return
	}

	for i := range releases {
		c.tick(&releases[i], now)
	}

	c.syncSubmissions()
}

func (c *Controller) tick(release *models.Release, now time.Time) {
	if release.Status == models.ReleasePaused {
		return
	}

	if c.cycleEligible(release.Phase) {
		created, err := c.db.CountCycles(release.ID)
		if err != nil {
			log.Printf("Scheduler: failed to count cycles for release %s: %v", release.ID, err)
			return
		}
		due := c.slotsDue(release.KickoffAt, now)
		if created < due {
			if _, err := c.engine.CreateCycle(release.ID); err != nil {
				if !models.IsConflict(err) {
					log.Printf("Scheduler: failed to create cycle for release %s: %v", release.ID, err)
				}
			}
		}
	}

	if err := c.engine.RunPendingTasks(release.ID); err != nil {
		log.Printf("Scheduler: task run failed for release %s: %v", release.ID, err)
	}
}

func (c *Controller) cycleEligible(phase models.ReleasePhase) bool {
	switch phase {
	case models.PhaseAwaitingRegression, models.PhaseRegression, models.PhaseRegressionAwaitingNextCycle:
		return true
	}
	return false
}

// slotsDue counts the configured regression slots whose due time has
// passed. Slot offsets are working hours from kickoff: hours that fall
// on non-working days do not count toward the offset.
func (c *Controller) slotsDue(kickoff, now time.Time) int {
	due := 0
	for _, hours := range c.slotHours {
		if !c.slotDueAt(kickoff, hours).After(now) {
			due++
		}
	}
	return due
}

func (c *Controller) slotDueAt(kickoff time.Time, hours int) time.Time {
	// Without working days every hour counts; the walk below would
	// otherwise never terminate.
	if len(c.working) == 0 {
		return kickoff.In(c.location).Add(time.Duration(hours) * time.Hour)
	}

	t := kickoff.In(c.location)
	for remaining := hours; remaining > 0; {
		if !c.working[t.Weekday()] {
			// Jump to the start of the next day.
			next := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.location).Add(24 * time.Hour)
			t = next
			continue
		}
		t = t.Add(time.Hour)
		if c.working[t.Weekday()] {
			remaining--
		}
	}
	return t
}

func (c *Controller) syncSubmissions() {
	touched, err := c.rollouts.SyncAll()
	if err != nil {
		log.Printf("Scheduler: submission sync failed: %v", err)
		return
	}
	for _, releaseID := range touched {
		if err := c.engine.Advance(releaseID); err != nil {
			log.Printf("Scheduler: failed to advance release %s after sync: %v", releaseID, err)
		}
	}
}
