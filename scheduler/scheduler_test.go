package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/engine"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/rollout"
)

func weekdayController(slotHours ...int) *Controller {
	return &Controller{
		location: time.UTC,
		working: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		slotHours: slotHours,
	}
}

func TestSlotDueAtWithinWorkingWeek(t *testing.T) {
	c := weekdayController()

	// Monday morning kickoff, slot entirely inside the working week.
	kickoff := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	due := c.slotDueAt(kickoff, 24)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), due)

	due = c.slotDueAt(kickoff, 72)
	assert.Equal(t, time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC), due)
}

func TestSlotDueAtSkipsWeekend(t *testing.T) {
	c := weekdayController()

	// Friday evening kickoff: 5 working hours remain on Friday, the rest
	// carry over to Monday.
	kickoff := time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)
	due := c.slotDueAt(kickoff, 12)
	assert.Equal(t, time.Date(2026, 9, 7, 7, 0, 0, 0, time.UTC), due)
}

func TestSlotDueAtKickoffOnWeekend(t *testing.T) {
	c := weekdayController()

	// Saturday kickoff counts nothing until Monday midnight.
	kickoff := time.Date(2026, 9, 5, 15, 0, 0, 0, time.UTC)
	due := c.slotDueAt(kickoff, 2)
	assert.Equal(t, time.Date(2026, 9, 7, 2, 0, 0, 0, time.UTC), due)
}

func TestSlotDueAtHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	require.NoError(t, err)

	c := weekdayController()
	c.location = loc

	// 23:30 UTC Friday is already Saturday in Copenhagen, so the whole
	// slot shifts past the weekend.
	kickoff := time.Date(2026, 9, 4, 23, 30, 0, 0, time.UTC)
	due := c.slotDueAt(kickoff, 1)
	assert.Equal(t, time.Date(2026, 9, 7, 1, 0, 0, 0, loc), due)
}

func TestSlotDueAtEmptyMaskUsesWallClock(t *testing.T) {
	c := &Controller{location: time.UTC, working: map[time.Weekday]bool{}}

	// With no working days the slot is plain hours from kickoff rather
	// than a walk that never finds a countable hour.
	kickoff := time.Date(2026, 9, 5, 15, 0, 0, 0, time.UTC)
	due := c.slotDueAt(kickoff, 24)
	assert.Equal(t, kickoff.Add(24*time.Hour), due)
}

func TestSlotsDue(t *testing.T) {
	c := weekdayController(24, 72, 120)
	kickoff := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, c.slotsDue(kickoff, kickoff.Add(time.Hour)))
	assert.Equal(t, 1, c.slotsDue(kickoff, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, c.slotsDue(kickoff, time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)))
	// The 120h slot crosses the weekend and lands Monday morning.
	assert.Equal(t, 2, c.slotsDue(kickoff, time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 3, c.slotsDue(kickoff, time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC)))
}

func TestCycleEligible(t *testing.T) {
	c := weekdayController()

	eligible := []models.ReleasePhase{
		models.PhaseAwaitingRegression,
		models.PhaseRegression,
		models.PhaseRegressionAwaitingNextCycle,
	}
	for _, phase := range eligible {
		assert.True(t, c.cycleEligible(phase), "phase %s", phase)
	}

	notEligible := []models.ReleasePhase{
		models.PhaseNotStarted,
		models.PhaseKickoff,
		models.PhaseAwaitingPostRegression,
		models.PhasePostRegression,
		models.PhaseAwaitingSubmission,
		models.PhaseSubmission,
		models.PhaseCompleted,
	}
	for _, phase := range notEligible {
		assert.False(t, c.cycleEligible(phase), "phase %s", phase)
	}
}

func TestNewRejectsInvalidTimezone(t *testing.T) {
	_, err := New(nil, nil, nil, config.ScheduleConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	eng := engine.New(database, engine.Options{RegressionSlots: 3, DefaultBranch: "main"})
	rollouts := rollout.NewManager(database, nil, nil, eng.Locks())

	c, err := New(database, eng, rollouts, config.ScheduleConfig{
		PollIntervalSeconds: 1,
		Timezone:            "UTC",
		WorkingDays:         []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		RegressionSlotHours: []int{24, 72, 120},
	})
	require.NoError(t, err)

	c.Start()
	c.Stop()

	// Stop on a never-started controller is a no-op.
	(&Controller{}).Stop()
}
