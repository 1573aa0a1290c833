package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

// CreateCycle finalizes the current latest regression cycle, inserts the
// next one with its task set and moves the release into REGRESSION. Cycle
// creation is serialized per release; two concurrent triggers cannot both
// create the "next" cycle.
func (e *Engine) CreateCycle(releaseID string) (*models.RegressionCycle, error) {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	release, err := e.db.GetRelease(releaseID)
	if err != nil {
		return nil, err
	}
	if release.Status == models.ReleasePaused {
		return nil, models.NewConflictError("release %s is paused", releaseID)
	}
	if !release.Active() {
		return nil, models.NewConflictError("cannot create a cycle for a %s release", release.Status)
	}

	switch release.Phase {
	case models.PhaseAwaitingRegression, models.PhaseRegression, models.PhaseRegressionAwaitingNextCycle:
	default:
		return nil, models.NewConflictError("cannot create a regression cycle in phase %s", release.Phase)
	}

	count, err := e.db.CountCycles(releaseID)
	if err != nil {
		return nil, err
	}

	seq := count + 1
	now := time.Now().UTC()
	cycle := &models.RegressionCycle{
		ID:        uuid.New().String(),
		ReleaseID: releaseID,
		Seq:       seq,
		Tag:       models.CycleTag(release.ShortID(), seq),
		Status:    models.CycleInProgress,
		IsLatest:  true,
		CreatedAt: now,
	}

	tasks := e.cycleTasks(release, cycle, seq == 1)
	if err := e.db.CreateCycleWithTasks(cycle, tasks); err != nil {
		return nil, err
	}

	if release.Phase != models.PhaseRegression {
		if err := e.enterPhase(release, models.PhaseRegression); err != nil {
			return nil, err
		}
	}

	e.notify(integrations.Event{
		Kind:      "release",
		ReleaseID: releaseID,
		Subject:   "regression_cycle",
		Message:   fmt.Sprintf("regression cycle %s started", cycle.Tag),
	})

	return cycle, nil
}
