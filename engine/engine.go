// Package engine implements the release orchestration core: the release
// state machine, the regression cycle manager and the task runner. All
// state lives in the database; every operation re-reads current state
// under the release's lock before mutating it.
package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/git"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

type Engine struct {
	db       *db.Database
	ci       integrations.CI
	tests    integrations.TestManagement // nil when not configured
	tickets  integrations.Ticketing     // nil when not configured
	stores   map[models.Platform]integrations.Store
	notifier integrations.Notifier
	forker   git.BranchForker
	locks    *KeyedLock

	regressionSlots int
	defaultBranch   string
}

type Options struct {
	CI              integrations.CI
	TestManagement  integrations.TestManagement
	Ticketing       integrations.Ticketing
	Stores          map[models.Platform]integrations.Store
	Notifier        integrations.Notifier
	BranchForker    git.BranchForker
	RegressionSlots int
	DefaultBranch   string
}

func New(database *db.Database, opts Options) *Engine {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = integrations.NopNotifier{}
	}

	return &Engine{
		db:              database,
		ci:              opts.CI,
		tests:           opts.TestManagement,
		tickets:         opts.Ticketing,
		stores:          opts.Stores,
		notifier:        notifier,
		forker:          opts.BranchForker,
		locks:           NewKeyedLock(),
		regressionSlots: opts.RegressionSlots,
		defaultBranch:   opts.DefaultBranch,
	}
}

// Locks exposes the per-release serialization boundary so the rollout
// manager can take the same lock for submission operations.
func (e *Engine) Locks() *KeyedLock {
	return e.locks
}

// Kickoff starts a new release train, generates the kickoff task set and
// enters the KICKOFF phase.
func (e *Engine) Kickoff(req *models.KickoffRequest) (*models.Release, error) {
	branch := "release/" + req.VersionName

	// One release train per app: arbitrate on the app, not the branch,
	// so a new version cannot start while the previous one is still open.
	unlock := e.locks.Lock(req.AppID)
	defer unlock()

	existing, err := e.db.GetActiveRelease(req.AppID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("release %s (%s) is already active for app %s", existing.ID, existing.VersionName, req.AppID)
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = e.defaultBranch
	}

	now := time.Now().UTC()
	release := &models.Release{
		ID:          uuid.New().String(),
		AppID:       req.AppID,
		Kind:        models.ReleaseKind(req.Kind),
		Phase:       models.PhaseKickoff,
		Status:      models.ReleaseInProgress,
		PauseReason: models.PauseNone,
		Branch:      branch,
		BaseBranch:  baseBranch,
		VersionName: req.VersionName,
		Platforms:   req.Platforms,
		CreatedBy:   req.CreatedBy,
		KickoffAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.db.CreateRelease(release); err != nil {
		return nil, err
	}
	if err := e.db.CreateTasks(e.kickoffTasks(release)); err != nil {
		return nil, err
	}

	e.notify(integrations.Event{
		Kind:      "release",
		ReleaseID: release.ID,
		Subject:   "kickoff",
		Message:   fmt.Sprintf("release %s kicked off on %s", release.VersionName, release.Branch),
	})

	return release, nil
}

// Advance evaluates the current stage and moves the release forward as far
// as its tasks allow. Calling it on an already-advanced release is a no-op.
func (e *Engine) Advance(releaseID string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()
	return e.advanceLocked(releaseID)
}

func (e *Engine) advanceLocked(releaseID string) error {
	for {
		release, err := e.db.GetRelease(releaseID)
		if err != nil {
			return err
		}
		if release.Status == models.ReleasePaused || !release.Active() {
			return nil
		}

		moved, err := e.step(release)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
	}
}

// step performs at most one phase transition. It returns true when the
// release moved, so the caller can re-evaluate the new phase.
func (e *Engine) step(release *models.Release) (bool, error) {
	switch release.Phase {
	case models.PhaseKickoff:
		done, err := e.stageSatisfied(release, nil)
		if err != nil || !done {
			return false, err
		}
		return true, e.enterPhase(release, models.PhaseAwaitingRegression)

	case models.PhaseAwaitingRegression:
		// First cycle creation belongs to the cron controller.
		return false, nil

	case models.PhaseRegression:
		latest, err := e.db.GetLatestCycle(release.ID)
		if err != nil {
			return false, err
		}
		if latest == nil {
			return false, nil
		}
		done, err := e.stageSatisfied(release, &latest.ID)
		if err != nil || !done {
			return false, err
		}
		return true, e.enterPhase(release, models.PhaseRegressionAwaitingNextCycle)

	case models.PhaseRegressionAwaitingNextCycle:
		count, err := e.db.CountCycles(release.ID)
		if err != nil {
			return false, err
		}
		if count < e.regressionSlots {
			return false, nil
		}
		return true, e.enterPhase(release, models.PhaseAwaitingPostRegression)

	case models.PhaseAwaitingPostRegression:
		if err := e.db.CreateTasks(e.postRegressionTasks(release)); err != nil {
			return false, err
		}
		return true, e.enterPhase(release, models.PhasePostRegression)

	case models.PhasePostRegression:
		done, err := e.stageSatisfied(release, nil)
		if err != nil || !done {
			return false, err
		}
		return true, e.enterPhase(release, models.PhaseAwaitingSubmission)

	case models.PhaseAwaitingSubmission:
		if err := e.db.CreateTasks(e.distributionTasks(release)); err != nil {
			return false, err
		}
		e.notify(integrations.Event{
			Kind:      "release",
			ReleaseID: release.ID,
			Subject:   "submission",
			Message:   fmt.Sprintf("release %s entering store submission", release.VersionName),
		})
		return true, e.enterPhase(release, models.PhaseSubmission)

	case models.PhaseSubmission:
		done, err := e.stageSatisfied(release, nil)
		if err != nil || !done {
			return false, err
		}
		return true, e.enterPhase(release, models.PhaseSubmittedPendingApproval)

	case models.PhaseSubmittedPendingApproval:
		done, err := e.submissionsComplete(release)
		if err != nil || !done {
			return false, err
		}
		e.notify(integrations.Event{
			Kind:      "release",
			ReleaseID: release.ID,
			Subject:   "completed",
			Message:   fmt.Sprintf("release %s is live on all platforms", release.VersionName),
		})
		return true, e.enterPhase(release, models.PhaseCompleted)
	}

	return false, nil
}

// stageSatisfied reports whether every task gating the release's current
// stage is COMPLETED or SKIPPED. An empty task set does not satisfy a
// stage: creation happens-before completion.
func (e *Engine) stageSatisfied(release *models.Release, cycleID *string) (bool, error) {
	tasks, err := e.db.ListStageTasks(release.ID, models.StageForPhase(release.Phase), cycleID)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}
	for _, t := range tasks {
		if !t.Status.Satisfied() {
			return false, nil
		}
	}
	return true, nil
}

// submissionsComplete reports whether every platform has a terminal-success
// submission. A terminal-failure submission blocks completion until the
// operator retries it.
func (e *Engine) submissionsComplete(release *models.Release) (bool, error) {
	submissions, err := e.db.ListSubmissions(release.ID)
	if err != nil {
		return false, err
	}

	live := map[models.Platform]bool{}
	for _, s := range submissions {
		if s.Status == models.SubmissionLive && s.RolloutPct >= 100 {
			live[s.Platform] = true
		}
	}
	for _, p := range release.Platforms {
		if !live[p] {
			return false, nil
		}
	}
	return true, nil
}

func statusForPhase(phase models.ReleasePhase) models.ReleaseStatus {
	switch phase {
	case models.PhaseSubmittedPendingApproval:
		return models.ReleaseSubmitted
	case models.PhaseCompleted:
		return models.ReleaseCompleted
	default:
		return models.ReleaseInProgress
	}
}

func (e *Engine) enterPhase(release *models.Release, phase models.ReleasePhase) error {
	if err := e.db.UpdateReleaseState(release.ID, phase, statusForPhase(phase), models.PauseNone); err != nil {
		return err
	}
	log.Printf("release %s: %s -> %s", release.ID, release.Phase, phase)
	release.Phase = phase
	return nil
}

// Pause suspends scheduling for a release. Legal only in awaiting phases
// and user-pausable in-progress phases.
func (e *Engine) Pause(releaseID, reason string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	release, err := e.db.GetRelease(releaseID)
	if err != nil {
		return err
	}
	if release.Status == models.ReleasePaused {
		return models.NewConflictError("release %s is already paused", releaseID)
	}
	if !release.Active() {
		return models.NewConflictError("cannot pause a %s release", release.Status)
	}
	if !models.IsPausablePhase(release.Phase) {
		return models.NewConflictError("cannot pause a release in phase %s", release.Phase)
	}

	if err := e.db.UpdateReleaseState(releaseID, release.Phase, models.ReleasePaused, models.PauseByUser); err != nil {
		return err
	}

	e.notify(integrations.Event{
		Kind:      "release",
		ReleaseID: releaseID,
		Subject:   "paused",
		Message:   fmt.Sprintf("release paused by user: %s", reason),
	})
	return nil
}

// Resume lifts a pause. After an automatic failure pause the failed task
// must have been retried to completion first.
func (e *Engine) Resume(releaseID string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	release, err := e.db.GetRelease(releaseID)
	if err != nil {
		return err
	}
	if release.Status != models.ReleasePaused {
		return models.NewConflictError("release %s is not paused", releaseID)
	}

	if release.PauseReason == models.PauseByFailure {
		var cycleID *string
		if models.StageForPhase(release.Phase) == models.StageRegression {
			latest, err := e.db.GetLatestCycle(release.ID)
			if err != nil {
				return err
			}
			if latest != nil {
				cycleID = &latest.ID
			}
		}
		tasks, err := e.db.ListStageTasks(release.ID, models.StageForPhase(release.Phase), cycleID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status == models.TaskFailed {
				return models.NewConflictError("task %s (%s) is still failed; retry it before resuming", t.ID, t.Type)
			}
			// A retried task must finish before the pause lifts
			if t.RetryCount > 0 && !t.Status.Satisfied() {
				return models.NewConflictError("task %s (%s) is %s after retry; it must complete before resuming", t.ID, t.Type, t.Status)
			}
		}
	}

	if err := e.db.UpdateReleaseState(releaseID, release.Phase, statusForPhase(release.Phase), models.PauseNone); err != nil {
		return err
	}

	return e.advanceLocked(releaseID)
}

// Archive terminates a release. Allowed only from COMPLETED or a paused
// release; irreversible.
func (e *Engine) Archive(releaseID string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	release, err := e.db.GetRelease(releaseID)
	if err != nil {
		return err
	}
	if release.Status != models.ReleaseCompleted && release.Status != models.ReleasePaused {
		return models.NewConflictError("cannot archive a release in status %s", release.Status)
	}

	return e.db.UpdateReleaseState(releaseID, release.Phase, models.ReleaseArchived, models.PauseNone)
}

// notify fires an event and logs delivery failures. Notification problems
// never roll back engine state.
func (e *Engine) notify(event integrations.Event) {
	if err := e.notifier.Send(event); err != nil {
		log.Printf("failed to send notification for release %s: %v", event.ReleaseID, err)
	}
}
