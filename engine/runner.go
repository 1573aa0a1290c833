package engine

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

// RunPendingTasks executes every runnable task of the release's current
// stage and then tries to advance. PENDING tasks are started; IN_PROGRESS
// approval checks and AWAITING_CALLBACK build tasks are polled as a
// backstop for missed callbacks.
func (e *Engine) RunPendingTasks(releaseID string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	release, err := e.db.GetRelease(releaseID)
	if err != nil {
		return err
	}
	if release.Status == models.ReleasePaused || !release.Active() {
		return nil
	}

	var cycleID *string
	if models.StageForPhase(release.Phase) == models.StageRegression {
		latest, err := e.db.GetLatestCycle(release.ID)
		if err != nil {
			return err
		}
		if latest == nil {
			return nil
		}
		cycleID = &latest.ID
	}

	tasks, err := e.db.ListStageTasks(release.ID, models.StageForPhase(release.Phase), cycleID)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := &tasks[i]
		switch task.Status {
		case models.TaskPending:
			err = e.executeTask(release, task)
		case models.TaskInProgress:
			if task.Type == models.TaskCheckReleaseApproval {
				err = e.pollApproval(release, task)
			}
		case models.TaskAwaitingCallback:
			if task.Output.Build != nil {
				err = e.pollBuild(release, task)
			}
		}
		if err != nil {
			return err
		}
		// A task failure pauses the release; stop driving the stage.
		release, err = e.db.GetRelease(releaseID)
		if err != nil {
			return err
		}
		if release.Status == models.ReleasePaused {
			return nil
		}
	}

	return e.advanceLocked(releaseID)
}

func (e *Engine) executeTask(release *models.Release, task *models.ReleaseTask) error {
	switch task.Type {
	case models.TaskForkBranch:
		base := release.BaseBranch
		if base == "" {
			base = e.defaultBranch
		}
		sha, err := e.forker.ForkBranch(base, release.Branch)
		if err != nil {
			return e.failTask(release, task, fmt.Sprintf("branch fork failed: %v", err))
		}
		return e.completeTask(release, task, "branch forked", models.TaskOutput{
			Branch: &models.BranchOutput{Branch: release.Branch, SHA: sha},
		})

	case models.TaskTriggerKickoffBuilds, models.TaskTriggerRegressionBuilds:
		workflow := string(*task.Platform) + "-release-build"
		return e.triggerBuild(release, task, workflow, nil)

	case models.TaskRunAutomationSuite:
		inputs := map[string]string{}
		if task.CycleID != nil {
			cycle, err := e.db.GetCycle(*task.CycleID)
			if err != nil {
				return err
			}
			inputs["cycle_tag"] = cycle.Tag
		}
		return e.triggerBuild(release, task, "regression-automation", inputs)

	case models.TaskCreateTestSuite:
		cycle, err := e.db.GetCycle(*task.CycleID)
		if err != nil {
			return err
		}
		run, err := e.tests.CreateRun(integrations.TestRunParams{
			Name:     release.VersionName + " regression",
			CycleTag: cycle.Tag,
		})
		if err != nil {
			return e.failTask(release, task, fmt.Sprintf("test suite creation failed: %v", err))
		}
		return e.completeTask(release, task, "test suite created", models.TaskOutput{
			TestSuite: &models.TestSuiteOutput{RunID: run.RunID, URL: run.URL},
		})

	case models.TaskResetTestSuite:
		runID, err := e.findTestRunID(release.ID)
		if err != nil {
			return err
		}
		if runID == "" {
			return e.skipTask(release, task, "no test suite to reset")
		}
		if err := e.tests.ResetRun(runID); err != nil {
			return e.failTask(release, task, fmt.Sprintf("test suite reset failed: %v", err))
		}
		return e.completeTask(release, task, "test suite reset", models.TaskOutput{
			TestSuite: &models.TestSuiteOutput{RunID: runID},
		})

	case models.TaskCheckRegressionResults:
		if e.tests == nil {
			return e.skipTask(release, task, "no test management configured")
		}
		runID, err := e.findTestRunID(release.ID)
		if err != nil {
			return err
		}
		if runID == "" {
			return e.skipTask(release, task, "no test suite recorded")
		}
		status, err := e.tests.GetStatus(runID)
		if err != nil {
			return e.failTask(release, task, fmt.Sprintf("regression result check failed: %v", err))
		}
		output := models.TaskOutput{TestSuite: &models.TestSuiteOutput{
			RunID: runID, Passed: status.Passed, Failed: status.Failed, Untested: status.Untested,
		}}
		if status.Failed > 0 {
			return e.failTaskWithOutput(release, task, fmt.Sprintf("%d regression tests failing", status.Failed), output)
		}
		return e.completeTask(release, task, "regression passed", output)

	case models.TaskCheckReleaseApproval:
		if e.tickets == nil {
			// Manual approval: suspend until the operator endpoint
			// completes the task.
			return e.db.UpdateTaskStatus(task.ID, models.TaskAwaitingCallback, "awaiting manual approval", task.Output)
		}
		ticket, err := e.tickets.CreateTicket(integrations.TicketParams{
			Summary: fmt.Sprintf("Release approval: %s %s", release.AppID, release.VersionName),
		})
		if err != nil {
			return e.failTask(release, task, fmt.Sprintf("approval ticket creation failed: %v", err))
		}
		return e.db.UpdateTaskStatus(task.ID, models.TaskInProgress, "approval ticket opened", models.TaskOutput{
			Approval: &models.ApprovalOutput{TicketID: ticket.TicketID},
		})

	case models.TaskPrepareReleaseNotes:
		return e.triggerBuild(release, task, "release-notes", nil)

	case models.TaskSubmitToTarget:
		return e.submitToTarget(release, task)
	}

	return fmt.Errorf("unknown task type %s", task.Type)
}

func (e *Engine) triggerBuild(release *models.Release, task *models.ReleaseTask, workflow string, inputs map[string]string) error {
	run, err := e.ci.TriggerWorkflow(integrations.WorkflowParams{
		Workflow: workflow,
		Branch:   release.Branch,
		Inputs:   inputs,
	})
	if err != nil {
		return e.failTask(release, task, fmt.Sprintf("workflow trigger failed: %v", err))
	}
	return e.db.UpdateTaskStatus(task.ID, models.TaskAwaitingCallback, "", models.TaskOutput{
		Build: &models.BuildOutput{RunRef: run.RunRef, URL: run.URL, Status: "in_progress"},
	})
}

func (e *Engine) submitToTarget(release *models.Release, task *models.ReleaseTask) error {
	store, ok := e.stores[*task.Platform]
	if !ok {
		return e.failTask(release, task, fmt.Sprintf("no store configured for platform %s", *task.Platform))
	}

	buildNumber := e.latestBuildRef(release.ID, *task.Platform)
	if err := store.Submit(integrations.SubmitParams{
		VersionName: release.VersionName,
		BuildNumber: buildNumber,
		Branch:      release.Branch,
	}); err != nil {
		return e.failTask(release, task, fmt.Sprintf("store submission failed: %v", err))
	}

	now := time.Now().UTC()
	submission := &models.Submission{
		ID:          uuid.New().String(),
		ReleaseID:   release.ID,
		Platform:    *task.Platform,
		Status:      models.SubmissionWaitingForReview,
		VersionName: release.VersionName,
		BuildNumber: buildNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	history := &models.SubmissionActionHistory{
		SubmissionID: submission.ID,
		Action:       models.ActionSubmit,
		Actor:        "engine",
		Detail:       fmt.Sprintf("submitted %s build %s", release.VersionName, buildNumber),
		CreatedAt:    now,
	}
	if err := e.db.CreateSubmissionWithHistory(submission, history); err != nil {
		return err
	}

	e.notify(integrations.Event{
		Kind:      "submission",
		ReleaseID: release.ID,
		Subject:   "submitted",
		Message:   fmt.Sprintf("%s %s submitted for review", submission.Platform, release.VersionName),
	})

	return e.completeTask(release, task, "submitted for review", models.TaskOutput{
		Submission: &models.SubmissionOutput{SubmissionID: submission.ID},
	})
}

func (e *Engine) pollApproval(release *models.Release, task *models.ReleaseTask) error {
	status, err := e.tickets.GetTicketStatus(task.Output.Approval.TicketID)
	if err != nil {
		log.Printf("release %s: approval ticket poll failed: %v", release.ID, err)
		return nil
	}

	switch strings.ToUpper(status) {
	case "APPROVED", "DONE":
		out := task.Output
		out.Approval.Status = status
		return e.completeTask(release, task, "release approved", out)
	case "REJECTED", "DECLINED":
		return e.failTask(release, task, "release approval rejected")
	}
	return nil
}

func (e *Engine) pollBuild(release *models.Release, task *models.ReleaseTask) error {
	status, err := e.ci.GetRunStatus(task.Output.Build.RunRef)
	if err != nil {
		log.Printf("release %s: run status poll failed for %s: %v", release.ID, task.Output.Build.RunRef, err)
		return nil
	}
	if status.Status != "completed" {
		return nil
	}

	out := task.Output
	out.Build.Status = status.Status
	out.Build.Conclusion = status.Conclusion
	if status.Conclusion == "success" {
		return e.completeTask(release, task, "run succeeded", out)
	}
	return e.failTaskWithOutput(release, task, fmt.Sprintf("run concluded %s", status.Conclusion), out)
}

func (e *Engine) completeTask(release *models.Release, task *models.ReleaseTask, conclusion string, output models.TaskOutput) error {
	return e.db.UpdateTaskStatus(task.ID, models.TaskCompleted, conclusion, output)
}

func (e *Engine) skipTask(release *models.Release, task *models.ReleaseTask, conclusion string) error {
	return e.db.UpdateTaskStatus(task.ID, models.TaskSkipped, conclusion, task.Output)
}

// failTask records the failure and pauses the release rather than silently
// continuing.
func (e *Engine) failTask(release *models.Release, task *models.ReleaseTask, conclusion string) error {
	return e.failTaskWithOutput(release, task, conclusion, task.Output)
}

func (e *Engine) failTaskWithOutput(release *models.Release, task *models.ReleaseTask, conclusion string, output models.TaskOutput) error {
	if err := e.db.UpdateTaskStatus(task.ID, models.TaskFailed, conclusion, output); err != nil {
		return err
	}
	if err := e.db.UpdateReleaseState(release.ID, release.Phase, models.ReleasePaused, models.PauseByFailure); err != nil {
		return err
	}

	e.notify(integrations.Event{
		Kind:      "task",
		ReleaseID: release.ID,
		Subject:   "failed",
		Message:   fmt.Sprintf("task %s failed: %s", task.Type, conclusion),
	})

	log.Printf("release %s paused: task %s (%s) failed: %s", release.ID, task.ID, task.Type, conclusion)
	return nil
}

// HandleCallback completes an AWAITING_CALLBACK task from an external
// system. The task id is the idempotency key; a callback for a task in any
// other status is a conflict, so double completion is impossible.
func (e *Engine) HandleCallback(taskID string, req *models.TaskCallbackRequest) (*models.ReleaseTask, error) {
	stale, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(stale.ReleaseID)
	defer unlock()

	task, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskAwaitingCallback {
		return nil, models.NewConflictError("task %s is %s; only tasks awaiting a callback can be completed", taskID, task.Status)
	}

	release, err := e.db.GetRelease(task.ReleaseID)
	if err != nil {
		return nil, err
	}

	output := task.Output
	if !req.Output.Empty() {
		output = req.Output
	}

	if req.Status == models.TaskFailed {
		if err := e.failTaskWithOutput(release, task, req.Conclusion, output); err != nil {
			return nil, err
		}
	} else {
		if err := e.completeTask(release, task, req.Conclusion, output); err != nil {
			return nil, err
		}
		if err := e.advanceLocked(task.ReleaseID); err != nil {
			return nil, err
		}
	}

	return e.db.GetTask(taskID)
}

// RetryTask resets a FAILED task to PENDING and executes it immediately.
// The release stays paused until the operator resumes it.
func (e *Engine) RetryTask(taskID string) (*models.ReleaseTask, error) {
	stale, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(stale.ReleaseID)
	defer unlock()

	task, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskFailed {
		return nil, models.NewConflictError("task %s is %s; only failed tasks can be retried", taskID, task.Status)
	}

	if err := e.db.ResetTaskForRetry(taskID); err != nil {
		return nil, err
	}

	task, err = e.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	release, err := e.db.GetRelease(task.ReleaseID)
	if err != nil {
		return nil, err
	}

	if err := e.executeTask(release, task); err != nil {
		return nil, err
	}
	return e.db.GetTask(taskID)
}

// ApproveRelease is the manual-approval fallback: it completes the
// awaiting approval task when no ticketing integration drives approval.
func (e *Engine) ApproveRelease(releaseID, approvedBy string) error {
	unlock := e.locks.Lock(releaseID)
	defer unlock()

	tasks, err := e.db.ListStageTasks(releaseID, models.StagePostRegression, nil)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := &tasks[i]
		if task.Type != models.TaskCheckReleaseApproval {
			continue
		}
		if task.Status != models.TaskAwaitingCallback {
			return models.NewConflictError("approval task is %s; nothing to approve", task.Status)
		}
		release, err := e.db.GetRelease(releaseID)
		if err != nil {
			return err
		}
		if err := e.completeTask(release, task, "manually approved", models.TaskOutput{
			Approval: &models.ApprovalOutput{Status: "APPROVED", ApprovedBy: approvedBy},
		}); err != nil {
			return err
		}
		return e.advanceLocked(releaseID)
	}

	return models.NewConflictError("release %s has no approval task awaiting a decision", releaseID)
}

// findTestRunID returns the run id recorded by the most recent test-suite
// task, or "" when none exists.
func (e *Engine) findTestRunID(releaseID string) (string, error) {
	tasks, err := e.db.ListTasks(releaseID)
	if err != nil {
		return "", err
	}

	runID := ""
	for _, t := range tasks {
		if t.Output.TestSuite != nil && t.Output.TestSuite.RunID != "" {
			runID = t.Output.TestSuite.RunID
		}
	}
	return runID, nil
}

// latestBuildRef returns the run ref of the platform's most recent
// regression build, used as the submitted build identifier.
func (e *Engine) latestBuildRef(releaseID string, platform models.Platform) string {
	tasks, err := e.db.ListTasks(releaseID)
	if err != nil {
		return ""
	}

	ref := ""
	for _, t := range tasks {
		if t.Type != models.TaskTriggerRegressionBuilds && t.Type != models.TaskTriggerKickoffBuilds {
			continue
		}
		if t.Platform == nil || *t.Platform != platform {
			continue
		}
		if t.Status == models.TaskCompleted && t.Output.Build != nil {
			ref = t.Output.Build.RunRef
		}
	}
	return ref
}
