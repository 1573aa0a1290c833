package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

func TestRunPendingKickoffTasks(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)

	for _, task := range tasks {
		switch task.Type {
		case models.TaskForkBranch:
			assert.Equal(t, models.TaskCompleted, task.Status)
			require.NotNil(t, task.Output.Branch)
			assert.Equal(t, "release/4.12.0", task.Output.Branch.Branch)
			assert.Equal(t, "abc123", task.Output.Branch.SHA)
		case models.TaskTriggerKickoffBuilds:
			assert.Equal(t, models.TaskAwaitingCallback, task.Status)
			require.NotNil(t, task.Output.Build)
			assert.NotEmpty(t, task.Output.Build.RunRef)
		}
	}

	assert.Equal(t, 1, f.forker.forks)
	assert.Equal(t, "main", f.forker.lastBase)
	assert.Len(t, f.ci.triggered, 2)
	assert.Equal(t, "android-release-build", f.ci.triggered[0].Workflow)
	assert.Equal(t, "ios-release-build", f.ci.triggered[1].Workflow)
}

func TestForkBranchUsesRequestedBase(t *testing.T) {
	f := newFixture(t)

	// A hotfix branches from the previous release line, not from main
	release, err := f.engine.Kickoff(&models.KickoffRequest{
		AppID:       "my-app",
		Kind:        "hotfix",
		VersionName: "4.12.1",
		BaseBranch:  "release/4.12.0",
		Platforms:   []models.Platform{models.PlatformAndroid},
		CreatedBy:   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "release/4.12.0", release.BaseBranch)

	require.NoError(t, f.engine.RunPendingTasks(release.ID))
	assert.Equal(t, "release/4.12.0", f.forker.lastBase)
}

func TestHandleCallbackCompletesStage(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.Status != models.TaskAwaitingCallback {
			continue
		}
		done, err := f.engine.HandleCallback(task.ID, &models.TaskCallbackRequest{
			Status:     models.TaskCompleted,
			Conclusion: "build succeeded",
		})
		require.NoError(t, err)
		assert.Equal(t, models.TaskCompleted, done.Status)
	}

	// Completing the last kickoff task advanced the release
	assert.Equal(t, models.PhaseAwaitingRegression, f.getRelease(t, release.ID).Phase)
}

func TestHandleCallbackIdempotencyConflict(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)

	var buildTask *models.ReleaseTask
	for i := range tasks {
		if tasks[i].Status == models.TaskAwaitingCallback {
			buildTask = &tasks[i]
			break
		}
	}
	require.NotNil(t, buildTask)

	req := &models.TaskCallbackRequest{Status: models.TaskCompleted, Conclusion: "ok"}
	_, err = f.engine.HandleCallback(buildTask.ID, req)
	require.NoError(t, err)

	// A duplicate delivery of the same callback is rejected
	_, err = f.engine.HandleCallback(buildTask.ID, req)
	assert.True(t, models.IsConflict(err))

	// So is a callback for a task that never awaited one
	var forkTask *models.ReleaseTask
	for i := range tasks {
		if tasks[i].Type == models.TaskForkBranch {
			forkTask = &tasks[i]
		}
	}
	require.NotNil(t, forkTask)
	_, err = f.engine.HandleCallback(forkTask.ID, req)
	assert.True(t, models.IsConflict(err))
}

func TestHandleCallbackFailurePauses(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.Status != models.TaskAwaitingCallback {
			continue
		}
		done, err := f.engine.HandleCallback(task.ID, &models.TaskCallbackRequest{
			Status:     models.TaskFailed,
			Conclusion: "compile error",
		})
		require.NoError(t, err)
		assert.Equal(t, models.TaskFailed, done.Status)
		break
	}

	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleasePaused, got.Status)
	assert.Equal(t, models.PauseByFailure, got.PauseReason)
}

func TestPollBuildBackstop(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	// Callbacks never arrived; the poller picks the results up
	f.ci.statuses["run-1"] = integrations.RunStatus{Status: "completed", Conclusion: "success"}
	f.ci.statuses["run-2"] = integrations.RunStatus{Status: "completed", Conclusion: "success"}

	require.NoError(t, f.engine.RunPendingTasks(release.ID))
	assert.Equal(t, models.PhaseAwaitingRegression, f.getRelease(t, release.ID).Phase)
}

func TestPollBuildFailureConclusion(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	f.ci.statuses["run-1"] = integrations.RunStatus{Status: "completed", Conclusion: "failure"}

	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleasePaused, got.Status)
	assert.Equal(t, models.PauseByFailure, got.PauseReason)
}

// toPostRegression drives a release through all its regression slots into
// the post-regression stage.
func toPostRegression(t *testing.T, f *fixture) *models.Release {
	release := toAwaitingRegression(t, f)
	for i := 0; i < 3; i++ {
		cycle, err := f.engine.CreateCycle(release.ID)
		require.NoError(t, err)
		f.completeStage(t, release.ID, models.StageRegression, &cycle.ID)
	}
	require.NoError(t, f.engine.Advance(release.ID))
	got := f.getRelease(t, release.ID)
	require.Equal(t, models.PhasePostRegression, got.Phase)
	return got
}

func TestManualApprovalFlow(t *testing.T) {
	f := newFixture(t, withoutTests(), withoutTickets())
	release := toPostRegression(t, f)

	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StagePostRegression, nil)
	require.NoError(t, err)
	for _, task := range tasks {
		switch task.Type {
		case models.TaskCheckRegressionResults:
			// No test management means nothing to check
			assert.Equal(t, models.TaskSkipped, task.Status)
		case models.TaskCheckReleaseApproval:
			assert.Equal(t, models.TaskAwaitingCallback, task.Status)
		case models.TaskPrepareReleaseNotes:
			assert.Equal(t, models.TaskAwaitingCallback, task.Status)
		}
	}

	require.NoError(t, f.engine.ApproveRelease(release.ID, "alice"))

	// A second approval has nothing to act on
	err = f.engine.ApproveRelease(release.ID, "bob")
	assert.True(t, models.IsConflict(err))
}

func TestTicketApprovalPolling(t *testing.T) {
	f := newFixture(t, withoutTests())
	release := toPostRegression(t, f)

	require.NoError(t, f.engine.RunPendingTasks(release.ID))
	require.Len(t, f.tickets.created, 1)

	// Still open: nothing moves
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	f.tickets.status = "APPROVED"
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	tasks, err := f.db.ListStageTasks(release.ID, models.StagePostRegression, nil)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Type == models.TaskCheckReleaseApproval {
			assert.Equal(t, models.TaskCompleted, task.Status)
			require.NotNil(t, task.Output.Approval)
			assert.Equal(t, "REL-1", task.Output.Approval.TicketID)
		}
	}
}

func TestFailingRegressionResultsBlockRelease(t *testing.T) {
	f := newFixture(t, withoutTickets())
	release := toPostRegression(t, f)

	// Record the suite run the cycles would have produced
	tasks, err := f.db.ListTasks(release.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Type == models.TaskCreateTestSuite {
			require.NoError(t, f.db.UpdateTaskStatus(task.ID, task.Status, task.Conclusion, models.TaskOutput{
				TestSuite: &models.TestSuiteOutput{RunID: "tr-1"},
			}))
		}
	}

	f.tests.failedCount = 3
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleasePaused, got.Status)
	assert.Equal(t, models.PauseByFailure, got.PauseReason)

	tasks, err = f.db.ListStageTasks(release.ID, models.StagePostRegression, nil)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Type == models.TaskCheckRegressionResults {
			assert.Equal(t, models.TaskFailed, task.Status)
			require.NotNil(t, task.Output.TestSuite)
			assert.Equal(t, 3, task.Output.TestSuite.Failed)
		}
	}
}

func TestSubmitToTargetCreatesSubmissions(t *testing.T) {
	f := newFixture(t, withoutTests(), withoutTickets())
	release := toPostRegression(t, f)
	f.completeStage(t, release.ID, models.StagePostRegression, nil)
	require.NoError(t, f.engine.Advance(release.ID))
	require.Equal(t, models.PhaseSubmission, f.getRelease(t, release.ID).Phase)

	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	// One submission per platform, each with its SUBMIT audit row
	submissions, err := f.db.ListSubmissions(release.ID)
	require.NoError(t, err)
	require.Len(t, submissions, 2)

	platforms := map[models.Platform]bool{}
	for _, sub := range submissions {
		platforms[sub.Platform] = true
		assert.Equal(t, models.SubmissionWaitingForReview, sub.Status)
		assert.Equal(t, "4.12.0", sub.VersionName)

		history, err := f.db.ListHistory(sub.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.ActionSubmit, history[0].Action)
		assert.Equal(t, "engine", history[0].Actor)
	}
	assert.True(t, platforms[models.PlatformAndroid])
	assert.True(t, platforms[models.PlatformIOS])

	assert.Len(t, f.android.submits, 1)
	assert.Len(t, f.ios.submits, 1)

	// Stage satisfied, but the release waits on store verdicts
	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.PhaseSubmittedPendingApproval, got.Phase)
	assert.Equal(t, models.ReleaseSubmitted, got.Status)
}
