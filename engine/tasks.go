package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

func newTask(release *models.Release, stage models.TaskStage, taskType models.TaskType) models.ReleaseTask {
	now := time.Now().UTC()
	return models.ReleaseTask{
		ID:        uuid.New().String(),
		ReleaseID: release.ID,
		Stage:     stage,
		Type:      taskType,
		Status:    models.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Engine) kickoffTasks(release *models.Release) []models.ReleaseTask {
	tasks := []models.ReleaseTask{
		newTask(release, models.StageKickoff, models.TaskForkBranch),
	}
	for _, p := range release.Platforms {
		t := newTask(release, models.StageKickoff, models.TaskTriggerKickoffBuilds)
		platform := p
		t.Platform = &platform
		tasks = append(tasks, t)
	}
	return tasks
}

// cycleTasks generates the task set for one regression cycle. The
// test-suite tasks exist only when a test-management integration is
// configured: CREATE on the first cycle, RESET on later ones.
func (e *Engine) cycleTasks(release *models.Release, cycle *models.RegressionCycle, first bool) []models.ReleaseTask {
	var tasks []models.ReleaseTask

	add := func(taskType models.TaskType, platform *models.Platform) {
		t := newTask(release, models.StageRegression, taskType)
		t.CycleID = &cycle.ID
		t.Platform = platform
		tasks = append(tasks, t)
	}

	for i := range release.Platforms {
		add(models.TaskTriggerRegressionBuilds, &release.Platforms[i])
	}
	add(models.TaskRunAutomationSuite, nil)

	if e.tests != nil {
		if first {
			add(models.TaskCreateTestSuite, nil)
		} else {
			add(models.TaskResetTestSuite, nil)
		}
	}

	return tasks
}

func (e *Engine) postRegressionTasks(release *models.Release) []models.ReleaseTask {
	return []models.ReleaseTask{
		newTask(release, models.StagePostRegression, models.TaskCheckRegressionResults),
		newTask(release, models.StagePostRegression, models.TaskCheckReleaseApproval),
		newTask(release, models.StagePostRegression, models.TaskPrepareReleaseNotes),
	}
}

func (e *Engine) distributionTasks(release *models.Release) []models.ReleaseTask {
	var tasks []models.ReleaseTask
	for i := range release.Platforms {
		t := newTask(release, models.StageDistribution, models.TaskSubmitToTarget)
		t.Platform = &release.Platforms[i]
		tasks = append(tasks, t)
	}
	return tasks
}
