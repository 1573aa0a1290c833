package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

type mockCI struct {
	mu          sync.Mutex
	triggered   []integrations.WorkflowParams
	statuses    map[string]integrations.RunStatus
	failTrigger bool
}

func (m *mockCI) TriggerWorkflow(params integrations.WorkflowParams) (*integrations.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTrigger {
		return nil, fmt.Errorf("ci unavailable")
	}
	m.triggered = append(m.triggered, params)
	return &integrations.WorkflowRun{RunRef: fmt.Sprintf("run-%d", len(m.triggered))}, nil
}

func (m *mockCI) GetRunStatus(runRef string) (*integrations.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[runRef]; ok {
		return &s, nil
	}
	return &integrations.RunStatus{Status: "in_progress"}, nil
}

type mockTests struct {
	failedCount int
	resets      []string
	createErr   error
}

func (m *mockTests) CreateRun(params integrations.TestRunParams) (*integrations.TestRun, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &integrations.TestRun{RunID: "tr-" + params.CycleTag}, nil
}

func (m *mockTests) ResetRun(runID string) error {
	m.resets = append(m.resets, runID)
	return nil
}

func (m *mockTests) GetStatus(runID string) (*integrations.TestRunStatus, error) {
	return &integrations.TestRunStatus{Passed: 40, Failed: m.failedCount}, nil
}

type mockTickets struct {
	status  string
	created []integrations.TicketParams
}

func (m *mockTickets) CreateTicket(params integrations.TicketParams) (*integrations.Ticket, error) {
	m.created = append(m.created, params)
	return &integrations.Ticket{TicketID: "REL-1"}, nil
}

func (m *mockTickets) GetTicketStatus(ticketID string) (string, error) {
	return m.status, nil
}

type mockStore struct {
	mu        sync.Mutex
	submits   []integrations.SubmitParams
	rollouts  []float64
	halts     int
	paused    bool
	review    *integrations.ReviewStatus
	submitErr error
	setErr    error
}

func (m *mockStore) Submit(params integrations.SubmitParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submits = append(m.submits, params)
	return nil
}

func (m *mockStore) SetRollout(versionName string, pct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.rollouts = append(m.rollouts, pct)
	return nil
}

func (m *mockStore) PauseRollout(versionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

func (m *mockStore) ResumeRollout(versionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

func (m *mockStore) Halt(versionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halts++
	return nil
}

func (m *mockStore) GetReviewStatus(versionName string) (*integrations.ReviewStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.review == nil {
		return &integrations.ReviewStatus{Status: "waiting_for_review"}, nil
	}
	return m.review, nil
}

type mockForker struct {
	forkErr  error
	forks    int
	lastBase string
}

func (m *mockForker) ForkBranch(baseBranch, newBranch string) (string, error) {
	if m.forkErr != nil {
		return "", m.forkErr
	}
	m.forks++
	m.lastBase = baseBranch
	return "abc123", nil
}

func (m *mockForker) CheckHealth() error { return nil }

type fixture struct {
	db      *db.Database
	engine  *Engine
	ci      *mockCI
	tests   *mockTests
	tickets *mockTickets
	android *mockStore
	ios     *mockStore
	forker  *mockForker
}

type fixtureOption func(*Options)

func withoutTests() fixtureOption {
	return func(o *Options) { o.TestManagement = nil }
}

func withoutTickets() fixtureOption {
	return func(o *Options) { o.Ticketing = nil }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:      database,
		ci:      &mockCI{statuses: map[string]integrations.RunStatus{}},
		tests:   &mockTests{},
		tickets: &mockTickets{status: "OPEN"},
		android: &mockStore{},
		ios:     &mockStore{},
		forker:  &mockForker{},
	}

	options := Options{
		CI:             f.ci,
		TestManagement: f.tests,
		Ticketing:      f.tickets,
		Stores: map[models.Platform]integrations.Store{
			models.PlatformAndroid: f.android,
			models.PlatformIOS:     f.ios,
		},
		BranchForker:    f.forker,
		RegressionSlots: 3,
		DefaultBranch:   "main",
	}
	for _, opt := range opts {
		opt(&options)
	}

	f.engine = New(database, options)
	return f
}

func (f *fixture) kickoff(t *testing.T) *models.Release {
	release, err := f.engine.Kickoff(&models.KickoffRequest{
		AppID:       "my-app",
		Kind:        "planned",
		VersionName: "4.12.0",
		Platforms:   []models.Platform{models.PlatformAndroid, models.PlatformIOS},
		CreatedBy:   "alice",
	})
	require.NoError(t, err)
	return release
}

// completeStage marks every unfinished task of a stage as completed, the
// way callbacks eventually would.
func (f *fixture) completeStage(t *testing.T, releaseID string, stage models.TaskStage, cycleID *string) {
	tasks, err := f.db.ListStageTasks(releaseID, stage, cycleID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Status.Terminal() {
			continue
		}
		require.NoError(t, f.db.UpdateTaskStatus(task.ID, models.TaskCompleted, "done", task.Output))
	}
}

func (f *fixture) getRelease(t *testing.T, id string) *models.Release {
	release, err := f.db.GetRelease(id)
	require.NoError(t, err)
	return release
}

func TestKickoffCreatesReleaseAndTasks(t *testing.T) {
	f := newFixture(t)

	release := f.kickoff(t)
	assert.Equal(t, models.PhaseKickoff, release.Phase)
	assert.Equal(t, models.ReleaseInProgress, release.Status)
	assert.Equal(t, "release/4.12.0", release.Branch)

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	types := map[models.TaskType]int{}
	for _, task := range tasks {
		types[task.Type]++
		assert.Equal(t, models.TaskPending, task.Status)
	}
	assert.Equal(t, 1, types[models.TaskForkBranch])
	assert.Equal(t, 2, types[models.TaskTriggerKickoffBuilds])
}

func TestKickoffConflictWhileActive(t *testing.T) {
	f := newFixture(t)
	f.kickoff(t)

	_, err := f.engine.Kickoff(&models.KickoffRequest{
		AppID:       "my-app",
		Kind:        "planned",
		VersionName: "4.12.0",
		Platforms:   []models.Platform{models.PlatformAndroid},
		CreatedBy:   "bob",
	})
	assert.True(t, models.IsConflict(err))

	// A newer version conflicts too: the app, not the branch, is the
	// arbitration key.
	_, err = f.engine.Kickoff(&models.KickoffRequest{
		AppID:       "my-app",
		Kind:        "planned",
		VersionName: "4.13.0",
		Platforms:   []models.Platform{models.PlatformAndroid},
		CreatedBy:   "bob",
	})
	assert.True(t, models.IsConflict(err))

	// Other apps are unaffected
	_, err = f.engine.Kickoff(&models.KickoffRequest{
		AppID:       "other-app",
		Kind:        "planned",
		VersionName: "1.0.0",
		Platforms:   []models.Platform{models.PlatformAndroid},
		CreatedBy:   "bob",
	})
	assert.NoError(t, err)
}

func TestAdvanceStopsAtAwaitingRegression(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	// Unsatisfied kickoff stage does not move
	require.NoError(t, f.engine.Advance(release.ID))
	assert.Equal(t, models.PhaseKickoff, f.getRelease(t, release.ID).Phase)

	f.completeStage(t, release.ID, models.StageKickoff, nil)
	require.NoError(t, f.engine.Advance(release.ID))
	assert.Equal(t, models.PhaseAwaitingRegression, f.getRelease(t, release.ID).Phase)

	// Advancing again is a no-op: the cron controller owns cycle creation
	require.NoError(t, f.engine.Advance(release.ID))
	assert.Equal(t, models.PhaseAwaitingRegression, f.getRelease(t, release.ID).Phase)
}

func TestAdvancePassesThroughTransientPhases(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)
	f.completeStage(t, release.ID, models.StageKickoff, nil)
	require.NoError(t, f.engine.Advance(release.ID))

	// Burn through all three regression slots
	for i := 0; i < 3; i++ {
		cycle, err := f.engine.CreateCycle(release.ID)
		require.NoError(t, err)
		f.completeStage(t, release.ID, models.StageRegression, &cycle.ID)
		require.NoError(t, f.engine.Advance(release.ID))
	}

	// One Advance carried the release through AWAITING_POST_REGRESSION
	// into POST_REGRESSION, generating its task set on the way.
	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.PhasePostRegression, got.Phase)

	tasks, err := f.db.ListStageTasks(release.ID, models.StagePostRegression, nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	// Idempotent: no duplicate task set on repeat calls
	require.NoError(t, f.engine.Advance(release.ID))
	tasks, err = f.db.ListStageTasks(release.ID, models.StagePostRegression, nil)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	// KICKOFF is not a pausable phase
	err := f.engine.Pause(release.ID, "hold on")
	assert.True(t, models.IsConflict(err))

	f.completeStage(t, release.ID, models.StageKickoff, nil)
	require.NoError(t, f.engine.Advance(release.ID))

	require.NoError(t, f.engine.Pause(release.ID, "waiting for partner team"))
	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleasePaused, got.Status)
	assert.Equal(t, models.PauseByUser, got.PauseReason)

	// Double pause is a conflict
	err = f.engine.Pause(release.ID, "again")
	assert.True(t, models.IsConflict(err))

	// Paused releases accept no cycle creation
	_, err = f.engine.CreateCycle(release.ID)
	assert.True(t, models.IsConflict(err))

	require.NoError(t, f.engine.Resume(release.ID))
	got = f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleaseInProgress, got.Status)
	assert.Equal(t, models.PauseNone, got.PauseReason)

	err = f.engine.Resume(release.ID)
	assert.True(t, models.IsConflict(err))
}

func TestTaskFailurePausesRelease(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	f.ci.failTrigger = true
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleasePaused, got.Status)
	assert.Equal(t, models.PauseByFailure, got.PauseReason)

	// The runner stops at the first failure; the second build task was
	// never started.
	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)

	statuses := map[models.TaskStatus]int{}
	for _, task := range tasks {
		statuses[task.Status]++
	}
	assert.Equal(t, 1, statuses[models.TaskCompleted], "fork branch succeeded")
	assert.Equal(t, 1, statuses[models.TaskFailed])
	assert.Equal(t, 1, statuses[models.TaskPending])
}

func TestResumeBlockedByFailedTask(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	f.ci.failTrigger = true
	require.NoError(t, f.engine.RunPendingTasks(release.ID))

	err := f.engine.Resume(release.ID)
	assert.True(t, models.IsConflict(err))

	tasks, err := f.db.ListStageTasks(release.ID, models.StageKickoff, nil)
	require.NoError(t, err)
	var failedID string
	for _, task := range tasks {
		if task.Status == models.TaskFailed {
			failedID = task.ID
		}
	}
	require.NotEmpty(t, failedID)

	f.ci.failTrigger = false
	task, err := f.engine.RetryTask(failedID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskAwaitingCallback, task.Status)
	assert.Equal(t, 1, task.RetryCount)

	// Retry alone does not resume the release
	assert.Equal(t, models.ReleasePaused, f.getRelease(t, release.ID).Status)

	// Nor does it make the release resumable: the retried task is still
	// waiting on its callback
	err = f.engine.Resume(release.ID)
	assert.True(t, models.IsConflict(err))

	_, err = f.engine.HandleCallback(failedID, &models.TaskCallbackRequest{
		Status:     models.TaskCompleted,
		Conclusion: "build succeeded",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Resume(release.ID))
	assert.Equal(t, models.ReleaseInProgress, f.getRelease(t, release.ID).Status)
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	release := f.kickoff(t)

	// In-progress releases cannot be archived
	err := f.engine.Archive(release.ID)
	assert.True(t, models.IsConflict(err))

	f.completeStage(t, release.ID, models.StageKickoff, nil)
	require.NoError(t, f.engine.Advance(release.ID))
	require.NoError(t, f.engine.Pause(release.ID, "abandoning"))

	require.NoError(t, f.engine.Archive(release.ID))
	got := f.getRelease(t, release.ID)
	assert.Equal(t, models.ReleaseArchived, got.Status)
	assert.False(t, got.Active())

	// Archived releases free the branch for a new kickoff
	f.kickoff(t)
}
