package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPhaseWalksTheTrain(t *testing.T) {
	phase := PhaseNotStarted
	var visited []ReleasePhase
	for phase != PhaseCompleted {
		visited = append(visited, phase)
		next := NextPhase(phase)
		require.NotEqual(t, phase, next, "phase %s does not advance", phase)
		phase = next
	}

	assert.Len(t, visited, 10)
	assert.Equal(t, PhaseKickoff, visited[1])
	assert.Equal(t, PhaseSubmittedPendingApproval, visited[9])

	// Completed is the end of the line
	assert.Equal(t, PhaseCompleted, NextPhase(PhaseCompleted))
}

func TestStageForPhase(t *testing.T) {
	tests := []struct {
		phase ReleasePhase
		stage TaskStage
	}{
		{PhaseNotStarted, StageKickoff},
		{PhaseKickoff, StageKickoff},
		{PhaseAwaitingRegression, StageKickoff},
		{PhaseRegression, StageRegression},
		{PhaseRegressionAwaitingNextCycle, StageRegression},
		{PhaseAwaitingPostRegression, StageRegression},
		{PhasePostRegression, StagePostRegression},
		{PhaseAwaitingSubmission, StagePostRegression},
		{PhaseSubmission, StageDistribution},
		{PhaseSubmittedPendingApproval, StageDistribution},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.stage, StageForPhase(tt.phase), "phase %s", tt.phase)
	}
}

func TestValidTaskTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{"pending to in progress", TaskPending, TaskInProgress, true},
		{"pending straight to completed", TaskPending, TaskCompleted, true},
		{"in progress to awaiting callback", TaskInProgress, TaskAwaitingCallback, true},
		{"awaiting callback to completed", TaskAwaitingCallback, TaskCompleted, true},
		{"awaiting callback to failed", TaskAwaitingCallback, TaskFailed, true},
		{"no self transition", TaskPending, TaskPending, false},
		{"no backwards", TaskInProgress, TaskPending, false},
		{"completed is terminal", TaskCompleted, TaskInProgress, false},
		{"skipped is terminal", TaskSkipped, TaskPending, false},
		{"failed resets to pending only", TaskFailed, TaskPending, true},
		{"failed cannot complete directly", TaskFailed, TaskCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, ValidTaskTransition(tt.from, tt.to))
		})
	}
}

func TestCycleTag(t *testing.T) {
	assert.Equal(t, "1a2b3c4d_rc_1", CycleTag("1a2b3c4d", 1))
	assert.Equal(t, "1a2b3c4d_rc_3", CycleTag("1a2b3c4d", 3))
}

func TestSubmissionTerminal(t *testing.T) {
	live := &Submission{Status: SubmissionLive, RolloutPct: 50}
	assert.False(t, live.Terminal())

	live.RolloutPct = 100
	assert.True(t, live.Terminal())

	halted := &Submission{Status: SubmissionHalted}
	assert.True(t, halted.Terminal())

	assert.True(t, SubmissionInReview.Cancellable())
	assert.False(t, SubmissionLive.Cancellable())
	assert.False(t, SubmissionHalted.Cancellable())
}

func TestIsPausablePhase(t *testing.T) {
	assert.True(t, IsPausablePhase(PhaseRegression))
	assert.True(t, IsPausablePhase(PhaseAwaitingRegression))
	assert.False(t, IsPausablePhase(PhaseKickoff))
	assert.False(t, IsPausablePhase(PhaseCompleted))
}

func TestReleaseShortID(t *testing.T) {
	r := &Release{ID: "1a2b3c4d-5e6f-7081-92a3-b4c5d6e7f809"}
	assert.Equal(t, "1a2b3c4d", r.ShortID())

	short := &Release{ID: "abc"}
	assert.Equal(t, "abc", short.ShortID())
}

func TestTaskOutputRoundTrip(t *testing.T) {
	empty := TaskOutput{}
	raw, err := empty.Encode()
	require.NoError(t, err)
	assert.Equal(t, "", raw)

	out := TaskOutput{Build: &BuildOutput{RunRef: "run-42", Status: "completed", Conclusion: "success"}}
	raw, err = out.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTaskOutput(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Build)
	assert.Equal(t, "run-42", decoded.Build.RunRef)
	assert.Nil(t, decoded.TestSuite)
}

func TestConflictAndValidationErrors(t *testing.T) {
	conflict := NewConflictError("release %s is already paused", "r1")
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsValidation(conflict))

	invalid := NewValidationError("platforms", "at least one platform is required")
	assert.True(t, IsValidation(invalid))
	assert.Contains(t, invalid.Error(), "platforms")
}
