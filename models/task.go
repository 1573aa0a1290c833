package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStage groups tasks by the release stage they belong to.
type TaskStage string

const (
	StageKickoff        TaskStage = "KICKOFF"
	StageRegression     TaskStage = "REGRESSION"
	StagePostRegression TaskStage = "POST_REGRESSION"
	StageDistribution   TaskStage = "DISTRIBUTION"
)

// TaskType is the closed set of orchestrated work units.
type TaskType string

const (
	TaskForkBranch              TaskType = "FORK_BRANCH"
	TaskTriggerKickoffBuilds    TaskType = "TRIGGER_KICKOFF_BUILDS"
	TaskTriggerRegressionBuilds TaskType = "TRIGGER_REGRESSION_BUILDS"
	TaskRunAutomationSuite      TaskType = "RUN_AUTOMATION_SUITE"
	TaskCreateTestSuite         TaskType = "CREATE_TEST_SUITE"
	TaskResetTestSuite          TaskType = "RESET_TEST_SUITE"
	TaskCheckRegressionResults  TaskType = "CHECK_REGRESSION_RESULTS"
	TaskCheckReleaseApproval    TaskType = "CHECK_PROJECT_RELEASE_APPROVAL"
	TaskPrepareReleaseNotes     TaskType = "PREPARE_RELEASE_NOTES"
	TaskSubmitToTarget          TaskType = "SUBMIT_TO_TARGET"
)

// TaskStatus is the task lifecycle. Transitions are forward-only except
// the explicit retry reset FAILED -> PENDING.
type TaskStatus string

const (
	TaskPending          TaskStatus = "PENDING"
	TaskInProgress       TaskStatus = "IN_PROGRESS"
	TaskAwaitingCallback TaskStatus = "AWAITING_CALLBACK"
	TaskCompleted        TaskStatus = "COMPLETED"
	TaskFailed           TaskStatus = "FAILED"
	TaskSkipped          TaskStatus = "SKIPPED"
)

// Terminal reports whether s admits no further transition (retry excepted).
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// Satisfied reports whether s counts toward stage completion.
func (s TaskStatus) Satisfied() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// taskStatusRank encodes the forward-only ordering of task transitions.
var taskStatusRank = map[TaskStatus]int{
	TaskPending:          0,
	TaskInProgress:       1,
	TaskAwaitingCallback: 2,
	TaskCompleted:        3,
	TaskFailed:           3,
	TaskSkipped:          3,
}

// ValidTaskTransition reports whether a task may move from one status to
// another. A FAILED task may only be reset to PENDING via retry.
func ValidTaskTransition(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	if from == TaskFailed {
		return to == TaskPending
	}
	if from.Terminal() {
		return false
	}
	return taskStatusRank[to] > taskStatusRank[from]
}

// ReleaseTask is one schedulable unit of work. Tasks are never deleted;
// together with updated_at they form the audit trail of a stage.
type ReleaseTask struct {
	ID         string     `json:"id"`
	ReleaseID  string     `json:"release_id"`
	CycleID    *string    `json:"cycle_id,omitempty"`
	Platform   *Platform  `json:"platform,omitempty"`
	Stage      TaskStage  `json:"stage"`
	Type       TaskType   `json:"type"`
	Status     TaskStatus `json:"status"`
	Conclusion string     `json:"conclusion,omitempty"`
	Output     TaskOutput `json:"output,omitempty"`
	RetryCount int        `json:"retry_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TaskOutput is a tagged union keyed by task type. Exactly one variant is
// set, matching the task's type.
type TaskOutput struct {
	Build      *BuildOutput      `json:"build,omitempty"`
	TestSuite  *TestSuiteOutput  `json:"test_suite,omitempty"`
	Approval   *ApprovalOutput   `json:"approval,omitempty"`
	Branch     *BranchOutput     `json:"branch,omitempty"`
	Submission *SubmissionOutput `json:"submission,omitempty"`
}

// BuildOutput is recorded for CI-backed tasks.
type BuildOutput struct {
	RunRef     string `json:"run_ref"`
	Status     string `json:"status,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
	URL        string `json:"url,omitempty"`
}

// TestSuiteOutput is recorded for test-management-backed tasks.
type TestSuiteOutput struct {
	RunID    string `json:"run_id"`
	URL      string `json:"url,omitempty"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Untested int    `json:"untested"`
}

// ApprovalOutput is recorded for approval-check tasks.
type ApprovalOutput struct {
	TicketID   string `json:"ticket_id,omitempty"`
	Status     string `json:"status,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// BranchOutput is recorded for branch-fork tasks.
type BranchOutput struct {
	Branch string `json:"branch"`
	SHA    string `json:"sha"`
}

// SubmissionOutput links a distribution task to the submission it created.
type SubmissionOutput struct {
	SubmissionID string `json:"submission_id"`
}

// Empty reports whether no variant is set.
func (o TaskOutput) Empty() bool {
	return o.Build == nil && o.TestSuite == nil && o.Approval == nil &&
		o.Branch == nil && o.Submission == nil
}

// Encode serializes the output for storage. Empty outputs encode to "".
func (o TaskOutput) Encode() (string, error) {
	if o.Empty() {
		return "", nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode task output: %w", err)
	}
	return string(data), nil
}

// DecodeTaskOutput parses a stored output payload.
func DecodeTaskOutput(raw string) (TaskOutput, error) {
	var o TaskOutput
	if raw == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return o, fmt.Errorf("failed to decode task output: %w", err)
	}
	return o, nil
}
