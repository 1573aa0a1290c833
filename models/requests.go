package models

import "time"

// KickoffRequest starts a new release train.
type KickoffRequest struct {
	AppID       string     `json:"app_id" binding:"required"`
	Kind        string     `json:"kind" binding:"required,release_kind"`
	VersionName string     `json:"version_name" binding:"required"`
	BaseBranch  string     `json:"base_branch"`
	Platforms   []Platform `json:"platforms" binding:"required,min=1,dive,platform"`
	CreatedBy   string     `json:"created_by" binding:"required"`
}

// PauseRequest pauses a release.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// ApproveRequest is the manual-approval fallback when no ticketing
// integration is configured.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

// TaskCallbackRequest completes an AWAITING_CALLBACK task from an external
// system. The task id in the URL is the idempotency key.
type TaskCallbackRequest struct {
	Status     TaskStatus `json:"status" binding:"required,oneof=COMPLETED FAILED"`
	Conclusion string     `json:"conclusion"`
	Output     TaskOutput `json:"output"`
}

// RolloutUpdateRequest increases the staged rollout percentage.
type RolloutUpdateRequest struct {
	Percent float64 `json:"percent" binding:"required,gt=0,lte=100"`
	Actor   string  `json:"actor" binding:"required"`
}

// RolloutActionRequest carries the actor for pause/resume/retry operations.
type RolloutActionRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// RolloutStopRequest halts or cancels a submission. The reason is mandatory
// so the audit trail can explain the stop.
type RolloutStopRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// ErrorResponse is the common error envelope.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Details string    `json:"details,omitempty"`
	Time    time.Time `json:"time"`
}

// ListReleasesResponse pages over releases.
type ListReleasesResponse struct {
	Releases []Release `json:"releases"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// ReleaseDetailResponse is a release with its cycles and open submissions.
type ReleaseDetailResponse struct {
	Release     Release           `json:"release"`
	Cycles      []RegressionCycle `json:"cycles"`
	Submissions []Submission      `json:"submissions"`
}

// ListTasksResponse pages over a release's tasks.
type ListTasksResponse struct {
	Tasks []ReleaseTask `json:"tasks"`
	Total int           `json:"total"`
}

// ListHistoryResponse returns a submission's audit trail.
type ListHistoryResponse struct {
	History []SubmissionActionHistory `json:"history"`
	Total   int                       `json:"total"`
}

// HealthResponse reports daemon health.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	DatabaseAccessible bool   `json:"database_accessible"`
	GitRepoAccessible  bool   `json:"git_repo_accessible"`
}
