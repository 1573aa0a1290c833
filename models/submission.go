package models

import "time"

// SubmissionStatus is the store-facing submission lifecycle.
type SubmissionStatus string

const (
	SubmissionInReview          SubmissionStatus = "IN_REVIEW"
	SubmissionWaitingForReview  SubmissionStatus = "WAITING_FOR_REVIEW"
	SubmissionApproved          SubmissionStatus = "APPROVED"
	SubmissionPendingDevRelease SubmissionStatus = "PENDING_DEVELOPER_RELEASE"
	SubmissionLive              SubmissionStatus = "LIVE"
	SubmissionRejected          SubmissionStatus = "REJECTED"
	SubmissionCancelled         SubmissionStatus = "CANCELLED"
	SubmissionHalted            SubmissionStatus = "HALTED"
)

// TerminalFailure reports whether s is a dead end requiring a new submission.
func (s SubmissionStatus) TerminalFailure() bool {
	return s == SubmissionRejected || s == SubmissionCancelled || s == SubmissionHalted
}

// Cancellable reports whether a submission in s may be cancelled. LIVE is
// never cancellable; halt is the only stop for a live rollout.
func (s SubmissionStatus) Cancellable() bool {
	switch s {
	case SubmissionInReview, SubmissionWaitingForReview, SubmissionApproved, SubmissionPendingDevRelease:
		return true
	}
	return false
}

// Submission is one platform's store submission for a release.
type Submission struct {
	ID            string           `json:"id"`
	ReleaseID     string           `json:"release_id"`
	Platform      Platform         `json:"platform"`
	Status        SubmissionStatus `json:"status"`
	RolloutPct    float64          `json:"rollout_pct"`
	RolloutPaused bool             `json:"rollout_paused"`
	VersionName   string           `json:"version_name"`
	BuildNumber   string           `json:"build_number"`
	RetryOf       *string          `json:"retry_of,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Terminal reports whether no further rollout operation may touch the
// submission. LIVE at a full rollout is terminal success.
func (s *Submission) Terminal() bool {
	if s.Status.TerminalFailure() {
		return true
	}
	return s.Status == SubmissionLive && s.RolloutPct >= 100
}

// SubmissionAction names a state-changing rollout operation in the audit log.
type SubmissionAction string

const (
	ActionSubmit        SubmissionAction = "SUBMIT"
	ActionApprove       SubmissionAction = "APPROVE"
	ActionReject        SubmissionAction = "REJECT"
	ActionRolloutUpdate SubmissionAction = "ROLLOUT_UPDATE"
	ActionRolloutPause  SubmissionAction = "ROLLOUT_PAUSE"
	ActionRolloutResume SubmissionAction = "ROLLOUT_RESUME"
	ActionHalt          SubmissionAction = "HALT"
	ActionCancel        SubmissionAction = "CANCEL"
	ActionRetry         SubmissionAction = "RETRY"
	ActionStatusSync    SubmissionAction = "STATUS_SYNC"
)

// SubmissionActionHistory is an append-only audit record written alongside
// every state-changing rollout operation. Rows are never mutated or deleted.
type SubmissionActionHistory struct {
	ID           int64            `json:"id"`
	SubmissionID string           `json:"submission_id"`
	Action       SubmissionAction `json:"action"`
	Reason       string           `json:"reason,omitempty"`
	Actor        string           `json:"actor"`
	Detail       string           `json:"detail,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
