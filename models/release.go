package models

import "time"

// ReleaseKind classifies why a release train was started.
type ReleaseKind string

const (
	KindPlanned ReleaseKind = "PLANNED"
	KindHotfix  ReleaseKind = "HOTFIX"
	KindMajor   ReleaseKind = "MAJOR"
)

// ReleasePhase is the fine-grained position of a release in its lifecycle.
type ReleasePhase string

const (
	PhaseNotStarted                  ReleasePhase = "NOT_STARTED"
	PhaseKickoff                     ReleasePhase = "KICKOFF"
	PhaseAwaitingRegression          ReleasePhase = "AWAITING_REGRESSION"
	PhaseRegression                  ReleasePhase = "REGRESSION"
	PhaseRegressionAwaitingNextCycle ReleasePhase = "REGRESSION_AWAITING_NEXT_CYCLE"
	PhaseAwaitingPostRegression      ReleasePhase = "AWAITING_POST_REGRESSION"
	PhasePostRegression              ReleasePhase = "POST_REGRESSION"
	PhaseAwaitingSubmission          ReleasePhase = "AWAITING_SUBMISSION"
	PhaseSubmission                  ReleasePhase = "SUBMISSION"
	PhaseSubmittedPendingApproval    ReleasePhase = "SUBMITTED_PENDING_APPROVAL"
	PhaseCompleted                   ReleasePhase = "COMPLETED"
)

// phaseOrder is the forward progression of a release. ARCHIVED is a status,
// not a phase, and is reachable from COMPLETED or any paused release.
var phaseOrder = []ReleasePhase{
	PhaseNotStarted,
	PhaseKickoff,
	PhaseAwaitingRegression,
	PhaseRegression,
	PhaseRegressionAwaitingNextCycle,
	PhaseAwaitingPostRegression,
	PhasePostRegression,
	PhaseAwaitingSubmission,
	PhaseSubmission,
	PhaseSubmittedPendingApproval,
	PhaseCompleted,
}

// NextPhase returns the phase that follows p, or p itself when p is terminal.
func NextPhase(p ReleasePhase) ReleasePhase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return p
}

// StageForPhase maps a phase to the stage whose tasks gate it. Awaiting
// phases belong to the stage they lead out of.
func StageForPhase(p ReleasePhase) TaskStage {
	switch p {
	case PhaseNotStarted, PhaseKickoff, PhaseAwaitingRegression:
		return StageKickoff
	case PhaseRegression, PhaseRegressionAwaitingNextCycle, PhaseAwaitingPostRegression:
		return StageRegression
	case PhasePostRegression, PhaseAwaitingSubmission:
		return StagePostRegression
	default:
		return StageDistribution
	}
}

// IsPausablePhase reports whether a user-initiated pause is legal in p.
func IsPausablePhase(p ReleasePhase) bool {
	switch p {
	case PhaseAwaitingRegression, PhaseRegression, PhaseRegressionAwaitingNextCycle,
		PhaseAwaitingPostRegression, PhaseAwaitingSubmission:
		return true
	}
	return false
}

// ReleaseStatus is the coarse state of a release.
type ReleaseStatus string

const (
	ReleasePending    ReleaseStatus = "PENDING"
	ReleaseInProgress ReleaseStatus = "IN_PROGRESS"
	ReleasePaused     ReleaseStatus = "PAUSED"
	ReleaseSubmitted  ReleaseStatus = "SUBMITTED"
	ReleaseCompleted  ReleaseStatus = "COMPLETED"
	ReleaseArchived   ReleaseStatus = "ARCHIVED"
)

// PauseReason distinguishes user-initiated pauses from automatic ones.
type PauseReason string

const (
	PauseNone      PauseReason = "NONE"
	PauseByUser    PauseReason = "USER"
	PauseByFailure PauseReason = "FAILURE"
)

// Platform is a store target for a release.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Release is one release attempt of an app.
type Release struct {
	ID          string        `json:"id"`
	AppID       string        `json:"app_id"`
	Kind        ReleaseKind   `json:"kind"`
	Phase       ReleasePhase  `json:"phase"`
	Status      ReleaseStatus `json:"status"`
	PauseReason PauseReason   `json:"pause_reason"`
	Branch      string        `json:"branch"`
	BaseBranch  string        `json:"base_branch"`
	VersionName string        `json:"version_name"`
	Platforms   []Platform    `json:"platforms"`
	CreatedBy   string        `json:"created_by"`
	KickoffAt   time.Time     `json:"kickoff_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ShortID is the 8-character prefix used in derived names such as cycle tags.
func (r *Release) ShortID() string {
	if len(r.ID) < 8 {
		return r.ID
	}
	return r.ID[:8]
}

// Active reports whether the release still participates in scheduling.
func (r *Release) Active() bool {
	return r.Status != ReleaseCompleted && r.Status != ReleaseArchived
}

// HasPlatform reports whether p is one of the release's target platforms.
func (r *Release) HasPlatform(p Platform) bool {
	for _, t := range r.Platforms {
		if t == p {
			return true
		}
	}
	return false
}
