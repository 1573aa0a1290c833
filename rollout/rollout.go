// Package rollout implements the post-approval distribution state
// machine: staged rollout updates, pause/resume, halt, cancellation,
// retry and store review status sync. Every state change is written
// together with its audit row in one transaction, so the action history
// is a complete transcript of the submission's lifecycle.
package rollout

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/integrations"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

// Locker serializes submission operations against the owning release, so
// a halt and a concurrent rollout update cannot interleave. The engine's
// per-release lock satisfies this.
type Locker interface {
	Lock(key string) func()
}

type Manager struct {
	db       *db.Database
	stores   map[models.Platform]integrations.Store
	notifier integrations.Notifier
	locks    Locker
}

func NewManager(database *db.Database, stores map[models.Platform]integrations.Store, notifier integrations.Notifier, locks Locker) *Manager {
	if notifier == nil {
		notifier = integrations.NopNotifier{}
	}
	return &Manager{db: database, stores: stores, notifier: notifier, locks: locks}
}

// locked loads the submission, takes its release's lock and re-reads it,
// so the caller always operates on current state.
func (m *Manager) locked(submissionID string) (*models.Submission, func(), error) {
	stale, err := m.db.GetSubmission(submissionID)
	if err != nil {
		return nil, nil, err
	}

	unlock := m.locks.Lock(stale.ReleaseID)

	sub, err := m.db.GetSubmission(submissionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return sub, unlock, nil
}

func (m *Manager) store(platform models.Platform) (integrations.Store, error) {
	s, ok := m.stores[platform]
	if !ok || s == nil {
		return nil, fmt.Errorf("no store client configured for platform %s", platform)
	}
	return s, nil
}

// UpdateRollout raises an Android staged rollout to pct. Percentages only
// move forward; reaching 100 makes the submission terminal.
func (m *Manager) UpdateRollout(submissionID string, pct float64, actor string) (*models.Submission, error) {
	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Platform != models.PlatformAndroid {
		return nil, models.NewConflictError("manual rollout updates are not supported on %s; the store controls phased release pacing", sub.Platform)
	}
	if sub.Terminal() {
		return nil, models.NewConflictError("submission %s is %s and can no longer change", sub.ID, sub.Status)
	}
	switch sub.Status {
	case models.SubmissionApproved, models.SubmissionPendingDevRelease, models.SubmissionLive:
	default:
		return nil, models.NewConflictError("cannot update rollout while submission is %s", sub.Status)
	}
	if pct <= sub.RolloutPct {
		return nil, models.NewConflictError("rollout percentage must increase: current %.1f, requested %.1f", sub.RolloutPct, pct)
	}
	if pct > 100 {
		return nil, models.NewValidationError("percent", "rollout percentage cannot exceed 100")
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, err
	}
	if err := store.SetRollout(sub.VersionName, pct); err != nil {
		return nil, err
	}

	prev := sub.RolloutPct
	sub.Status = models.SubmissionLive
	sub.RolloutPct = pct

	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       models.ActionRolloutUpdate,
		Actor:        actor,
		Detail:       fmt.Sprintf("%.1f%% -> %.1f%%", prev, pct),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Rollout for %s (%s) raised to %.1f%% by %s", sub.VersionName, sub.Platform, pct, actor)
	if pct >= 100 {
		m.notify(sub, fmt.Sprintf("%s rollout completed on %s", sub.VersionName, sub.Platform))
	}
	return sub, nil
}

// PauseRollout freezes an iOS phased release at its current percentage.
func (m *Manager) PauseRollout(submissionID, actor string) (*models.Submission, error) {
	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Platform != models.PlatformIOS {
		return nil, models.NewConflictError("rollout pause is only supported on ios; use a rollout update to hold %s", sub.Platform)
	}
	if sub.Terminal() {
		return nil, models.NewConflictError("submission %s is %s and can no longer change", sub.ID, sub.Status)
	}
	if sub.Status != models.SubmissionLive {
		return nil, models.NewConflictError("cannot pause rollout while submission is %s", sub.Status)
	}
	if sub.RolloutPaused {
		return nil, models.NewConflictError("rollout for submission %s is already paused", sub.ID)
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, err
	}
	if err := store.PauseRollout(sub.VersionName); err != nil {
		return nil, err
	}

	sub.RolloutPaused = true
	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       models.ActionRolloutPause,
		Actor:        actor,
		Detail:       fmt.Sprintf("paused at %.1f%%", sub.RolloutPct),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Rollout for %s (ios) paused at %.1f%% by %s", sub.VersionName, sub.RolloutPct, actor)
	return sub, nil
}

// ResumeRollout continues a paused iOS phased release from where it stopped.
func (m *Manager) ResumeRollout(submissionID, actor string) (*models.Submission, error) {
	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Platform != models.PlatformIOS {
		return nil, models.NewConflictError("rollout resume is only supported on ios")
	}
	if sub.Terminal() {
		return nil, models.NewConflictError("submission %s is %s and can no longer change", sub.ID, sub.Status)
	}
	if !sub.RolloutPaused {
		return nil, models.NewConflictError("rollout for submission %s is not paused", sub.ID)
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, err
	}
	if err := store.ResumeRollout(sub.VersionName); err != nil {
		return nil, err
	}

	sub.RolloutPaused = false
	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       models.ActionRolloutResume,
		Actor:        actor,
		Detail:       fmt.Sprintf("resumed from %.1f%%", sub.RolloutPct),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Rollout for %s (ios) resumed from %.1f%% by %s", sub.VersionName, sub.RolloutPct, actor)
	return sub, nil
}

// HaltRollout permanently stops distribution of the submitted build. A
// halt is irreversible and requires a reason; it is the emergency stop
// for a build that turned out to be broken in the field.
func (m *Manager) HaltRollout(submissionID, reason, actor string) (*models.Submission, error) {
	if reason == "" {
		return nil, models.NewValidationError("reason", "a halt requires a reason")
	}

	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Terminal() {
		return nil, models.NewConflictError("submission %s is %s and cannot be halted", sub.ID, sub.Status)
	}
	if sub.Status == models.SubmissionRejected {
		return nil, models.NewConflictError("submission %s was rejected by the store; there is nothing to halt", sub.ID)
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, err
	}
	if err := store.Halt(sub.VersionName); err != nil {
		return nil, err
	}

	prev := sub.RolloutPct
	sub.Status = models.SubmissionHalted
	sub.RolloutPct = 0
	sub.RolloutPaused = false

	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       models.ActionHalt,
		Reason:       reason,
		Actor:        actor,
		Detail:       fmt.Sprintf("halted at %.1f%%", prev),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Rollout for %s (%s) halted by %s: %s", sub.VersionName, sub.Platform, actor, reason)
	m.notify(sub, fmt.Sprintf("%s halted on %s: %s", sub.VersionName, sub.Platform, reason))
	return sub, nil
}

// CancelSubmission withdraws a submission that has not gone live. A live
// rollout cannot be cancelled; halting is the only way to stop it.
func (m *Manager) CancelSubmission(submissionID, reason, actor string) (*models.Submission, error) {
	if reason == "" {
		return nil, models.NewValidationError("reason", "a cancellation requires a reason")
	}

	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Status == models.SubmissionLive {
		return nil, models.NewConflictError("submission %s is live; halt the rollout instead of cancelling", sub.ID)
	}
	if !sub.Status.Cancellable() {
		return nil, models.NewConflictError("cannot cancel a submission in status %s", sub.Status)
	}

	sub.Status = models.SubmissionCancelled
	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       models.ActionCancel,
		Reason:       reason,
		Actor:        actor,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Submission %s for %s (%s) cancelled by %s: %s", sub.ID, sub.VersionName, sub.Platform, actor, reason)
	return sub, nil
}

// RetrySubmission resubmits a rejected build to the store as a new
// submission linked to the rejected one. Both sides of the lineage get a
// RETRY audit row.
func (m *Manager) RetrySubmission(submissionID, actor string) (*models.Submission, error) {
	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.Status != models.SubmissionRejected {
		return nil, models.NewConflictError("only rejected submissions can be retried; submission %s is %s", sub.ID, sub.Status)
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, err
	}
	if err := store.Submit(integrations.SubmitParams{VersionName: sub.VersionName, BuildNumber: sub.BuildNumber}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	retry := &models.Submission{
		ID:          uuid.New().String(),
		ReleaseID:   sub.ReleaseID,
		Platform:    sub.Platform,
		Status:      models.SubmissionWaitingForReview,
		VersionName: sub.VersionName,
		BuildNumber: sub.BuildNumber,
		RetryOf:     &sub.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = m.db.CreateSubmissionWithHistory(retry,
		&models.SubmissionActionHistory{
			SubmissionID: retry.ID,
			Action:       models.ActionRetry,
			Actor:        actor,
			Detail:       "retry of " + sub.ID,
			CreatedAt:    now,
		},
		&models.SubmissionActionHistory{
			SubmissionID: sub.ID,
			Action:       models.ActionRetry,
			Actor:        actor,
			Detail:       "retried as " + retry.ID,
			CreatedAt:    now,
		})
	if err != nil {
		return nil, err
	}

	log.Printf("Submission %s for %s (%s) retried as %s by %s", sub.ID, sub.VersionName, sub.Platform, retry.ID, actor)
	return retry, nil
}

// SyncStatus pulls the store's review verdict and rollout fraction into
// the submission. Store-reported rollout only moves the local percentage
// forward, never back. It returns the submission and whether it changed.
func (m *Manager) SyncStatus(submissionID string) (*models.Submission, bool, error) {
	sub, unlock, err := m.locked(submissionID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if sub.Terminal() {
		return sub, false, nil
	}

	store, err := m.store(sub.Platform)
	if err != nil {
		return nil, false, err
	}
	review, err := store.GetReviewStatus(sub.VersionName)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync submission %s: %w", sub.ID, err)
	}

	status, ok := reviewStatusMap[review.Status]
	if !ok {
		log.Printf("Ignoring unknown store review status %q for submission %s", review.Status, sub.ID)
		return sub, false, nil
	}

	pct := sub.RolloutPct
	if status == models.SubmissionLive && review.RolloutPct > pct {
		pct = review.RolloutPct
	}
	if status == sub.Status && pct == sub.RolloutPct {
		return sub, false, nil
	}

	action := models.ActionStatusSync
	switch status {
	case models.SubmissionApproved:
		action = models.ActionApprove
	case models.SubmissionRejected:
		action = models.ActionReject
	}

	detail := fmt.Sprintf("%s -> %s", sub.Status, status)
	sub.Status = status
	sub.RolloutPct = pct

	err = m.db.UpdateSubmissionWithHistory(sub, &models.SubmissionActionHistory{
		SubmissionID: sub.ID,
		Action:       action,
		Actor:        "store-sync",
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, false, err
	}

	log.Printf("Submission %s for %s (%s): %s", sub.ID, sub.VersionName, sub.Platform, detail)
	switch status {
	case models.SubmissionApproved:
		m.notify(sub, fmt.Sprintf("%s approved by the %s store", sub.VersionName, sub.Platform))
	case models.SubmissionRejected:
		m.notify(sub, fmt.Sprintf("%s rejected by the %s store", sub.VersionName, sub.Platform))
	}
	return sub, true, nil
}

// SyncAll runs a status sync over every open submission and returns the
// releases whose submissions changed, so the caller can advance them.
func (m *Manager) SyncAll() ([]string, error) {
	open, err := m.db.ListOpenSubmissions()
	if err != nil {
		return nil, err
	}

	touched := map[string]bool{}
	for i := range open {
		_, changed, err := m.SyncStatus(open[i].ID)
		if err != nil {
			log.Printf("Status sync failed for submission %s: %v", open[i].ID, err)
			continue
		}
		if changed {
			touched[open[i].ReleaseID] = true
		}
	}

	releases := make([]string, 0, len(touched))
	for id := range touched {
		releases = append(releases, id)
	}
	return releases, nil
}

var reviewStatusMap = map[string]models.SubmissionStatus{
	"waiting_for_review":        models.SubmissionWaitingForReview,
	"in_review":                 models.SubmissionInReview,
	"approved":                  models.SubmissionApproved,
	"pending_developer_release": models.SubmissionPendingDevRelease,
	"live":                      models.SubmissionLive,
	"rejected":                  models.SubmissionRejected,
}

func (m *Manager) notify(sub *models.Submission, message string) {
	event := integrations.Event{
		Kind:      "submission",
		ReleaseID: sub.ReleaseID,
		Subject:   sub.VersionName,
		Message:   message,
	}
	if err := m.notifier.Send(event); err != nil {
		log.Printf("Failed to send notification for submission %s: %v", sub.ID, err)
	}
}
