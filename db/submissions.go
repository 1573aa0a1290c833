package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

const submissionColumns = `id, release_id, platform, status, rollout_pct, rollout_paused, version_name, build_number, retry_of, created_at, updated_at`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*models.Submission, error) {
	var s models.Submission
	var retryOf sql.NullString

	err := row.Scan(&s.ID, &s.ReleaseID, &s.Platform, &s.Status, &s.RolloutPct,
		&s.RolloutPaused, &s.VersionName, &s.BuildNumber, &retryOf, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if retryOf.Valid {
		s.RetryOf = &retryOf.String
	}
	return &s, nil
}

func insertSubmission(e execer, s *models.Submission) error {
	var retryOf sql.NullString
	if s.RetryOf != nil {
		retryOf = sql.NullString{String: *s.RetryOf, Valid: true}
	}

	_, err := e.Exec(`
		INSERT INTO submissions (id, release_id, platform, status, rollout_pct, rollout_paused, version_name, build_number, retry_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ReleaseID, s.Platform, s.Status, s.RolloutPct, s.RolloutPaused,
		s.VersionName, s.BuildNumber, retryOf, s.CreatedAt, s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func insertHistory(e execer, h *models.SubmissionActionHistory) error {
	_, err := e.Exec(`
		INSERT INTO submission_action_history (submission_id, action, reason, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.SubmissionID, h.Action, h.Reason, h.Actor, h.Detail, h.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append action history: %w", err)
	}
	return nil
}

func (d *Database) GetSubmission(id string) (*models.Submission, error) {
	row := d.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)

	s, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submission %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return s, nil
}

func (d *Database) ListSubmissions(releaseID string) ([]models.Submission, error) {
	rows, err := d.db.Query(`
		SELECT `+submissionColumns+` FROM submissions
		WHERE release_id = ? ORDER BY created_at ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	submissions := []models.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, *s)
	}

	return submissions, rows.Err()
}

// ListOpenSubmissions returns every submission still awaiting a store
// verdict or an unfinished rollout, for the status sync pass.
func (d *Database) ListOpenSubmissions() ([]models.Submission, error) {
	rows, err := d.db.Query(`
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE status NOT IN ('REJECTED', 'CANCELLED', 'HALTED')
		AND NOT (status = 'LIVE' AND rollout_pct >= 100)
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open submissions: %w", err)
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, *s)
	}

	return submissions, rows.Err()
}

// CreateSubmissionWithHistory inserts a submission and its audit rows
// atomically. A retry writes lineage entries on both sides, hence the
// variadic history.
func (d *Database) CreateSubmissionWithHistory(s *models.Submission, history ...*models.SubmissionActionHistory) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSubmission(tx, s); err != nil {
		return err
	}
	for _, h := range history {
		if err := insertHistory(tx, h); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateSubmissionWithHistory writes the new submission state and appends
// the audit row in the same transaction, so the history can always
// reconstruct the transition sequence.
func (d *Database) UpdateSubmissionWithHistory(s *models.Submission, h *models.SubmissionActionHistory) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE submissions SET status = ?, rollout_pct = ?, rollout_paused = ?, build_number = ?, updated_at = ?
		WHERE id = ?
	`, s.Status, s.RolloutPct, s.RolloutPaused, s.BuildNumber, time.Now().UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("submission %s: %w", s.ID, models.ErrNotFound)
	}

	if err := insertHistory(tx, h); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *Database) ListHistory(submissionID string) ([]models.SubmissionActionHistory, error) {
	rows, err := d.db.Query(`
		SELECT id, submission_id, action, reason, actor, detail, created_at
		FROM submission_action_history
		WHERE submission_id = ? ORDER BY id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action history: %w", err)
	}
	defer rows.Close()

	history := []models.SubmissionActionHistory{}
	for rows.Next() {
		var h models.SubmissionActionHistory
		if err := rows.Scan(&h.ID, &h.SubmissionID, &h.Action, &h.Reason, &h.Actor, &h.Detail, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action history: %w", err)
		}
		history = append(history, h)
	}

	return history, rows.Err()
}
