package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertTask(e execer, t *models.ReleaseTask) error {
	output, err := t.Output.Encode()
	if err != nil {
		return err
	}

	var cycleID, platform sql.NullString
	if t.CycleID != nil {
		cycleID = sql.NullString{String: *t.CycleID, Valid: true}
	}
	if t.Platform != nil {
		platform = sql.NullString{String: string(*t.Platform), Valid: true}
	}

	_, err = e.Exec(`
		INSERT INTO release_tasks (id, release_id, cycle_id, platform, stage, type, status, conclusion, output, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ReleaseID, cycleID, platform, t.Stage, t.Type, t.Status, t.Conclusion, output, t.RetryCount, t.CreatedAt, t.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// CreateTasks inserts a stage's task set in one transaction so callbacks can
// never observe a partially created stage.
func (d *Database) CreateTasks(tasks []models.ReleaseTask) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range tasks {
		if err := insertTask(tx, &tasks[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const taskColumns = `id, release_id, cycle_id, platform, stage, type, status, conclusion, output, retry_count, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.ReleaseTask, error) {
	var t models.ReleaseTask
	var cycleID, platform sql.NullString
	var output string

	err := row.Scan(&t.ID, &t.ReleaseID, &cycleID, &platform, &t.Stage, &t.Type,
		&t.Status, &t.Conclusion, &output, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if cycleID.Valid {
		t.CycleID = &cycleID.String
	}
	if platform.Valid {
		p := models.Platform(platform.String)
		t.Platform = &p
	}
	t.Output, err = models.DecodeTaskOutput(output)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *Database) GetTask(id string) (*models.ReleaseTask, error) {
	row := d.db.QueryRow(`SELECT `+taskColumns+` FROM release_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (d *Database) ListTasks(releaseID string) ([]models.ReleaseTask, error) {
	return d.queryTasks(`
		SELECT `+taskColumns+` FROM release_tasks
		WHERE release_id = ? ORDER BY created_at ASC, id ASC
	`, releaseID)
}

// ListStageTasks returns the tasks gating a stage. For the REGRESSION stage
// the cycle id scopes the query to one cycle's task set.
func (d *Database) ListStageTasks(releaseID string, stage models.TaskStage, cycleID *string) ([]models.ReleaseTask, error) {
	if cycleID != nil {
		return d.queryTasks(`
			SELECT `+taskColumns+` FROM release_tasks
			WHERE release_id = ? AND stage = ? AND cycle_id = ?
			ORDER BY created_at ASC, id ASC
		`, releaseID, stage, *cycleID)
	}
	return d.queryTasks(`
		SELECT `+taskColumns+` FROM release_tasks
		WHERE release_id = ? AND stage = ?
		ORDER BY created_at ASC, id ASC
	`, releaseID, stage)
}

func (d *Database) queryTasks(query string, args ...interface{}) ([]models.ReleaseTask, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.ReleaseTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}

	return tasks, rows.Err()
}

// UpdateTaskStatus records a task transition together with its conclusion
// and output payload. Transitions are checked against ValidTaskTransition;
// re-writing the current status only refreshes conclusion and output.
func (d *Database) UpdateTaskStatus(id string, status models.TaskStatus, conclusion string, output models.TaskOutput) error {
	current, err := d.GetTask(id)
	if err != nil {
		return err
	}
	if status != current.Status && !models.ValidTaskTransition(current.Status, status) {
		return models.NewConflictError("task %s cannot move from %s to %s", id, current.Status, status)
	}

	encoded, err := output.Encode()
	if err != nil {
		return err
	}

	result, err := d.db.Exec(`
		UPDATE release_tasks SET status = ?, conclusion = ?, output = ?, updated_at = ? WHERE id = ? AND status = ?
	`, status, conclusion, encoded, time.Now().UTC(), id, current.Status)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return models.NewConflictError("task %s was modified concurrently", id)
	}
	return nil
}

// ResetTaskForRetry flips a FAILED task back to PENDING and bumps the retry
// counter. The caller validates the current status first.
func (d *Database) ResetTaskForRetry(id string) error {
	result, err := d.db.Exec(`
		UPDATE release_tasks
		SET status = ?, conclusion = '', retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.TaskPending, time.Now().UTC(), id, models.TaskFailed)
	if err != nil {
		return fmt.Errorf("failed to reset task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s is not in a retryable state", id)
	}
	return nil
}
