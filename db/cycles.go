package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

const cycleColumns = `id, release_id, seq, tag, status, is_latest, created_at, completed_at`

func scanCycle(row interface{ Scan(...interface{}) error }) (*models.RegressionCycle, error) {
	var c models.RegressionCycle
	var completedAt sql.NullTime
	err := row.Scan(&c.ID, &c.ReleaseID, &c.Seq, &c.Tag, &c.Status, &c.IsLatest, &c.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

// GetLatestCycle returns the cycle marked latest for a release, or nil when
// the release has no cycles yet.
func (d *Database) GetLatestCycle(releaseID string) (*models.RegressionCycle, error) {
	row := d.db.QueryRow(`
		SELECT `+cycleColumns+` FROM regression_cycles
		WHERE release_id = ? AND is_latest = 1
	`, releaseID)

	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest cycle: %w", err)
	}
	return c, nil
}

func (d *Database) GetCycle(id string) (*models.RegressionCycle, error) {
	row := d.db.QueryRow(`SELECT `+cycleColumns+` FROM regression_cycles WHERE id = ?`, id)

	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cycle %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	return c, nil
}

func (d *Database) CountCycles(releaseID string) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM regression_cycles WHERE release_id = ?`, releaseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return count, nil
}

func (d *Database) ListCycles(releaseID string) ([]models.RegressionCycle, error) {
	rows, err := d.db.Query(`
		SELECT `+cycleColumns+` FROM regression_cycles
		WHERE release_id = ? ORDER BY seq ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	cycles := []models.RegressionCycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, *c)
	}

	return cycles, rows.Err()
}

// CreateCycleWithTasks finalizes the previous latest cycle and inserts the
// new cycle with its task set in one transaction. The partial unique index
// on (release_id) WHERE is_latest=1 backstops the single-latest invariant.
func (d *Database) CreateCycleWithTasks(cycle *models.RegressionCycle, tasks []models.ReleaseTask) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE regression_cycles
		SET is_latest = 0, status = ?, completed_at = ?
		WHERE release_id = ? AND is_latest = 1
	`, models.CycleDone, now, cycle.ReleaseID)
	if err != nil {
		return fmt.Errorf("failed to finalize previous cycle: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO regression_cycles (id, release_id, seq, tag, status, is_latest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cycle.ID, cycle.ReleaseID, cycle.Seq, cycle.Tag, cycle.Status, cycle.IsLatest, cycle.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cycle: %w", err)
	}

	for i := range tasks {
		if err := insertTask(tx, &tasks[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}
