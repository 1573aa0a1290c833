package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
)

func platformsToString(platforms []models.Platform) string {
	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

func parsePlatforms(raw string) []models.Platform {
	if raw == "" {
		return nil
	}
	var platforms []models.Platform
	for _, p := range strings.Split(raw, ",") {
		platforms = append(platforms, models.Platform(p))
	}
	return platforms
}

func (d *Database) CreateRelease(r *models.Release) error {
	_, err := d.db.Exec(`
		INSERT INTO releases (id, app_id, kind, phase, status, pause_reason, branch, base_branch, version_name, platforms, created_by, kickoff_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.AppID, r.Kind, r.Phase, r.Status, r.PauseReason, r.Branch, r.BaseBranch, r.VersionName,
		platformsToString(r.Platforms), r.CreatedBy, r.KickoffAt, r.CreatedAt, r.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}
	return nil
}

const releaseColumns = `id, app_id, kind, phase, status, pause_reason, branch, base_branch, version_name, platforms, created_by, kickoff_at, created_at, updated_at`

func scanRelease(row interface{ Scan(...interface{}) error }) (*models.Release, error) {
	var r models.Release
	var platforms string
	err := row.Scan(&r.ID, &r.AppID, &r.Kind, &r.Phase, &r.Status, &r.PauseReason,
		&r.Branch, &r.BaseBranch, &r.VersionName, &platforms, &r.CreatedBy, &r.KickoffAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Platforms = parsePlatforms(platforms)
	return &r, nil
}

func (d *Database) GetRelease(id string) (*models.Release, error) {
	row := d.db.QueryRow(`SELECT `+releaseColumns+` FROM releases WHERE id = ?`, id)

	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("release %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return r, nil
}

// GetActiveRelease returns the app's non-terminal release, or nil when
// none exists. At most one release train runs per app at a time.
func (d *Database) GetActiveRelease(appID string) (*models.Release, error) {
	row := d.db.QueryRow(`
		SELECT `+releaseColumns+` FROM releases
		WHERE app_id = ? AND status NOT IN ('COMPLETED', 'ARCHIVED')
		ORDER BY created_at DESC LIMIT 1
	`, appID)

	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active release: %w", err)
	}
	return r, nil
}

func (d *Database) ListReleases(appID string, limit, offset int) ([]models.Release, int, error) {
	countQuery := `SELECT COUNT(*) FROM releases`
	listQuery := `SELECT ` + releaseColumns + ` FROM releases`
	args := []interface{}{}

	if appID != "" {
		countQuery += ` WHERE app_id = ?`
		listQuery += ` WHERE app_id = ?`
		args = append(args, appID)
	}

	var total int
	if err := d.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count releases: %w", err)
	}

	listQuery += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := d.db.Query(listQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	releases := []models.Release{}
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, *r)
	}

	return releases, total, rows.Err()
}

// ListActiveReleases returns every release the scheduler should still drive.
func (d *Database) ListActiveReleases() ([]models.Release, error) {
	rows, err := d.db.Query(`
		SELECT ` + releaseColumns + ` FROM releases
		WHERE status NOT IN ('COMPLETED', 'ARCHIVED')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active releases: %w", err)
	}
	defer rows.Close()

	var releases []models.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, *r)
	}

	return releases, rows.Err()
}

// UpdateReleaseState writes phase, status and pause reason in one statement.
func (d *Database) UpdateReleaseState(id string, phase models.ReleasePhase, status models.ReleaseStatus, reason models.PauseReason) error {
	result, err := d.db.Exec(`
		UPDATE releases SET phase = ?, status = ?, pause_reason = ?, updated_at = ? WHERE id = ?
	`, phase, status, reason, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to update release state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("release %s: %w", id, models.ErrNotFound)
	}
	return nil
}
