package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db *sql.DB
}

func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS releases (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		pause_reason TEXT NOT NULL DEFAULT 'NONE',
		branch TEXT NOT NULL,
		base_branch TEXT NOT NULL DEFAULT '',
		version_name TEXT NOT NULL,
		platforms TEXT NOT NULL,
		created_by TEXT NOT NULL,
		kickoff_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_releases_app ON releases(app_id);
	CREATE INDEX IF NOT EXISTS idx_releases_status ON releases(status);

	CREATE TABLE IF NOT EXISTS regression_cycles (
		id TEXT PRIMARY KEY,
		release_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tag TEXT NOT NULL,
		status TEXT NOT NULL,
		is_latest INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		FOREIGN KEY (release_id) REFERENCES releases(id),
		UNIQUE (release_id, seq)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_cycles_latest
		ON regression_cycles(release_id) WHERE is_latest = 1;

	CREATE TABLE IF NOT EXISTS release_tasks (
		id TEXT PRIMARY KEY,
		release_id TEXT NOT NULL,
		cycle_id TEXT,
		platform TEXT,
		stage TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		conclusion TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (release_id) REFERENCES releases(id),
		FOREIGN KEY (cycle_id) REFERENCES regression_cycles(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_release_stage ON release_tasks(release_id, stage);
	CREATE INDEX IF NOT EXISTS idx_tasks_cycle ON release_tasks(cycle_id);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		release_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL,
		rollout_pct REAL NOT NULL DEFAULT 0,
		rollout_paused INTEGER NOT NULL DEFAULT 0,
		version_name TEXT NOT NULL,
		build_number TEXT NOT NULL DEFAULT '',
		retry_of TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (release_id) REFERENCES releases(id)
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_release ON submissions(release_id);
	CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

	CREATE TABLE IF NOT EXISTS submission_action_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_history_submission ON submission_action_history(submission_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping() error {
	return d.db.Ping()
}
