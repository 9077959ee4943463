package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    run_timestamp TEXT NOT NULL,
    address TEXT NOT NULL,
    latitude TEXT,
    longitude TEXT,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS branch_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    source TEXT NOT NULL,
    container TEXT NOT NULL,
    healthy BOOLEAN,
    outcome TEXT NOT NULL,
    stage TEXT,
    object_key TEXT,
    error_message TEXT,
    UNIQUE(run_id, source)
);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    url TEXT,
    http_status INTEGER,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER DEFAULT 1
);
`,
	},
	{
		Version:     2,
		Description: "Add indexes for run history queries",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_branch_runs_run ON branch_runs(run_id);
CREATE INDEX IF NOT EXISTS idx_raw_payloads_source_fetched ON raw_payloads(source, fetched_at);
`,
	},
	{
		Version:     3,
		Description: "Add attempt counter to pipeline runs",
		SQL: `
ALTER TABLE pipeline_runs ADD COLUMN attempt INTEGER DEFAULT 1;
`,
	},
	{
		Version:     4,
		Description: "Add quality flags and timing to branch runs",
		SQL: `
ALTER TABLE branch_runs ADD COLUMN quality_flags TEXT;
ALTER TABLE branch_runs ADD COLUMN duration_ms INTEGER;
`,
	},
}

// Migrate brings the schema up to date. Each migration runs in its own
// transaction together with its schema_migrations row.
func (s *Store) Migrate() error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	current, err := s.MigrationVersion()
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		s.log.Info("migrations: applying", zap.Int("version", m.Version), zap.String("description", m.Description))
		if err := s.apply(ctx, m); err != nil {
			return errors.Wrapf(err, "migration %d", m.Version)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return errors.Wrap(err, "execute")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return errors.Wrap(err, "record")
	}
	return tx.Commit()
}

// MigrationVersion is the highest applied migration, 0 for a fresh database.
func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
