package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lox/weatherlanding/internal/ingest"
	"github.com/lox/weatherlanding/internal/models"
)

// RunRecord is an audited pipeline run.
type RunRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	RunTimestamp string
	Address      string
	Attempt      int
	Latitude     sql.NullString
	Longitude    sql.NullString
	Success      bool
	ErrorMessage sql.NullString
	Branches     []BranchRecord
}

// BranchRecord is one source branch of an audited run.
type BranchRecord struct {
	RunID        string
	Source       string
	Container    string
	Healthy      bool
	Outcome      string
	Stage        sql.NullString
	ObjectKey    sql.NullString
	QualityFlags sql.NullString
	DurationMS   sql.NullInt64
	ErrorMessage sql.NullString
}

// StartRun records a run as in progress.
func (s *Store) StartRun(ctx context.Context, report *models.RunReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, started_at, run_timestamp, address, attempt, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
		ON CONFLICT(id) DO NOTHING
	`, report.ID, report.StartedAt.UTC(), report.Timestamp.String(), report.Address, report.Attempt)
	return errors.Wrap(err, "insert pipeline run")
}

// CompleteRun writes the final state of a run and its branches. It also
// works for a run that was never started.
func (s *Store) CompleteRun(ctx context.Context, report *models.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, started_at, finished_at, run_timestamp, address, attempt,
			latitude, longitude, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			success = excluded.success,
			error_message = excluded.error_message
	`, report.ID, report.StartedAt.UTC(), nullTime(report.FinishedAt), report.Timestamp.String(),
		report.Address, report.Attempt, nullString(report.Coordinates.Latitude),
		nullString(report.Coordinates.Longitude), report.Success(), errString(report.Err))
	if err != nil {
		return errors.Wrap(err, "upsert pipeline run")
	}

	for _, b := range report.Branches {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO branch_runs (run_id, source, container, healthy, outcome, stage,
				object_key, quality_flags, duration_ms, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, source) DO UPDATE SET
				healthy = excluded.healthy,
				outcome = excluded.outcome,
				stage = excluded.stage,
				object_key = excluded.object_key,
				quality_flags = excluded.quality_flags,
				duration_ms = excluded.duration_ms,
				error_message = excluded.error_message
		`, report.ID, string(b.Source), b.Container, b.Healthy, string(b.Outcome), nullString(b.Stage),
			nullString(b.Key), nullString(ingest.QualityFlagsToJSON(b.Flags)),
			b.Duration.Milliseconds(), errString(b.Err))
		if err != nil {
			return errors.Wrapf(err, "upsert branch run %s", b.Source)
		}
	}

	return errors.Wrap(tx.Commit(), "commit run")
}

// RecentRuns returns the latest runs, newest first, with their branches.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, run_timestamp, address, attempt,
			   latitude, longitude, success, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	index := map[string]int{}
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.RunTimestamp, &r.Address,
			&r.Attempt, &r.Latitude, &r.Longitude, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return runs, nil
	}

	branches, err := s.db.QueryContext(ctx, `
		SELECT b.run_id, b.source, b.container, b.healthy, b.outcome, b.stage,
			   b.object_key, b.quality_flags, b.duration_ms, b.error_message
		FROM branch_runs b
		JOIN (SELECT id FROM pipeline_runs ORDER BY started_at DESC LIMIT ?) r ON r.id = b.run_id
		ORDER BY b.run_id, b.source
	`, limit)
	if err != nil {
		return nil, err
	}
	defer branches.Close()

	for branches.Next() {
		var b BranchRecord
		if err := branches.Scan(&b.RunID, &b.Source, &b.Container, &b.Healthy, &b.Outcome, &b.Stage,
			&b.ObjectKey, &b.QualityFlags, &b.DurationMS, &b.ErrorMessage); err != nil {
			return nil, err
		}
		if i, ok := index[b.RunID]; ok {
			runs[i].Branches = append(runs[i].Branches, b)
		}
	}
	return runs, branches.Err()
}

// LastRun returns the most recent run, or nil if there is none.
func (s *Store) LastRun(ctx context.Context) (*RunRecord, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// RunHealthSummary is a daily per-source tally of branch outcomes.
type RunHealthSummary struct {
	Date    string
	Source  string
	Total   int
	Written int
	Skipped int
	Failed  int
	Flagged int
}

// GetRunHealth summarizes branch outcomes for the last N days.
func (s *Store) GetRunHealth(ctx context.Context, days int) ([]RunHealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(SUBSTR(p.started_at, 1, 19)) as date,
			b.source,
			COUNT(*) as total,
			SUM(CASE WHEN b.outcome = 'written' THEN 1 ELSE 0 END) as written,
			SUM(CASE WHEN b.outcome = 'skipped' THEN 1 ELSE 0 END) as skipped,
			SUM(CASE WHEN b.outcome = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN COALESCE(b.quality_flags, '') != '' THEN 1 ELSE 0 END) as flagged
		FROM branch_runs b
		JOIN pipeline_runs p ON p.id = b.run_id
		WHERE SUBSTR(p.started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, b.source
		ORDER BY date DESC, b.source
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunHealthSummary
	for rows.Next() {
		var h RunHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Total, &h.Written, &h.Skipped, &h.Failed, &h.Flagged); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func errString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
