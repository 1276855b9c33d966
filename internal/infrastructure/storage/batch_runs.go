package storage

import (
	"context"
	"database/sql"
	"time"
)

const batchRunColumns = `id, started_at, completed_at, status, records_total, auto_matched,
	queued_for_review, quarantined, duplicate_flagged, already_linked, errored, unprocessed, timed_out`

// StartBatchRun records the start of a batch and returns the run ID
func (s *Storage) StartBatchRun(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (started_at, status) VALUES (?, ?)`,
		formatTime(time.Now()), BatchRunning)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteBatchRun records the outcome counts of a batch
func (s *Storage) CompleteBatchRun(ctx context.Context, runID int64, counts BatchCounts, status string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE batch_runs
	SET completed_at = ?, status = ?, records_total = ?, auto_matched = ?, queued_for_review = ?,
	    quarantined = ?, duplicate_flagged = ?, already_linked = ?, errored = ?, unprocessed = ?, timed_out = ?
	WHERE id = ?
	`,
		formatTime(time.Now()),
		status,
		counts.RecordsTotal,
		counts.AutoMatched,
		counts.QueuedForReview,
		counts.Quarantined,
		counts.DuplicateFlagged,
		counts.AlreadyLinked,
		counts.Errored,
		counts.Unprocessed,
		boolToInt(counts.TimedOut),
		runID,
	)
	return err
}

// ListBatchRuns returns recent runs, newest first
func (s *Storage) ListBatchRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchRunColumns+` FROM batch_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetBatchRun retrieves a single run
func (s *Storage) GetBatchRun(ctx context.Context, runID int64) (*BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchRunColumns+` FROM batch_runs WHERE id = ?`, runID)
	run, err := scanBatchRun(row)
	if err != nil {
		return nil, notFound(err, "batch run")
	}
	return run, nil
}

func scanBatchRun(row rowScanner) (*BatchRun, error) {
	var (
		run         BatchRun
		completedAt sql.NullString
		timedOut    int
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&completedAt,
		&run.Status,
		&run.RecordsTotal,
		&run.AutoMatched,
		&run.QueuedForReview,
		&run.Quarantined,
		&run.DuplicateFlagged,
		&run.AlreadyLinked,
		&run.Errored,
		&run.Unprocessed,
		&timedOut,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.String
	}
	run.TimedOut = timedOut == 1
	return &run, nil
}
