package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const candidateColumns = `id, record_a, record_b, confidence, classification, possible_repeat,
	recommend_delete, status, resolved_by, detected_at`

// SaveCandidates inserts new candidates and returns how many were new.
// A pair already recorded and still open only moves toward caution: it can
// gain PossibleRepeat and lose RecommendDelete, never the reverse.
func (s *Storage) SaveCandidates(ctx context.Context, candidates []model.DuplicateCandidate) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range candidates {
			status := c.Status
			if status == "" {
				status = model.CandidateOpen
			}
			res, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_candidates (`+candidateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_a, record_b) DO NOTHING
			`,
				c.ID,
				c.RecordA,
				c.RecordB,
				c.Confidence,
				string(c.Classification),
				boolToInt(c.PossibleRepeat),
				boolToInt(c.RecommendDelete),
				string(status),
				c.ResolvedBy,
				formatTime(c.DetectedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to save candidate %s/%s: %w", c.RecordA, c.RecordB, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				inserted++
				continue
			}
			if _, err := tx.ExecContext(ctx, `
			UPDATE duplicate_candidates
			SET possible_repeat = MAX(possible_repeat, ?), recommend_delete = MIN(recommend_delete, ?)
			WHERE record_a = ? AND record_b = ? AND status = 'open'
			`,
				boolToInt(c.PossibleRepeat),
				boolToInt(c.RecommendDelete),
				c.RecordA,
				c.RecordB,
			); err != nil {
				return fmt.Errorf("failed to update candidate %s/%s: %w", c.RecordA, c.RecordB, err)
			}
		}
		return nil
	})
	return inserted, err
}

// GetCandidate retrieves a duplicate candidate by id
func (s *Storage) GetCandidate(ctx context.Context, id string) (*model.DuplicateCandidate, error) {
	return getCandidate(ctx, s.db, id)
}

func getCandidate(ctx context.Context, q querier, id string) (*model.DuplicateCandidate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM duplicate_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err != nil {
		return nil, notFound(err, "duplicate candidate "+id)
	}
	return c, nil
}

// ListCandidates returns candidates with the given status, newest first
func (s *Storage) ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.DuplicateCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM duplicate_candidates WHERE status = ? ORDER BY detected_at DESC, id`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DuplicateCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// RejectDuplicate confirms a candidate and marks its later record rejected
func (s *Storage) RejectDuplicate(ctx context.Context, candidateID, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCandidate(ctx, tx, candidateID)
		if err != nil {
			return err
		}
		if c.Status != model.CandidateOpen {
			return fmt.Errorf("candidate %s is %s: %w", candidateID, c.Status, model.ErrInvalidState)
		}

		var kind string
		err = tx.QueryRowContext(ctx,
			`SELECT kind FROM link_entries WHERE record_id = ? ORDER BY seq DESC LIMIT 1`, c.RecordB).Scan(&kind)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if kind == string(model.EntryLink) {
			return fmt.Errorf("record %s has an active link: %w", c.RecordB, model.ErrInvalidState)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE inbound_records SET state = ?, assigned_key = '' WHERE id = ?`,
			string(model.StateRejectedDuplicate), c.RecordB); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE review_items SET status = ?, resolved_by = ?, resolved_at = ? WHERE record_id = ? AND status = 'open'`,
			string(model.CandidateRejected), actor, formatTime(time.Now()), c.RecordB); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE duplicate_candidates SET status = ?, resolved_by = ? WHERE id = ?`,
			string(model.CandidateConfirmed), actor, candidateID)
		return err
	})
}

// ResolveCandidate closes a candidate without touching records
func (s *Storage) ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, actor string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_candidates SET status = ?, resolved_by = ? WHERE id = ? AND status = 'open'`,
		string(status), actor, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetCandidate(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("candidate %s is not open: %w", id, model.ErrInvalidState)
	}
	return nil
}

func scanCandidate(row rowScanner) (*model.DuplicateCandidate, error) {
	var (
		c                         model.DuplicateCandidate
		classification, status    string
		possibleRepeat, recommend int
		detectedAt                string
	)
	err := row.Scan(
		&c.ID,
		&c.RecordA,
		&c.RecordB,
		&c.Confidence,
		&classification,
		&possibleRepeat,
		&recommend,
		&status,
		&c.ResolvedBy,
		&detectedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Classification = model.DuplicateClass(classification)
	c.Status = model.CandidateStatus(status)
	c.PossibleRepeat = possibleRepeat == 1
	c.RecommendDelete = recommend == 1
	if c.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
