package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const reviewColumns = `id, record_id, suggested_key, confidence, strategy, reason, status,
	resolved_by, created_at, resolved_at`

// UpsertReviewItem replaces the open item for the same record, keeping its
// id and creation time so operators can act on it across batches
func (s *Storage) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	status := item.Status
	if status == "" {
		status = model.CandidateOpen
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id, createdAt string
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM review_items WHERE record_id = ? AND status = 'open'`,
			item.RecordID).Scan(&id, &createdAt)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		default:
			_, err := tx.ExecContext(ctx, `
			UPDATE review_items SET suggested_key = ?, confidence = ?, strategy = ?, reason = ?
			WHERE id = ?
			`, item.SuggestedKey, item.Confidence, item.Strategy, item.Reason, id)
			if err != nil {
				return fmt.Errorf("failed to update review item for %s: %w", item.RecordID, err)
			}
			created, err := parseTime(createdAt)
			if err != nil {
				return err
			}
			item.ID = id
			item.CreatedAt = created
			return nil
		}

		_, err = tx.ExecContext(ctx, `
		INSERT INTO review_items
		(id, record_id, suggested_key, confidence, strategy, reason, status, resolved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			item.ID,
			item.RecordID,
			item.SuggestedKey,
			item.Confidence,
			item.Strategy,
			item.Reason,
			string(status),
			item.ResolvedBy,
			formatTime(item.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert review item for %s: %w", item.RecordID, err)
		}
		return nil
	})
}

// GetReviewItem retrieves a review item by id
func (s *Storage) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_items WHERE id = ?`, id)
	item, err := scanReviewItem(row)
	if err != nil {
		return nil, notFound(err, "review item "+id)
	}
	return item, nil
}

// ListReviewItems returns items with the given status, oldest first
func (s *Storage) ListReviewItems(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error) {
	return s.queryReviewItems(ctx,
		`SELECT `+reviewColumns+` FROM review_items WHERE status = ? ORDER BY created_at, id`, string(status))
}

// ReviewItemsForRecord returns every item ever opened for a record, oldest first
func (s *Storage) ReviewItemsForRecord(ctx context.Context, recordID string) ([]model.ReviewItem, error) {
	return s.queryReviewItems(ctx,
		`SELECT `+reviewColumns+` FROM review_items WHERE record_id = ? ORDER BY created_at, id`, recordID)
}

func (s *Storage) queryReviewItems(ctx context.Context, query string, args ...any) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// ResolveReviewItem closes an open review item
func (s *Storage) ResolveReviewItem(ctx context.Context, id string, status model.CandidateStatus, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE review_items SET status = ?, resolved_by = ?, resolved_at = ?
	WHERE id = ? AND status = 'open'
	`, string(status), actor, formatTime(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetReviewItem(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("review item %s is not open: %w", id, model.ErrInvalidState)
	}
	return nil
}

func scanReviewItem(row rowScanner) (*model.ReviewItem, error) {
	var (
		item       model.ReviewItem
		status     string
		createdAt  string
		resolvedAt sql.NullString
	)
	err := row.Scan(
		&item.ID,
		&item.RecordID,
		&item.SuggestedKey,
		&item.Confidence,
		&item.Strategy,
		&item.Reason,
		&status,
		&item.ResolvedBy,
		&createdAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = model.CandidateStatus(status)
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		item.ResolvedAt = &t
	}
	return &item, nil
}
