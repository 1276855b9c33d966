package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const recordColumns = `id, source, external_id, key_ref, amount, occurred_on, description,
	counterparty_name, counterparty_email, content_hash, state, assigned_key, ingested_at`

// SaveRecord inserts a record, ignoring a repeat of (source, external_id)
func (s *Storage) SaveRecord(ctx context.Context, rec *model.InboundRecord) (bool, error) {
	state := rec.State
	if state == "" {
		state = model.StateUnmatched
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO inbound_records (`+recordColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
	`,
		rec.ID,
		string(rec.Source),
		rec.ExternalID,
		rec.KeyRef,
		rec.Amount.String(),
		formatDate(rec.OccurredOn),
		rec.Description,
		rec.CounterpartyName,
		rec.CounterpartyEmail,
		rec.ContentHash,
		string(state),
		rec.AssignedKey,
		formatTime(rec.IngestedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetRecord retrieves a record by id
func (s *Storage) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, q querier, id string) (*model.InboundRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM inbound_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, notFound(err, "record "+id)
	}
	return rec, nil
}

// ListRecords returns records matching the filter, oldest first
func (s *Storage) ListRecords(ctx context.Context, filter RecordFilter) ([]model.InboundRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM inbound_records WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY ingested_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryRecords(ctx, query, args...)
}

// FindRecords returns records from sources with the given amount in [from, to]
func (s *Storage) FindRecords(ctx context.Context, sources []model.FeedType, amount decimal.Decimal, from, to time.Time) ([]model.InboundRecord, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")
	args := make([]any, 0, len(sources)+3)
	for _, src := range sources {
		args = append(args, string(src))
	}
	args = append(args, amount.String(), formatDate(from), formatDate(to))

	query := `SELECT ` + recordColumns + ` FROM inbound_records
	WHERE source IN (` + placeholders + `)
	  AND amount = ?
	  AND occurred_on BETWEEN ? AND ?
	ORDER BY occurred_on, id`

	return s.queryRecords(ctx, query, args...)
}

func (s *Storage) queryRecords(ctx context.Context, query string, args ...any) ([]model.InboundRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InboundRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (*model.InboundRecord, error) {
	var (
		rec                    model.InboundRecord
		source, state          string
		occurredOn, ingestedAt string
	)
	err := row.Scan(
		&rec.ID,
		&source,
		&rec.ExternalID,
		&rec.KeyRef,
		&rec.Amount,
		&occurredOn,
		&rec.Description,
		&rec.CounterpartyName,
		&rec.CounterpartyEmail,
		&rec.ContentHash,
		&state,
		&rec.AssignedKey,
		&ingestedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Source = model.FeedType(source)
	rec.State = model.RecordState(state)
	if rec.OccurredOn, err = parseDate(occurredOn); err != nil {
		return nil, fmt.Errorf("record %s: bad occurred_on %q: %w", rec.ID, occurredOn, err)
	}
	if rec.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return nil, fmt.Errorf("record %s: bad ingested_at %q: %w", rec.ID, ingestedAt, err)
	}
	return &rec, nil
}

// QuarantineRecord stores a raw record that failed normalization
func (s *Storage) QuarantineRecord(ctx context.Context, q *model.QuarantinedRecord) error {
	at := q.QuarantinedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO quarantined_records (source, raw_json, field, reason, quarantined_at)
	VALUES (?, ?, ?, ?, ?)
	`, string(q.Source), q.RawJSON, q.Field, q.Reason, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to quarantine record: %w", err)
	}
	q.ID, err = res.LastInsertId()
	q.QuarantinedAt = at.UTC()
	return err
}

// ListQuarantined returns quarantined records, newest first
func (s *Storage) ListQuarantined(ctx context.Context, limit int) ([]model.QuarantinedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, source, raw_json, field, reason, quarantined_at
	FROM quarantined_records ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QuarantinedRecord
	for rows.Next() {
		var (
			q      model.QuarantinedRecord
			source string
			at     string
		)
		if err := rows.Scan(&q.ID, &source, &q.RawJSON, &q.Field, &q.Reason, &at); err != nil {
			return nil, err
		}
		q.Source = model.FeedType(source)
		if q.QuarantinedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
