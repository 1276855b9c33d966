package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const entryColumns = `seq, id, kind, record_id, transaction_key, confidence, method, actor,
	reason, created_at, prev_hash, hash`

// ledgerTx implements ledger.Tx over one database transaction
type ledgerTx struct {
	tx *sql.Tx
}

var _ ledger.Tx = (*ledgerTx)(nil)

// InTx runs fn with a ledger view bound to a single transaction
func (s *Storage) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (t *ledgerTx) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *ledgerTx) GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error) {
	return getTransaction(ctx, t.tx, key)
}

func (t *ledgerTx) LastEntryForRecord(ctx context.Context, recordID string) (*model.LinkEntry, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM link_entries WHERE record_id = ? ORDER BY seq DESC LIMIT 1`, recordID)
	return scanOptionalEntry(row)
}

func (t *ledgerTx) LastEntry(ctx context.Context) (*model.LinkEntry, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM link_entries ORDER BY seq DESC LIMIT 1`)
	return scanOptionalEntry(row)
}

func (t *ledgerTx) InsertEntry(ctx context.Context, e *model.LinkEntry) error {
	res, err := t.tx.ExecContext(ctx, `
	INSERT INTO link_entries
	(id, kind, record_id, transaction_key, confidence, method, actor, reason, created_at, prev_hash, hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Kind),
		e.RecordID,
		e.TransactionKey,
		e.Confidence,
		e.Method,
		e.Actor,
		e.Reason,
		formatTime(e.CreatedAt),
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		return err
	}
	e.Seq, err = res.LastInsertId()
	return err
}

func (t *ledgerTx) SetAssignment(ctx context.Context, recordID, key string, state model.RecordState) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE inbound_records SET assigned_key = ?, state = ? WHERE id = ?`,
		key, string(state), recordID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "record "+recordID)
	}
	return nil
}

func (t *ledgerTx) RefreshBalance(ctx context.Context, key string) error {
	return refreshBalance(ctx, t.tx, key)
}

// ListEntries returns the full log in seq order
func (s *Storage) ListEntries(ctx context.Context) ([]model.LinkEntry, error) {
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM link_entries ORDER BY seq`)
}

// EntriesForRecord returns a record's entries in seq order
func (s *Storage) EntriesForRecord(ctx context.Context, recordID string) ([]model.LinkEntry, error) {
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM link_entries WHERE record_id = ? ORDER BY seq`, recordID)
}

// ListMaterialized returns the assignment stored on every linked record
func (s *Storage) ListMaterialized(ctx context.Context) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, assigned_key, state FROM inbound_records
	WHERE assigned_key != '' OR state IN ('matched_auto', 'matched_manual')
	ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var (
			a     model.Assignment
			state string
		)
		if err := rows.Scan(&a.RecordID, &a.TransactionKey, &state); err != nil {
			return nil, err
		}
		a.State = model.RecordState(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Storage) queryEntries(ctx context.Context, query string, args ...any) ([]model.LinkEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LinkEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanOptionalEntry(row rowScanner) (*model.LinkEntry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanEntry(row rowScanner) (*model.LinkEntry, error) {
	var (
		e         model.LinkEntry
		kind      string
		createdAt string
	)
	err := row.Scan(
		&e.Seq,
		&e.ID,
		&kind,
		&e.RecordID,
		&e.TransactionKey,
		&e.Confidence,
		&e.Method,
		&e.Actor,
		&e.Reason,
		&createdAt,
		&e.PrevHash,
		&e.Hash,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = model.EntryKind(kind)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
