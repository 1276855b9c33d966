package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

const transactionColumns = `key, party_id, service_date, due_amount, deposit, balance, status`

// UpsertTransaction inserts or replaces a charter by business key
func (s *Storage) UpsertTransaction(ctx context.Context, tx *model.BusinessTransaction) error {
	status := tx.Status
	if status == "" {
		status = model.StatusOpen
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO business_transactions
	(key, party_id, service_date, due_amount, deposit, balance, status, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		party_id = excluded.party_id,
		service_date = excluded.service_date,
		due_amount = excluded.due_amount,
		deposit = excluded.deposit,
		balance = excluded.balance,
		status = excluded.status,
		updated_at = excluded.updated_at
	`,
		tx.Key,
		tx.PartyID,
		formatDate(tx.ServiceDate),
		tx.DueAmount.String(),
		tx.Deposit.String(),
		tx.Balance.String(),
		string(status),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", tx.Key, err)
	}
	return nil
}

// GetTransaction retrieves a charter by business key
func (s *Storage) GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error) {
	return getTransaction(ctx, s.db, key)
}

func getTransaction(ctx context.Context, q querier, key string) (*model.BusinessTransaction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM business_transactions WHERE key = ?`, key)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction "+key)
	}
	return tx, nil
}

// ListTransactions returns charters ordered by key
func (s *Storage) ListTransactions(ctx context.Context, openOnly bool) ([]model.BusinessTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM business_transactions`
	if openOnly {
		query += ` WHERE status IN ('open', 'partially_settled')`
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// refreshBalance recomputes a charter's balance and status from the
// records currently assigned to it
func refreshBalance(ctx context.Context, q querier, key string) error {
	tx, err := getTransaction(ctx, q, key)
	if err != nil {
		return err
	}

	rows, err := q.QueryContext(ctx, `
	SELECT amount FROM inbound_records
	WHERE assigned_key = ? AND state IN ('matched_auto', 'matched_manual')
	`, key)
	if err != nil {
		return err
	}
	paid := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return err
		}
		paid = paid.Add(amount)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	balance := tx.DueAmount.Sub(paid)
	status := model.StatusForBalance(tx.Status, tx.DueAmount, balance)
	_, err = q.ExecContext(ctx, `
	UPDATE business_transactions SET balance = ?, status = ?, updated_at = ? WHERE key = ?
	`, balance.String(), string(status), formatTime(time.Now()), key)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.BusinessTransaction, error) {
	var (
		tx          model.BusinessTransaction
		serviceDate string
		status      string
	)
	if err := row.Scan(&tx.Key, &tx.PartyID, &serviceDate, &tx.DueAmount, &tx.Deposit, &tx.Balance, &status); err != nil {
		return nil, err
	}
	date, err := parseDate(serviceDate)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad service_date %q: %w", tx.Key, serviceDate, err)
	}
	tx.ServiceDate = date
	tx.Status = model.TransactionStatus(status)
	return &tx, nil
}

// UpsertParty inserts or replaces a party
func (s *Storage) UpsertParty(ctx context.Context, party *model.Party) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO parties (id, name, email) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email
	`, party.ID, party.Name, party.Email)
	return err
}

// ListParties returns all parties ordered by id
func (s *Storage) ListParties(ctx context.Context) ([]model.Party, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email FROM parties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Party
	for rows.Next() {
		var p model.Party
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
