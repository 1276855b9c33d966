package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// ListAllocations returns a parent's allocations in position order
func (s *Storage) ListAllocations(ctx context.Context, parentID string) ([]model.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, parent_id, position, amount, ledger_code, payment_method, memo,
	       is_primary, settlement_ref, supplementary, created_at
	FROM allocations WHERE parent_id = ? ORDER BY position
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Allocation
	for rows.Next() {
		var (
			a                      model.Allocation
			primary, supplementary int
			createdAt              string
		)
		err := rows.Scan(
			&a.ID,
			&a.ParentID,
			&a.Position,
			&a.Amount,
			&a.LedgerCode,
			&a.PaymentMethod,
			&a.Memo,
			&primary,
			&a.SettlementRef,
			&supplementary,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		a.Primary = primary == 1
		a.Supplementary = supplementary == 1
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReplaceAllocations swaps the parent's allocation set atomically
func (s *Storage) ReplaceAllocations(ctx context.Context, parentID string, allocations []model.Allocation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM allocations WHERE parent_id = ?`, parentID); err != nil {
			return fmt.Errorf("failed to clear allocations: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO allocations
		(id, parent_id, position, amount, ledger_code, payment_method, memo,
		 is_primary, settlement_ref, supplementary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range allocations {
			_, err := stmt.ExecContext(ctx,
				a.ID,
				parentID,
				a.Position,
				a.Amount.String(),
				a.LedgerCode,
				a.PaymentMethod,
				a.Memo,
				boolToInt(a.Primary),
				a.SettlementRef,
				boolToInt(a.Supplementary),
				formatTime(a.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to insert allocation %s: %w", a.ID, err)
			}
		}
		return nil
	})
}
