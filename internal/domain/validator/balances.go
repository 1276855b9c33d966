// Package validator recomputes charter balances from the link ledger.
//
// For every open or partially settled charter:
//
//	recomputed = due_amount - sum(amounts of actively linked records)
//
// A difference from the stored balance above tolerance is reported as a
// BalanceMismatch. The validator never writes; the right fix (restore a
// deleted charge, refund, accept a retainer) is a human decision.
package validator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// LinkedTotals sums the amounts of actively linked records per charter.
// Links whose record is missing from amounts are skipped.
func LinkedTotals(active []model.LinkEntry, amounts map[string]decimal.Decimal) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, e := range active {
		amount, ok := amounts[e.RecordID]
		if !ok {
			continue
		}
		totals[e.TransactionKey] = totals[e.TransactionKey].Add(amount)
	}
	return totals
}

// Validate checks each open charter against its linked payments and returns
// mismatches sorted by key. Settled charters with a zero due amount and
// linked money are reported too; linking settles them, which would
// otherwise hide the question.
func Validate(txns []model.BusinessTransaction, linked map[string]decimal.Decimal, tolerance decimal.Decimal) []model.BalanceMismatch {
	var mismatches []model.BalanceMismatch
	for _, tx := range txns {
		zeroDuePaid := tx.Status == model.StatusSettled && tx.DueAmount.IsZero() && linked[tx.Key].IsPositive()
		if !tx.Status.IsOpen() && !zeroDuePaid {
			continue
		}
		if m := check(tx, linked[tx.Key], tolerance); m != nil {
			mismatches = append(mismatches, *m)
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].TransactionKey < mismatches[j].TransactionKey
	})
	return mismatches
}

func check(tx model.BusinessTransaction, paid, tolerance decimal.Decimal) *model.BalanceMismatch {
	recomputed := tx.DueAmount.Sub(paid)
	diff := tx.Balance.Sub(recomputed)

	m := &model.BalanceMismatch{
		TransactionKey: tx.Key,
		DueAmount:      tx.DueAmount,
		Stored:         tx.Balance,
		Recomputed:     recomputed,
		Difference:     diff,
	}

	// Retainer or wrongly deleted charge; data alone cannot tell
	if tx.DueAmount.IsZero() && paid.IsPositive() {
		m.Kind = model.MismatchZeroDueWithMoney
		m.Reason = fmt.Sprintf("due is zero but $%s is linked - retainer or deleted charge?",
			paid.StringFixed(2))
		return m
	}

	if diff.Abs().LessThanOrEqual(tolerance) {
		return nil
	}

	if recomputed.GreaterThan(tx.Balance) {
		m.Kind = model.MismatchUnderpaid
		m.Reason = fmt.Sprintf("stored balance ($%s) is below ledger balance ($%s) by $%s - payment recorded without a link?",
			tx.Balance.StringFixed(2), recomputed.StringFixed(2), diff.Abs().StringFixed(2))
	} else {
		m.Kind = model.MismatchOverpaid
		m.Reason = fmt.Sprintf("stored balance ($%s) exceeds ledger balance ($%s) by $%s - linked payment not applied or charge removed?",
			tx.Balance.StringFixed(2), recomputed.StringFixed(2), diff.StringFixed(2))
	}
	return m
}
