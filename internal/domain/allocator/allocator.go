// Package allocator splits one inbound record into ledger-coded parts.
//
// Invariants:
//   - the parts of a parent always sum to the parent amount
//   - the first part is primary and is the only one carrying the parent's
//     external settlement reference
//   - every write replaces the full allocation set atomically, so partial
//     sets are never visible
//
// Any change that would break the sum fails with
// *model.AllocationMismatchError and writes nothing.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Part is a caller-supplied allocation.
type Part struct {
	Amount        decimal.Decimal `json:"amount"`
	LedgerCode    string          `json:"ledger_code"`
	PaymentMethod string          `json:"payment_method"`
	Memo          string          `json:"memo,omitempty"`
}

// Store persists allocation sets.
type Store interface {
	GetRecord(ctx context.Context, id string) (*model.InboundRecord, error)
	ListAllocations(ctx context.Context, parentID string) ([]model.Allocation, error)
	// ReplaceAllocations swaps the parent's allocation set in one transaction.
	ReplaceAllocations(ctx context.Context, parentID string, allocations []model.Allocation) error
}

// Config holds allocator configuration
type Config struct {
	Tolerance decimal.Decimal // Max |parent - sum| accepted (default: one minor unit)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{Tolerance: model.MinorUnit}
}

// Allocator validates and writes allocation sets.
type Allocator struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an allocator.
func New(store Store, config Config, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{store: store, config: config, logger: logger, now: time.Now}
}

// Split divides the parent record into parts.
func (a *Allocator) Split(ctx context.Context, parentID string, parts []Part) ([]model.Allocation, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no parts to allocate: %w", model.ErrInvalidState)
	}
	parent, err := a.store.GetRecord(ctx, parentID)
	if err != nil {
		return nil, err
	}

	amounts := make([]decimal.Decimal, len(parts))
	for i, p := range parts {
		amounts[i] = p.Amount
	}
	if err := a.checkSum(parent.Amount, amounts); err != nil {
		return nil, err
	}

	existing, err := a.store.ListAllocations(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("record %s: %w", parentID, model.ErrAlreadySplit)
	}

	now := a.now().UTC()
	allocations := make([]model.Allocation, len(parts))
	for i, p := range parts {
		allocations[i] = model.Allocation{
			ID:            uuid.NewString(),
			ParentID:      parentID,
			Amount:        p.Amount,
			LedgerCode:    p.LedgerCode,
			PaymentMethod: p.PaymentMethod,
			Memo:          p.Memo,
			CreatedAt:     now,
		}
	}
	a.normalize(parent, allocations)

	if err := a.store.ReplaceAllocations(ctx, parentID, allocations); err != nil {
		return nil, fmt.Errorf("failed to write allocations: %w", err)
	}

	a.logger.Info("record split",
		"record_id", parentID,
		"parts", len(allocations),
		"amount", parent.Amount.StringFixed(2))
	return allocations, nil
}

// AddSupplementaryAllocation appends part to an existing split. When
// takeFrom names an allocation, its amount is reduced by the part amount.
func (a *Allocator) AddSupplementaryAllocation(ctx context.Context, parentID string, part Part, takeFrom string) ([]model.Allocation, error) {
	parent, existing, err := a.load(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("record %s is not split: %w", parentID, model.ErrInvalidState)
	}

	if takeFrom != "" {
		idx := indexOf(existing, takeFrom)
		if idx < 0 {
			return nil, fmt.Errorf("allocation %s: %w", takeFrom, model.ErrNotFound)
		}
		reduced := existing[idx].Amount.Sub(part.Amount)
		if reduced.Sign() != 0 && reduced.Sign() != existing[idx].Amount.Sign() {
			return nil, fmt.Errorf("allocation %s has only %s: %w",
				takeFrom, existing[idx].Amount.StringFixed(2), model.ErrInvalidState)
		}
		existing[idx].Amount = reduced
	}

	existing = append(existing, model.Allocation{
		ID:            uuid.NewString(),
		ParentID:      parentID,
		Amount:        part.Amount,
		LedgerCode:    part.LedgerCode,
		PaymentMethod: part.PaymentMethod,
		Memo:          part.Memo,
		Supplementary: true,
		CreatedAt:     a.now().UTC(),
	})
	existing = dropEmpty(existing)

	if err := a.checkSum(parent.Amount, amountsOf(existing)); err != nil {
		return nil, err
	}
	a.normalize(parent, existing)

	if err := a.store.ReplaceAllocations(ctx, parentID, existing); err != nil {
		return nil, fmt.Errorf("failed to write allocations: %w", err)
	}
	a.logger.Info("supplementary allocation added",
		"record_id", parentID,
		"amount", part.Amount.StringFixed(2),
		"take_from", takeFrom)
	return existing, nil
}

// RemoveAllocation removes one allocation, optionally folding its amount
// into another. The primary cannot be removed while others remain.
// Removing the only allocation unsplits the record.
func (a *Allocator) RemoveAllocation(ctx context.Context, parentID, allocationID, foldInto string) ([]model.Allocation, error) {
	parent, existing, err := a.load(ctx, parentID)
	if err != nil {
		return nil, err
	}

	idx := indexOf(existing, allocationID)
	if idx < 0 {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, model.ErrNotFound)
	}
	removed := existing[idx]
	if removed.Primary && len(existing) > 1 {
		return nil, model.ErrPrimaryAllocation
	}
	if foldInto == allocationID {
		return nil, fmt.Errorf("cannot fold allocation into itself: %w", model.ErrInvalidState)
	}

	remaining := append(append([]model.Allocation(nil), existing[:idx]...), existing[idx+1:]...)
	if foldInto != "" {
		target := indexOf(remaining, foldInto)
		if target < 0 {
			return nil, fmt.Errorf("allocation %s: %w", foldInto, model.ErrNotFound)
		}
		remaining[target].Amount = remaining[target].Amount.Add(removed.Amount)
	}

	if len(remaining) > 0 {
		if err := a.checkSum(parent.Amount, amountsOf(remaining)); err != nil {
			return nil, err
		}
		a.normalize(parent, remaining)
	}

	if err := a.store.ReplaceAllocations(ctx, parentID, remaining); err != nil {
		return nil, fmt.Errorf("failed to write allocations: %w", err)
	}
	a.logger.Info("allocation removed",
		"record_id", parentID,
		"allocation_id", allocationID,
		"fold_into", foldInto)
	return remaining, nil
}

// List returns the parent's allocations in position order.
func (a *Allocator) List(ctx context.Context, parentID string) ([]model.Allocation, error) {
	return a.store.ListAllocations(ctx, parentID)
}

func (a *Allocator) load(ctx context.Context, parentID string) (*model.InboundRecord, []model.Allocation, error) {
	parent, err := a.store.GetRecord(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	existing, err := a.store.ListAllocations(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	return parent, existing, nil
}

func (a *Allocator) checkSum(parentAmount decimal.Decimal, amounts []decimal.Decimal) error {
	sum := model.SumAmounts(amounts...)
	if !model.WithinTolerance(parentAmount, sum, a.config.Tolerance) {
		return &model.AllocationMismatchError{
			ParentAmount: parentAmount,
			Allocated:    sum,
			Diff:         parentAmount.Sub(sum),
		}
	}
	return nil
}

// normalize renumbers positions and enforces the single-primary rule.
func (a *Allocator) normalize(parent *model.InboundRecord, allocations []model.Allocation) {
	for i := range allocations {
		allocations[i].Position = i
		allocations[i].Primary = i == 0
		allocations[i].SettlementRef = ""
	}
	if len(allocations) > 0 {
		allocations[0].SettlementRef = parent.ExternalID
	}
}

func indexOf(allocations []model.Allocation, id string) int {
	for i, a := range allocations {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func amountsOf(allocations []model.Allocation) []decimal.Decimal {
	out := make([]decimal.Decimal, len(allocations))
	for i, a := range allocations {
		out[i] = a.Amount
	}
	return out
}

// dropEmpty removes zero-amount allocations other than the primary.
func dropEmpty(allocations []model.Allocation) []model.Allocation {
	out := allocations[:0]
	for _, a := range allocations {
		if a.Amount.IsZero() && !a.Primary {
			continue
		}
		out = append(out, a)
	}
	return out
}
