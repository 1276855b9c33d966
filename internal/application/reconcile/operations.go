package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/allocator"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/review"
	"github.com/eshaffer321/charter-reconcile/internal/domain/validator"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// ValidateBalances recomputes charter balances from active links. It never
// writes.
func (s *Service) ValidateBalances(ctx context.Context) ([]model.BalanceMismatch, error) {
	charters, err := s.repo.ListTransactions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list charters: %w", err)
	}
	active, err := s.ledger.ActiveLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}
	records, err := s.repo.ListRecords(ctx, storage.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	amounts := make(map[string]decimal.Decimal, len(records))
	for _, rec := range records {
		amounts[rec.ID] = rec.Amount
	}
	mismatches := validator.Validate(charters, validator.LinkedTotals(active, amounts), s.config.BalanceTolerance)

	for _, m := range mismatches {
		s.logger.Warn("Balance mismatch",
			"key", m.TransactionKey,
			"kind", m.Kind,
			"stored", m.Stored.StringFixed(2),
			"recomputed", m.Recomputed.StringFixed(2),
		)
	}
	return mismatches, nil
}

// RebuildResult reports a ledger replay
type RebuildResult struct {
	Entries     int            `json:"entries"`
	Assignments int            `json:"assignments"`
	Drift       []ledger.Drift `json:"drift"`
	Repaired    bool           `json:"repaired"`
}

// Rebuild verifies the hash chain, replays the ledger and compares it with
// the materialized assignments. With repair set, drifted records are
// rewritten from the ledger.
func (s *Service) Rebuild(ctx context.Context, repair bool) (*RebuildResult, error) {
	verified, err := s.ledger.VerifyChain(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := s.ledger.RebuildAssignments(ctx)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{Entries: verified, Assignments: len(assignments)}
	if repair {
		result.Drift, err = s.ledger.Repair(ctx)
		result.Repaired = err == nil && len(result.Drift) > 0
	} else {
		result.Drift, err = s.ledger.DetectDrift(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Drift lists records whose materialized assignment disagrees with the ledger
func (s *Service) Drift(ctx context.Context) ([]ledger.Drift, error) {
	return s.ledger.DetectDrift(ctx)
}

// Unlink supersedes a record's active link
func (s *Service) Unlink(ctx context.Context, recordID, actor, reason string) (*model.LinkEntry, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	return s.ledger.AppendUnlink(ctx, recordID, actor, reason)
}

// ManualLink links a record chosen by an operator and closes any open
// review item for it
func (s *Service) ManualLink(ctx context.Context, recordID, key, actor string) (*model.LinkEntry, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	entry, err := s.ledger.AppendLink(ctx, recordID, key, review.ManualConfidence, ledger.ManualMethodPrefix+"override", actor)
	if err != nil {
		return nil, err
	}

	open, err := s.repo.ListReviewItems(ctx, model.CandidateOpen)
	if err != nil {
		return entry, err
	}
	for _, item := range open {
		if item.RecordID != recordID {
			continue
		}
		if err := s.repo.ResolveReviewItem(ctx, item.ID, model.CandidateConfirmed, actor, s.now().UTC()); err != nil {
			return entry, fmt.Errorf("link written but review item not closed: %w", err)
		}
	}
	return entry, nil
}

// History returns a record's ledger entries, oldest first
func (s *Service) History(ctx context.Context, recordID string) ([]model.LinkEntry, error) {
	if _, err := s.repo.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, recordID)
}

// Duplicates

// ListDuplicates returns candidates with the given status (default open)
func (s *Service) ListDuplicates(ctx context.Context, status model.CandidateStatus) ([]model.DuplicateCandidate, error) {
	if status == "" {
		status = model.CandidateOpen
	}
	return s.repo.ListCandidates(ctx, status)
}

// ConfirmDuplicate marks the later record of the pair rejected_duplicate.
// Near duplicates and possible repeat charges need an explicit
// acknowledgement.
func (s *Service) ConfirmDuplicate(ctx context.Context, candidateID, actor string, acknowledgeNear bool) error {
	if actor == "" {
		return fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	c, err := s.repo.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	if c.Status != model.CandidateOpen {
		return fmt.Errorf("duplicate candidate %s is %s: %w", candidateID, c.Status, model.ErrInvalidState)
	}
	if !acknowledgeNear {
		if c.Classification != model.DuplicateExact {
			return fmt.Errorf("duplicate candidate %s is a %s duplicate and needs acknowledgement: %w",
				candidateID, c.Classification, model.ErrInvalidState)
		}
		if c.PossibleRepeat {
			return fmt.Errorf("duplicate candidate %s may be a repeat charge and needs acknowledgement: %w",
				candidateID, model.ErrInvalidState)
		}
	}

	if err := s.repo.RejectDuplicate(ctx, candidateID, actor); err != nil {
		return err
	}
	s.logger.Info("Duplicate confirmed",
		"candidate_id", candidateID,
		"record_id", c.RecordB,
		"classification", c.Classification,
		"actor", actor,
	)
	return nil
}

// DismissDuplicate closes a candidate without touching either record
func (s *Service) DismissDuplicate(ctx context.Context, candidateID, actor string) error {
	if actor == "" {
		return fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	if err := s.repo.ResolveCandidate(ctx, candidateID, model.CandidateDismissed, actor); err != nil {
		return err
	}
	s.logger.Info("Duplicate dismissed", "candidate_id", candidateID, "actor", actor)
	return nil
}

// Review queue

// ListReview returns review items with the given status (default open)
func (s *Service) ListReview(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error) {
	return s.queue.List(ctx, status)
}

// ConfirmReview links the item's record to its suggestion or to overrideKey
func (s *Service) ConfirmReview(ctx context.Context, itemID, actor, overrideKey string) (*model.LinkEntry, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	return s.queue.Confirm(ctx, itemID, actor, overrideKey)
}

// RejectReview closes a review item without linking
func (s *Service) RejectReview(ctx context.Context, itemID, actor string) error {
	if actor == "" {
		return fmt.Errorf("actor is required: %w", model.ErrInvalidState)
	}
	return s.queue.Reject(ctx, itemID, actor)
}

// Allocations

// Split divides a record into allocations
func (s *Service) Split(ctx context.Context, parentID string, parts []allocator.Part) ([]model.Allocation, error) {
	return s.allocator.Split(ctx, parentID, parts)
}

// SplitProRata divides a record proportionally to the share weights
func (s *Service) SplitProRata(ctx context.Context, parentID string, shares []allocator.Share) ([]model.Allocation, error) {
	parent, err := s.repo.GetRecord(ctx, parentID)
	if err != nil {
		return nil, err
	}
	parts, err := allocator.ProRata(parent.Amount, shares, s.config.Normalizer.MinorUnitPlaces)
	if err != nil {
		return nil, err
	}
	return s.allocator.Split(ctx, parentID, parts)
}

// AddAllocation appends a supplementary allocation, optionally taking its
// amount from an existing one
func (s *Service) AddAllocation(ctx context.Context, parentID string, part allocator.Part, takeFrom string) ([]model.Allocation, error) {
	return s.allocator.AddSupplementaryAllocation(ctx, parentID, part, takeFrom)
}

// RemoveAllocation removes an allocation, optionally folding its amount
// into another
func (s *Service) RemoveAllocation(ctx context.Context, parentID, allocationID, foldInto string) ([]model.Allocation, error) {
	return s.allocator.RemoveAllocation(ctx, parentID, allocationID, foldInto)
}

// ListAllocations returns a record's allocations in position order
func (s *Service) ListAllocations(ctx context.Context, parentID string) ([]model.Allocation, error) {
	if _, err := s.repo.GetRecord(ctx, parentID); err != nil {
		return nil, err
	}
	return s.allocator.List(ctx, parentID)
}

// Reference data

// ImportTransactions upserts charters from the accounting store
func (s *Service) ImportTransactions(ctx context.Context, txns []model.BusinessTransaction) error {
	for i := range txns {
		tx := txns[i]
		if tx.Key == "" {
			return fmt.Errorf("charter %d has no key: %w", i+1, model.ErrInvalidState)
		}
		if tx.Status == "" {
			tx.Status = model.StatusOpen
		}
		if err := s.repo.UpsertTransaction(ctx, &tx); err != nil {
			return fmt.Errorf("failed to import charter %s: %w", tx.Key, err)
		}
	}
	s.logger.Info("Imported charters", "count", len(txns))
	return nil
}

// ImportParties upserts known customers used for identity matching
func (s *Service) ImportParties(ctx context.Context, parties []model.Party) error {
	for i := range parties {
		if err := s.repo.UpsertParty(ctx, &parties[i]); err != nil {
			return fmt.Errorf("failed to import party %s: %w", parties[i].ID, err)
		}
	}
	return nil
}

// ListTransactions returns charters ordered by key
func (s *Service) ListTransactions(ctx context.Context, openOnly bool) ([]model.BusinessTransaction, error) {
	return s.repo.ListTransactions(ctx, openOnly)
}

// ListRecords returns inbound records matching the filter
func (s *Service) ListRecords(ctx context.Context, filter storage.RecordFilter) ([]model.InboundRecord, error) {
	return s.repo.ListRecords(ctx, filter)
}

// GetRecord returns one inbound record
func (s *Service) GetRecord(ctx context.Context, id string) (*model.InboundRecord, error) {
	return s.repo.GetRecord(ctx, id)
}

// Batch history

// ListBatchRuns returns recent batches, newest first
func (s *Service) ListBatchRuns(ctx context.Context, limit int) ([]storage.BatchRun, error) {
	return s.repo.ListBatchRuns(ctx, limit)
}

// GetBatchRun returns one batch
func (s *Service) GetBatchRun(ctx context.Context, runID int64) (*storage.BatchRun, error) {
	return s.repo.GetBatchRun(ctx, runID)
}
