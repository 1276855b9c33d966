// Package review holds records that need a human decision: matches below
// the auto-apply threshold, fuzzy suggestions, and records with no
// candidate at all.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/scorer"
)

// ManualConfidence is recorded on human-confirmed links.
const ManualConfidence = scorer.MaxConfidence

// Store persists review items.
type Store interface {
	// UpsertReviewItem replaces any open item for the same record.
	UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	ListReviewItems(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error)
	ReviewItemsForRecord(ctx context.Context, recordID string) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string, status model.CandidateStatus, actor string, at time.Time) error
}

// Linker appends manual links.
type Linker interface {
	AppendLink(ctx context.Context, recordID, key string, confidence int, method, actor string) (*model.LinkEntry, error)
}

// Queue is the manual-review queue.
type Queue struct {
	store  Store
	linker Linker
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates a queue.
func NewQueue(store Store, linker Linker, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, linker: linker, logger: logger, now: time.Now}
}

// Enqueue records a decision that was not auto-applied. A suggestion an
// operator already rejected for the record is not offered again.
func (q *Queue) Enqueue(ctx context.Context, recordID string, d scorer.Decision) (*model.ReviewItem, error) {
	item := &model.ReviewItem{
		ID:         uuid.NewString(),
		RecordID:   recordID,
		Confidence: d.Confidence,
		Reason:     d.Reason,
		Status:     model.CandidateOpen,
		CreatedAt:  q.now().UTC(),
	}
	if d.Match != nil {
		item.SuggestedKey = d.Match.TransactionKey
		item.Strategy = d.Match.Strategy
	}

	if item.SuggestedKey != "" {
		history, err := q.store.ReviewItemsForRecord(ctx, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to load review history: %w", err)
		}
		for _, prior := range history {
			if prior.Status == model.CandidateRejected && prior.SuggestedKey == item.SuggestedKey {
				item.Reason = fmt.Sprintf("%s; suggestion %s rejected by %s", item.Reason, item.SuggestedKey, prior.ResolvedBy)
				item.SuggestedKey = ""
				item.Strategy = ""
				break
			}
		}
	}
	if err := q.store.UpsertReviewItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue review item: %w", err)
	}
	return item, nil
}

// List returns items with the given status; empty status means open.
func (q *Queue) List(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error) {
	if status == "" {
		status = model.CandidateOpen
	}
	return q.store.ListReviewItems(ctx, status)
}

// Confirm links the item's record to overrideKey, or to the suggestion when
// overrideKey is empty.
func (q *Queue) Confirm(ctx context.Context, itemID, actor, overrideKey string) (*model.LinkEntry, error) {
	item, err := q.open(ctx, itemID)
	if err != nil {
		return nil, err
	}

	key := item.SuggestedKey
	method := ledger.ManualMethodPrefix + item.Strategy
	if overrideKey != "" && overrideKey != item.SuggestedKey {
		key = overrideKey
		method = ledger.ManualMethodPrefix + "override"
	}
	if key == "" {
		return nil, fmt.Errorf("review item %s has no suggestion and no key was given: %w", itemID, model.ErrInvalidState)
	}
	if item.Strategy == "" {
		method = ledger.ManualMethodPrefix + "override"
	}

	entry, err := q.linker.AppendLink(ctx, item.RecordID, key, ManualConfidence, method, actor)
	if err != nil {
		return nil, err
	}
	if err := q.store.ResolveReviewItem(ctx, itemID, model.CandidateConfirmed, actor, q.now().UTC()); err != nil {
		return entry, fmt.Errorf("link written but review item not closed: %w", err)
	}

	q.logger.Info("review item confirmed",
		"item_id", itemID,
		"record_id", item.RecordID,
		"key", key,
		"actor", actor)
	return entry, nil
}

// Reject closes an item without linking.
func (q *Queue) Reject(ctx context.Context, itemID, actor string) error {
	item, err := q.open(ctx, itemID)
	if err != nil {
		return err
	}
	if err := q.store.ResolveReviewItem(ctx, itemID, model.CandidateRejected, actor, q.now().UTC()); err != nil {
		return err
	}
	q.logger.Info("review item rejected", "item_id", itemID, "record_id", item.RecordID, "actor", actor)
	return nil
}

func (q *Queue) open(ctx context.Context, itemID string) (*model.ReviewItem, error) {
	item, err := q.store.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != model.CandidateOpen {
		return nil, fmt.Errorf("review item %s is %s: %w", itemID, item.Status, model.ErrInvalidState)
	}
	return item, nil
}
