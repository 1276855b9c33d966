package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory mock)
// and makes testing with mocks straightforward.
type Repository interface {
	TransactionRepository
	PartyRepository
	RecordRepository
	ledger.Store
	AllocationRepository
	DuplicateRepository
	ReviewRepository
	BatchRunRepository
	Close() error
}

// TransactionRepository handles charters from the accounting store
type TransactionRepository interface {
	// UpsertTransaction inserts or replaces a charter by business key
	UpsertTransaction(ctx context.Context, tx *model.BusinessTransaction) error

	// GetTransaction returns model.ErrNotFound for unknown keys
	GetTransaction(ctx context.Context, key string) (*model.BusinessTransaction, error)

	// ListTransactions returns charters ordered by key
	ListTransactions(ctx context.Context, openOnly bool) ([]model.BusinessTransaction, error)
}

// PartyRepository handles known customers for identity resolution
type PartyRepository interface {
	UpsertParty(ctx context.Context, party *model.Party) error
	ListParties(ctx context.Context) ([]model.Party, error)
}

// RecordRepository handles inbound records and quarantine
type RecordRepository interface {
	// SaveRecord inserts a record. It returns false without error when a
	// record with the same source and external id already exists.
	SaveRecord(ctx context.Context, rec *model.InboundRecord) (bool, error)

	// GetRecord returns model.ErrNotFound for unknown ids
	GetRecord(ctx context.Context, id string) (*model.InboundRecord, error)

	// ListRecords returns records matching the filter, oldest first
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.InboundRecord, error)

	// FindRecords returns records from sources with the given amount whose
	// date falls within [from, to]
	FindRecords(ctx context.Context, sources []model.FeedType, amount decimal.Decimal, from, to time.Time) ([]model.InboundRecord, error)

	QuarantineRecord(ctx context.Context, q *model.QuarantinedRecord) error
	ListQuarantined(ctx context.Context, limit int) ([]model.QuarantinedRecord, error)
}

// RecordFilter defines filters for listing records
type RecordFilter struct {
	State  model.RecordState // Filter by state (empty = all)
	Source model.FeedType    // Filter by feed (empty = all)
	Limit  int               // Max results (0 = no limit)
}

// AllocationRepository handles split allocations
type AllocationRepository interface {
	ListAllocations(ctx context.Context, parentID string) ([]model.Allocation, error)

	// ReplaceAllocations swaps the full set for parentID in one transaction
	ReplaceAllocations(ctx context.Context, parentID string, allocations []model.Allocation) error
}

// DuplicateRepository handles duplicate candidates
type DuplicateRepository interface {
	// SaveCandidates inserts candidates, skipping pairs already recorded.
	// Returns the number inserted.
	SaveCandidates(ctx context.Context, candidates []model.DuplicateCandidate) (int, error)

	GetCandidate(ctx context.Context, id string) (*model.DuplicateCandidate, error)
	ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.DuplicateCandidate, error)

	// RejectDuplicate marks the candidate confirmed and its RecordB
	// rejected_duplicate in one transaction. It fails with
	// model.ErrInvalidState when RecordB has an active link.
	RejectDuplicate(ctx context.Context, candidateID, actor string) error

	// ResolveCandidate closes a candidate without touching records
	ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, actor string) error
}

// ReviewRepository handles the manual-review queue
type ReviewRepository interface {
	UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	ListReviewItems(ctx context.Context, status model.CandidateStatus) ([]model.ReviewItem, error)
	ReviewItemsForRecord(ctx context.Context, recordID string) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string, status model.CandidateStatus, actor string, at time.Time) error
}

// BatchRunRepository handles batch run tracking
type BatchRunRepository interface {
	// StartBatchRun records the start of a batch and returns the run ID
	StartBatchRun(ctx context.Context) (int64, error)

	// CompleteBatchRun records the outcome counts of a batch
	CompleteBatchRun(ctx context.Context, runID int64, counts BatchCounts, status string) error

	// ListBatchRuns returns recent runs, newest first
	ListBatchRuns(ctx context.Context, limit int) ([]BatchRun, error)

	GetBatchRun(ctx context.Context, runID int64) (*BatchRun, error)
}

// BatchCounts are the per-outcome counters of a batch.
type BatchCounts struct {
	RecordsTotal     int  `json:"records_total"`
	AutoMatched      int  `json:"auto_matched"`
	QueuedForReview  int  `json:"queued_for_review"`
	Quarantined      int  `json:"quarantined"`
	DuplicateFlagged int  `json:"duplicate_flagged"`
	AlreadyLinked    int  `json:"already_linked"`
	Errored          int  `json:"errored"`
	Unprocessed      int  `json:"unprocessed"`
	TimedOut         bool `json:"timed_out"`
}

// BatchRun represents a batch run record
type BatchRun struct {
	ID          int64  `json:"id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status"`
	BatchCounts
}

// Batch run statuses
const (
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchTimedOut  = "timed_out"
	BatchFailed    = "failed"
)
