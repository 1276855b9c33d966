package dto

import (
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/charter-reconcile/internal/domain/allocator"
)

// ActorRequest carries the operator performing a manual action.
type ActorRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// ConfirmReviewRequest confirms a review item. TransactionKey overrides the
// suggestion and is required when the item has none.
type ConfirmReviewRequest struct {
	Actor          string `json:"actor" binding:"required"`
	TransactionKey string `json:"transaction_key"`
}

// ConfirmDuplicateRequest rejects the later record of a duplicate pair.
// Near duplicates need AcknowledgeNear set.
type ConfirmDuplicateRequest struct {
	Actor           string `json:"actor" binding:"required"`
	AcknowledgeNear bool   `json:"acknowledge_near"`
}

// UnlinkRequest reverses a record's active link.
type UnlinkRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// LinkRequest links a record to a charter by hand.
type LinkRequest struct {
	Actor          string `json:"actor" binding:"required"`
	TransactionKey string `json:"transaction_key" binding:"required"`
}

// ShareRequest is one weighted share of a pro-rata split.
type ShareRequest struct {
	LedgerCode    string          `json:"ledger_code"`
	PaymentMethod string          `json:"payment_method"`
	Memo          string          `json:"memo"`
	Weight        decimal.Decimal `json:"weight"`
}

// AllocationRequest creates allocations for a record. Exactly one of Parts,
// Shares or Supplementary must be set.
type AllocationRequest struct {
	Parts         []allocator.Part `json:"parts"`
	Shares        []ShareRequest   `json:"shares"`
	Supplementary *allocator.Part  `json:"supplementary"`
	// TakeFrom names the allocation the supplementary amount comes out of.
	TakeFrom string `json:"take_from"`
}

// StartBatchRequest is the request body for starting a batch.
type StartBatchRequest struct {
	Actor          string `json:"actor"`
	Workers        int    `json:"workers"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}
