// Package model defines the records shared by the reconciliation engine:
// charters (business transactions), inbound payment records, ledger entries,
// allocations, duplicate candidates and review items.
//
// All money values are exact decimals. Dates are calendar dates stored as
// UTC midnight.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedType identifies the external feed an inbound record came from.
type FeedType string

const (
	FeedSettlement    FeedType = "settlement"
	FeedBankStatement FeedType = "bank_statement"
	FeedReceipt       FeedType = "receipt"
)

// Valid reports whether f is a known feed.
func (f FeedType) Valid() bool {
	switch f {
	case FeedSettlement, FeedBankStatement, FeedReceipt:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle status of a charter.
type TransactionStatus string

const (
	StatusOpen             TransactionStatus = "open"
	StatusPartiallySettled TransactionStatus = "partially_settled"
	StatusSettled          TransactionStatus = "settled"
	StatusVoid             TransactionStatus = "void"
)

// IsOpen reports whether payments can still be matched to the charter.
func (s TransactionStatus) IsOpen() bool {
	return s == StatusOpen || s == StatusPartiallySettled
}

// RecordState is the assignment state of an inbound record.
type RecordState string

const (
	StateUnmatched         RecordState = "unmatched"
	StateMatchedAuto       RecordState = "matched_auto"
	StateMatchedManual     RecordState = "matched_manual"
	StateRejectedDuplicate RecordState = "rejected_duplicate"
)

// BusinessTransaction is a charter in the accounting store.
// Key is the human-assigned business key; all joins use it.
type BusinessTransaction struct {
	Key         string            `json:"key"`
	PartyID     string            `json:"party_id,omitempty"`
	ServiceDate time.Time         `json:"service_date"`
	DueAmount   decimal.Decimal   `json:"due_amount"`
	Deposit     decimal.Decimal   `json:"deposit"`
	Balance     decimal.Decimal   `json:"balance"`
	Status      TransactionStatus `json:"status"`
}

// Party is a known customer used for identity resolution.
type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// InboundRecord is one unit of money movement from an external feed.
// Content fields are immutable after ingestion; only State and AssignedKey
// change, and only through the link ledger.
type InboundRecord struct {
	ID                string          `json:"id"`
	Source            FeedType        `json:"source"`
	ExternalID        string          `json:"external_id,omitempty"`
	KeyRef            string          `json:"key_ref,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	OccurredOn        time.Time       `json:"occurred_on"`
	Description       string          `json:"description"`
	CounterpartyName  string          `json:"counterparty_name,omitempty"`
	CounterpartyEmail string          `json:"counterparty_email,omitempty"`
	ContentHash       string          `json:"content_hash"`
	State             RecordState     `json:"state"`
	AssignedKey       string          `json:"assigned_key,omitempty"`
	IngestedAt        time.Time       `json:"ingested_at"`
}

// EntryKind tags a link ledger entry.
type EntryKind string

const (
	EntryLink   EntryKind = "link"
	EntryUnlink EntryKind = "unlink"
)

// LinkEntry is one immutable event in the link ledger.
// An unlink entry supersedes the most recent link for the same record.
type LinkEntry struct {
	Seq            int64     `json:"seq"`
	ID             string    `json:"id"`
	Kind           EntryKind `json:"kind"`
	RecordID       string    `json:"record_id"`
	TransactionKey string    `json:"transaction_key"`
	Confidence     int       `json:"confidence"`
	Method         string    `json:"method"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	PrevHash       string    `json:"prev_hash"`
	Hash           string    `json:"hash"`
}

// Assignment is the current owner of an inbound record, derived from the ledger.
type Assignment struct {
	RecordID       string      `json:"record_id"`
	TransactionKey string      `json:"transaction_key"`
	State          RecordState `json:"state"`
}

// Allocation is one part of a split inbound record.
type Allocation struct {
	ID            string          `json:"id"`
	ParentID      string          `json:"parent_id"`
	Position      int             `json:"position"`
	Amount        decimal.Decimal `json:"amount"`
	LedgerCode    string          `json:"ledger_code"`
	PaymentMethod string          `json:"payment_method"`
	Memo          string          `json:"memo,omitempty"`
	Primary       bool            `json:"primary"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	Supplementary bool            `json:"supplementary"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DuplicateClass separates auto-deletable duplicates from ones that need judgment.
type DuplicateClass string

const (
	DuplicateExact DuplicateClass = "exact"
	DuplicateNear  DuplicateClass = "near"
)

// CandidateStatus tracks operator handling of duplicate candidates and review items.
type CandidateStatus string

const (
	CandidateOpen      CandidateStatus = "open"
	CandidateConfirmed CandidateStatus = "confirmed"
	CandidateDismissed CandidateStatus = "dismissed"
	CandidateRejected  CandidateStatus = "rejected"
)

// DuplicateCandidate is an advisory pairing of two near-identical records.
// RecordB is the later-dated record of the pair; same-day pairs are ordered
// by ingestion time.
type DuplicateCandidate struct {
	ID              string          `json:"id"`
	RecordA         string          `json:"record_a"`
	RecordB         string          `json:"record_b"`
	Confidence      float64         `json:"confidence"`
	Classification  DuplicateClass  `json:"classification"`
	PossibleRepeat  bool            `json:"possible_repeat"`
	RecommendDelete bool            `json:"recommend_delete"`
	Status          CandidateStatus `json:"status"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	DetectedAt      time.Time       `json:"detected_at"`
}

// ReviewItem is a record waiting for a human decision.
// SuggestedKey is empty when no strategy produced a candidate.
type ReviewItem struct {
	ID           string          `json:"id"`
	RecordID     string          `json:"record_id"`
	SuggestedKey string          `json:"suggested_key,omitempty"`
	Confidence   int             `json:"confidence"`
	Strategy     string          `json:"strategy,omitempty"`
	Reason       string          `json:"reason"`
	Status       CandidateStatus `json:"status"`
	ResolvedBy   string          `json:"resolved_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

// MismatchKind classifies a balance divergence for the operator.
type MismatchKind string

const (
	MismatchUnderpaid        MismatchKind = "underpaid_drift"
	MismatchOverpaid         MismatchKind = "overpaid_drift"
	MismatchZeroDueWithMoney MismatchKind = "zero_due_with_payment"
)

// BalanceMismatch reports a charter whose stored balance disagrees with the ledger.
type BalanceMismatch struct {
	TransactionKey string          `json:"transaction_key"`
	DueAmount      decimal.Decimal `json:"due_amount"`
	Stored         decimal.Decimal `json:"stored"`
	Recomputed     decimal.Decimal `json:"recomputed"`
	Difference     decimal.Decimal `json:"difference"`
	Kind           MismatchKind    `json:"kind"`
	Reason         string          `json:"reason"`
}

// QuarantinedRecord keeps a raw record that failed normalization.
type QuarantinedRecord struct {
	ID            int64     `json:"id"`
	Source        FeedType  `json:"source"`
	RawJSON       string    `json:"raw_json"`
	Field         string    `json:"field"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}
