package dto

import (
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/application/service"
	"github.com/eshaffer321/charter-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ReviewListResponse is returned when listing review items.
type ReviewListResponse struct {
	Items []model.ReviewItem `json:"items"`
	Count int                `json:"count"`
}

// DuplicateListResponse is returned when listing duplicate candidates.
type DuplicateListResponse struct {
	Candidates []model.DuplicateCandidate `json:"candidates"`
	Count      int                        `json:"count"`
}

// LinkHistoryResponse holds a record's ledger entries, oldest first.
type LinkHistoryResponse struct {
	RecordID string            `json:"record_id"`
	Entries  []model.LinkEntry `json:"entries"`
}

// AllocationListResponse holds a record's allocations in position order.
type AllocationListResponse struct {
	RecordID    string             `json:"record_id"`
	Allocations []model.Allocation `json:"allocations"`
}

// BatchJobResponse wraps a background batch job.
type BatchJobResponse struct {
	Job service.BatchJob `json:"job"`
}

// BatchJobListResponse is returned when listing batch jobs.
type BatchJobListResponse struct {
	Jobs  []service.BatchJob `json:"jobs"`
	Count int                `json:"count"`
}

// BatchRunListResponse lists persisted batch runs.
type BatchRunListResponse struct {
	Runs  []storage.BatchRun `json:"runs"`
	Count int                `json:"count"`
}

// MismatchListResponse is returned by the balance check.
type MismatchListResponse struct {
	Mismatches []model.BalanceMismatch `json:"mismatches"`
	Count      int                     `json:"count"`
}

// DriftResponse lists records whose materialized state diverges from the ledger.
type DriftResponse struct {
	Drift []ledger.Drift `json:"drift"`
	Count int            `json:"count"`
}
