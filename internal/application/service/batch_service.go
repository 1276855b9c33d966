// Package service runs reconciliation batches in the background for the
// HTTP API and tracks them as jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eshaffer321/charter-reconcile/internal/application/reconcile"
)

// JobStatus represents the current state of a batch job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Job staleness thresholds
const (
	// DefaultJobStaleThreshold is how long a job can go without progress updates
	// before being considered stale.
	DefaultJobStaleThreshold = 30 * time.Minute

	// DefaultJobMaxDuration is the maximum time a job can run before being
	// forcefully marked as failed.
	DefaultJobMaxDuration = 2 * time.Hour
)

// ErrBatchRunning is returned when a batch is already in progress.
var ErrBatchRunning = errors.New("batch already running")

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Runner executes one batch. reconcile.Service implements it.
type Runner interface {
	Run(ctx context.Context, opts reconcile.RunOptions) (*reconcile.BatchSummary, error)
}

// JobProgress holds the phase of a job.
type JobProgress struct {
	CurrentPhase string    `json:"current_phase"` // "pending", "running", "completed", "failed", "cancelled"
	LastUpdate   time.Time `json:"last_update"`
}

// BatchJob represents a running or completed batch.
type BatchJob struct {
	ID          string                  `json:"id"`
	Status      JobStatus               `json:"status"`
	Actor       string                  `json:"actor"`
	RecordCount int                     `json:"record_count"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Progress    JobProgress             `json:"progress"`
	Summary     *reconcile.BatchSummary `json:"summary,omitempty"`
	Error       string                  `json:"error,omitempty"`

	opts       reconcile.RunOptions
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// BatchService manages background batches. Only one batch runs at a time;
// the ledger's per-charter lock already makes overlapping batches safe, but
// they would race for the same records and double the review churn.
type BatchService struct {
	runner Runner
	logger *slog.Logger

	// Job management
	jobs      map[string]*BatchJob
	jobsMutex sync.RWMutex

	// Single runner
	runLock sync.Mutex

	// Background cleanup
	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewBatchService creates a new batch service.
func NewBatchService(runner Runner, logger *slog.Logger) *BatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchService{
		runner: runner,
		logger: logger,
		jobs:   make(map[string]*BatchJob),
	}
}

// StartBatch starts a new batch job asynchronously.
// The passed context is NOT used as the parent for the background job, so
// the job survives the HTTP request. Use CancelBatch to cancel it.
func (s *BatchService) StartBatch(_ context.Context, opts reconcile.RunOptions) (*BatchJob, error) {
	if s.runner == nil {
		return nil, errors.New("no batch runner configured")
	}
	if !s.runLock.TryLock() {
		return nil, ErrBatchRunning
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &BatchJob{
		ID:          s.generateJobID(),
		Status:      StatusPending,
		Actor:       opts.Actor,
		RecordCount: len(opts.Records),
		StartedAt:   now,
		Progress:    JobProgress{CurrentPhase: "pending", LastUpdate: now},
		opts:        opts,
		cancelFunc:  cancel,
		done:        make(chan struct{}),
	}

	s.jobsMutex.Lock()
	s.jobs[job.ID] = job
	s.jobsMutex.Unlock()

	go s.runJob(jobCtx, job)

	s.logger.Info("batch job started",
		"job_id", job.ID,
		"records", job.RecordCount,
		"actor", opts.Actor,
	)

	snapshot := s.snapshot(job)
	return &snapshot, nil
}

// GetBatch retrieves a job by ID.
func (s *BatchService) GetBatch(jobID string) (*BatchJob, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	snapshot := s.snapshot(job)
	return &snapshot, nil
}

// ListBatches returns all jobs, newest first.
func (s *BatchService) ListBatches() []BatchJob {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	jobs := make([]BatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, s.snapshot(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}

// CancelBatch cancels a running job. The batch stops scheduling new records;
// records already in flight finish.
func (s *BatchService) CancelBatch(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if job.Status != StatusPending && job.Status != StatusRunning {
		return fmt.Errorf("job cannot be cancelled: status=%s", job.Status)
	}

	job.cancelFunc()
	job.Status = StatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	job.Progress.CurrentPhase = "cancelled"
	job.Progress.LastUpdate = now

	s.logger.Info("batch job cancelled", "job_id", jobID)
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (s *BatchService) Wait(ctx context.Context, jobID string) (*BatchJob, error) {
	s.jobsMutex.RLock()
	job, exists := s.jobs[jobID]
	s.jobsMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	select {
	case <-job.done:
		return s.GetBatch(jobID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runJob executes the batch in a background goroutine.
func (s *BatchService) runJob(ctx context.Context, job *BatchJob) {
	defer close(job.done)
	defer s.runLock.Unlock()

	s.updateJobStatus(job.ID, StatusRunning, "running")

	summary, err := s.runner.Run(ctx, job.opts)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Already marked as cancelled in CancelBatch
			return
		}
		s.failJob(job.ID, err)
		return
	}

	s.completeJob(job.ID, summary)
}

// updateJobStatus updates a job's status and phase.
func (s *BatchService) updateJobStatus(jobID string, status JobStatus, phase string) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status != StatusCancelled {
		job.Status = status
		job.Progress = JobProgress{CurrentPhase: phase, LastUpdate: time.Now()}
	}
}

// completeJob records the summary. A cancelled job keeps its status but
// still gets the partial summary.
func (s *BatchService) completeJob(jobID string, summary *reconcile.BatchSummary) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return
	}
	job.Summary = summary
	if job.Status == StatusCancelled || job.Status == StatusFailed {
		return
	}

	now := time.Now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.Progress = JobProgress{CurrentPhase: "completed", LastUpdate: now}
	s.logger.Info("batch job completed",
		"job_id", jobID,
		"run_id", summary.RunID,
		"auto_matched", summary.AutoMatched,
		"queued_for_review", summary.QueuedForReview,
		"errored", summary.Errored,
	)
}

// failJob marks a job as failed with an error.
func (s *BatchService) failJob(jobID string, err error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		now := time.Now()
		job.Status = StatusFailed
		job.CompletedAt = &now
		job.Error = err.Error()
		job.Progress = JobProgress{CurrentPhase: "failed", LastUpdate: now}
		s.logger.Error("batch job failed", "job_id", jobID, "error", err)
	}
}

// snapshot copies a job for callers. Must hold jobsMutex.
func (s *BatchService) snapshot(job *BatchJob) BatchJob {
	copied := *job
	copied.cancelFunc = nil
	copied.done = nil
	copied.opts = reconcile.RunOptions{}
	return copied
}

// generateJobID creates a unique job ID.
func (s *BatchService) generateJobID() string {
	return fmt.Sprintf("batch-%d", time.Now().UnixNano())
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (s *BatchService) CleanupOldJobs(maxAge time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, job := range s.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(s.jobs, id)
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up old batch jobs", "removed", removed)
	}

	return removed
}

// MarkStaleJobsAsFailed finds jobs that appear to be stuck and marks them as failed.
// A job is considered stale if:
// 1. It has been running longer than maxDuration, OR
// 2. Its Progress.LastUpdate is older than staleThreshold
func (s *BatchService) MarkStaleJobsAsFailed(staleThreshold, maxDuration time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	now := time.Now()
	marked := 0

	for id, job := range s.jobs {
		if job.Status != StatusRunning && job.Status != StatusPending {
			continue
		}

		reason := staleReason(job, now, staleThreshold, maxDuration)
		if reason == "" {
			continue
		}

		if job.cancelFunc != nil {
			job.cancelFunc()
		}

		job.Status = StatusFailed
		job.CompletedAt = &now
		job.Error = "job marked as stale: " + reason
		job.Progress.CurrentPhase = "failed"
		job.Progress.LastUpdate = now

		s.logger.Warn("marked stale job as failed",
			"job_id", id,
			"reason", reason,
			"started_at", job.StartedAt,
		)
		marked++
	}

	return marked
}

// IsJobStale checks if a specific job is considered stale.
func (s *BatchService) IsJobStale(jobID string, staleThreshold, maxDuration time.Duration) bool {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return false
	}

	if job.Status != StatusRunning && job.Status != StatusPending {
		return false
	}
	return staleReason(job, time.Now(), staleThreshold, maxDuration) != ""
}

func staleReason(job *BatchJob, now time.Time, staleThreshold, maxDuration time.Duration) string {
	if now.Sub(job.StartedAt) > maxDuration {
		return fmt.Sprintf("exceeded max duration of %v (started %v ago)", maxDuration, now.Sub(job.StartedAt).Round(time.Second))
	}
	if now.Sub(job.Progress.LastUpdate) > staleThreshold {
		return fmt.Sprintf("no progress update for %v (threshold: %v)", now.Sub(job.Progress.LastUpdate).Round(time.Second), staleThreshold)
	}
	return ""
}

// StartBackgroundCleanup starts a background goroutine that periodically
// marks stale jobs as failed and removes old finished jobs.
// Call StopBackgroundCleanup to stop it.
func (s *BatchService) StartBackgroundCleanup(checkInterval time.Duration) {
	s.cleanupStop = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go func() {
		defer close(s.cleanupDone)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		s.logger.Info("background job cleanup started",
			"check_interval", checkInterval,
			"stale_threshold", DefaultJobStaleThreshold,
			"max_duration", DefaultJobMaxDuration,
		)

		for {
			select {
			case <-s.cleanupStop:
				s.logger.Info("background job cleanup stopped")
				return
			case <-ticker.C:
				if marked := s.MarkStaleJobsAsFailed(DefaultJobStaleThreshold, DefaultJobMaxDuration); marked > 0 {
					s.logger.Info("marked stale jobs as failed", "count", marked)
				}
				// Keep finished jobs for 24 hours
				s.CleanupOldJobs(24 * time.Hour)
			}
		}
	}()
}

// StopBackgroundCleanup stops the background cleanup goroutine.
// This method blocks until the cleanup goroutine has fully stopped.
func (s *BatchService) StopBackgroundCleanup() {
	if s.cleanupStop == nil {
		return
	}

	close(s.cleanupStop)
	<-s.cleanupDone
}
