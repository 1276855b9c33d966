package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/charter-reconcile/internal/domain/duplicates"
	"github.com/eshaffer321/charter-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
	"github.com/eshaffer321/charter-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/charter-reconcile/internal/infrastructure/storage"
)

// RunOptions configures one batch
type RunOptions struct {
	Records []normalizer.RawRecord // Ingested before matching (optional)
	Actor   string                 // Recorded on auto links (default: system)
	Timeout time.Duration          // Overrides the configured batch timeout
	Workers int                    // Overrides the configured worker count
}

// BatchSummary is the outcome of one batch
type BatchSummary struct {
	RunID int64 `json:"run_id"`
	storage.BatchCounts
	Ingested   *IngestResult `json:"ingested,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Errors     []string      `json:"errors,omitempty"`
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeQueued
	outcomeAlreadyLinked
)

// Run ingests the optional rows, then tries to match every unmatched
// record from a match feed. It never links a record twice: re-running a
// batch over the same input writes no new ledger entries.
//
// When the timeout fires, records not yet started are left unmatched and
// counted as unprocessed; records already in flight finish.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*BatchSummary, error) {
	started := s.now()
	actor := opts.Actor
	if actor == "" {
		actor = SystemActor
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.config.BatchTimeout
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = s.config.Workers
	}

	summary := &BatchSummary{}

	// Start batch run
	runID, err := s.repo.StartBatchRun(ctx)
	if err != nil {
		s.logger.Warn("Failed to start batch run tracking", "error", err)
	}
	summary.RunID = runID
	logger := s.logger.With("run_id", runID)

	// 1. Ingest
	if len(opts.Records) > 0 {
		ingested, err := s.Ingest(ctx, opts.Records)
		if err != nil {
			s.failRun(ctx, runID, summary)
			return nil, fmt.Errorf("ingest failed: %w", err)
		}
		summary.Ingested = ingested
		summary.Quarantined = ingested.Quarantined
	}

	// 2. Snapshot records, charters and parties
	pending, all, charters, parties, err := s.snapshot(ctx)
	if err != nil {
		s.failRun(ctx, runID, summary)
		return nil, err
	}

	// 3. Duplicate detection; flagged records are held out of matching
	flagged, err := s.detectDuplicates(ctx, all)
	if err != nil {
		s.failRun(ctx, runID, summary)
		return nil, err
	}

	m, err := matcher.NewMatcher(s.config.Matcher, matcher.NewDirectory(parties))
	if err != nil {
		s.failRun(ctx, runID, summary)
		return nil, err
	}

	var work []model.InboundRecord
	for _, rec := range pending {
		if !s.matchable(rec.Source) {
			continue
		}
		summary.RecordsTotal++
		if flagged[rec.ID] {
			summary.DuplicateFlagged++
			continue
		}
		work = append(work, rec)
	}

	logger.Info("Starting batch",
		"records", summary.RecordsTotal,
		"duplicate_flagged", summary.DuplicateFlagged,
		"open_charters", len(charters),
		"workers", workers,
		"timeout", timeout,
	)

	// 4. Match, score and apply
	runCtx, cancel := context.WithDeadline(ctx, started.Add(timeout))
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)

	for i, rec := range work {
		rec := rec
		if runCtx.Err() != nil {
			mu.Lock()
			summary.Unprocessed += len(work) - i
			summary.TimedOut = true
			mu.Unlock()
			break
		}

		g.Go(func() error {
			// In-flight records are not interrupted by the batch timeout
			out, err := s.processRecord(context.WithoutCancel(runCtx), m, rec, charters, actor)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Failed to process record", "record_id", rec.ID, "error", err)
				summary.Errored++
				summary.Errors = append(summary.Errors, fmt.Sprintf("record %s (%s, %s): %v",
					rec.ID, rec.OccurredOn.Format(model.DateLayout), rec.Amount.StringFixed(2), err))
				return nil
			}
			switch out {
			case outcomeApplied:
				summary.AutoMatched++
			case outcomeQueued:
				summary.QueuedForReview++
			case outcomeAlreadyLinked:
				summary.AlreadyLinked++
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.TimedOut {
		logger.Warn("Batch timed out", "unprocessed", summary.Unprocessed)
	}

	// Complete batch run
	status := storage.BatchCompleted
	if summary.TimedOut {
		status = storage.BatchTimedOut
	}
	summary.DurationMs = s.now().Sub(started).Milliseconds()
	if runID != 0 {
		if err := s.repo.CompleteBatchRun(context.WithoutCancel(ctx), runID, summary.BatchCounts, status); err != nil {
			logger.Warn("Failed to complete batch run tracking", "error", err)
		}
	}

	logger.Info("Batch finished",
		"status", status,
		"auto_matched", summary.AutoMatched,
		"queued_for_review", summary.QueuedForReview,
		"already_linked", summary.AlreadyLinked,
		"duplicate_flagged", summary.DuplicateFlagged,
		"quarantined", summary.Quarantined,
		"errored", summary.Errored,
		"unprocessed", summary.Unprocessed,
		"duration_ms", summary.DurationMs,
	)
	return summary, nil
}

func (s *Service) snapshot(ctx context.Context) (pending, all []model.InboundRecord, charters []model.BusinessTransaction, parties []model.Party, err error) {
	if pending, err = s.repo.ListRecords(ctx, storage.RecordFilter{State: model.StateUnmatched}); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to list unmatched records: %w", err)
	}
	if all, err = s.repo.ListRecords(ctx, storage.RecordFilter{}); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to list records: %w", err)
	}
	if charters, err = s.repo.ListTransactions(ctx, true); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to list charters: %w", err)
	}
	if parties, err = s.repo.ListParties(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to list parties: %w", err)
	}
	return pending, all, charters, parties, nil
}

// detectDuplicates records new candidates and returns the ids held out of
// matching. Flags come from the open candidates so a dismissed pair is
// matched normally on the next run.
func (s *Service) detectDuplicates(ctx context.Context, records []model.InboundRecord) (map[string]bool, error) {
	candidates := s.detector.Detect(records)
	inserted, err := s.repo.SaveCandidates(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to save duplicate candidates: %w", err)
	}
	if inserted > 0 {
		sum := duplicates.Summarize(candidates)
		s.logger.Info("Detected duplicate candidates",
			"new", inserted,
			"exact", sum.Exact,
			"near", sum.Near,
			"possible_repeats", sum.PossibleRepeats,
		)
	}

	open, err := s.repo.ListCandidates(ctx, model.CandidateOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate candidates: %w", err)
	}
	return duplicates.FlaggedRecords(open), nil
}

// processRecord matches and scores one record, then either links it or
// queues it for review
func (s *Service) processRecord(ctx context.Context, m *matcher.Matcher, rec model.InboundRecord, charters []model.BusinessTransaction, actor string) (outcome, error) {
	// The materialized state can lag the log; the log decides
	active, err := s.ledger.ActiveLink(ctx, rec.ID)
	if err != nil {
		return 0, err
	}
	if active != nil {
		s.logger.Warn("Record unmatched but linked in ledger",
			"record_id", rec.ID,
			"key", active.TransactionKey,
		)
		return outcomeAlreadyLinked, nil
	}

	match := m.Match(rec, charters)

	decision, err := s.scorer.Score(ctx, rec, match)
	if err != nil {
		return 0, err
	}

	if decision.Action == scorer.ActionApply {
		seen, ok := findCharter(charters, match.TransactionKey)
		if !ok {
			return 0, fmt.Errorf("matched charter %s not in snapshot: %w", match.TransactionKey, model.ErrNotFound)
		}
		_, err := s.ledger.AppendAutoLink(ctx, rec.ID, seen, decision.Confidence, match.Strategy, actor)
		switch {
		case err == nil:
			return outcomeApplied, nil
		case errors.Is(err, model.ErrAlreadyLinked):
			return outcomeAlreadyLinked, nil
		case errors.Is(err, model.ErrStaleMatch):
			// The charter moved since the snapshot
			decision.Action = scorer.ActionReview
			decision.Reason = fmt.Sprintf("%s; not applied: %v", decision.Reason, err)
		default:
			return 0, err
		}
	}

	if _, err := s.queue.Enqueue(ctx, rec.ID, decision); err != nil {
		return 0, err
	}
	s.logger.Debug("Queued record for review",
		"record_id", rec.ID,
		"confidence", decision.Confidence,
		"reason", decision.Reason,
	)
	return outcomeQueued, nil
}

func findCharter(charters []model.BusinessTransaction, key string) (model.BusinessTransaction, bool) {
	for _, c := range charters {
		if c.Key == key {
			return c, true
		}
	}
	return model.BusinessTransaction{}, false
}

func (s *Service) failRun(ctx context.Context, runID int64, summary *BatchSummary) {
	if runID == 0 {
		return
	}
	if err := s.repo.CompleteBatchRun(context.WithoutCancel(ctx), runID, summary.BatchCounts, storage.BatchFailed); err != nil {
		s.logger.Warn("Failed to complete batch run tracking", "error", err)
	}
}
